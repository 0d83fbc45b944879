// Package normalizer maps heterogeneous call-lifecycle webhook bodies into
// a canonical Event.
package normalizer

import (
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/fieldpath"
)

// Normalize extracts an Event from body. It never fails: malformed or
// missing substructures become absent fields. The event may be wrapped
// under "message" or sit at the root; the wrapper is searched first.
func Normalize(body map[string]any) Event {
	scopes := []map[string]any{body}
	if msg, ok := body["message"].(map[string]any); ok && len(msg) > 0 {
		scopes = []map[string]any{msg, body}
	}

	n := lookup{scopes: scopes}

	ev := Event{Type: EventTypeUnknown}
	if raw := n.str(FieldType); raw != nil {
		ev.RawType = raw
		ev.Type = ParseEventType(*raw)
	}

	ev.CallID = n.str(FieldCallID)
	ev.StartedAt = n.str(FieldStartedAt)
	ev.EndedAt = n.str(FieldEndedAt)
	ev.DurationSeconds = n.float(FieldDurationSeconds)
	ev.DurationMinutes = n.float(FieldDurationMinutes)
	ev.DurationMs = n.float(FieldDurationMs)
	ev.EndedReason = n.str(FieldEndedReason)

	ev.CustomerNumber = n.str(FieldCustomerNumber)
	ev.CustomerName = n.str(FieldCustomerName)
	ev.CustomerMetadata = n.obj(FieldCustomerMetadata)

	ev.Summary = n.str(FieldSummary)
	ev.SuccessEvaluation = n.value(FieldSuccessEvaluation)
	ev.Score = n.float(FieldScore)

	ev.Transcript = n.str(FieldTranscript)
	ev.RecordingURL = n.str(FieldRecordingURL)
	ev.StereoRecordingURL = n.str(FieldStereoRecordingURL)
	ev.StructuredOutputs = n.obj(FieldStructuredOutputs)
	ev.Cost = n.float(FieldCost)

	deriveDurations(&ev)
	return ev
}

type lookup struct {
	scopes []map[string]any
}

func (l lookup) str(f Field) *string {
	for _, scope := range l.scopes {
		if s, ok := fieldpath.String(scope, Paths[f]...); ok {
			return &s
		}
	}
	return nil
}

func (l lookup) float(f Field) *float64 {
	for _, scope := range l.scopes {
		if v, ok := fieldpath.Float(scope, Paths[f]...); ok {
			return &v
		}
	}
	return nil
}

func (l lookup) obj(f Field) map[string]any {
	for _, scope := range l.scopes {
		if m, ok := fieldpath.Map(scope, Paths[f]...); ok {
			return copyMap(m)
		}
	}
	return nil
}

func (l lookup) value(f Field) any {
	for _, scope := range l.scopes {
		if v, ok := fieldpath.First(scope, Paths[f]...); ok {
			if s, isStr := v.(string); isStr {
				str, _ := fieldpath.AsString(s)
				return str
			}
			return v
		}
	}
	return nil
}

// copyMap detaches the event from the caller's body so later mutation of
// either side cannot leak into the other.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// deriveDurations fills the missing duration units from whichever one is
// present, or from startedAt/endedAt when no duration was reported.
func deriveDurations(ev *Event) {
	var seconds float64
	switch {
	case ev.DurationSeconds != nil:
		seconds = *ev.DurationSeconds
	case ev.DurationMs != nil:
		seconds = *ev.DurationMs / 1000
	case ev.DurationMinutes != nil:
		seconds = *ev.DurationMinutes * 60
	default:
		d, ok := span(ev.StartedAt, ev.EndedAt)
		if !ok {
			return
		}
		seconds = d.Seconds()
	}

	if ev.DurationSeconds == nil {
		ev.DurationSeconds = &seconds
	}
	if ev.DurationMinutes == nil {
		minutes := seconds / 60
		ev.DurationMinutes = &minutes
	}
	if ev.DurationMs == nil {
		ms := seconds * 1000
		ev.DurationMs = &ms
	}
}

func span(startedAt, endedAt *string) (time.Duration, bool) {
	if startedAt == nil || endedAt == nil {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339Nano, *startedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339Nano, *endedAt)
	if err != nil || end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}
