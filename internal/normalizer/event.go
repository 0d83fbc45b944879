package normalizer

// EventType classifies an inbound call-lifecycle notification.
type EventType string

const (
	EventTypeStatusUpdate    EventType = "status-update"
	EventTypeEndOfCallReport EventType = "end-of-call-report"
	EventTypeUnknown         EventType = "unknown"
)

// Terminal reports whether t is the authoritative final report of a call.
func (t EventType) Terminal() bool {
	return t == EventTypeEndOfCallReport
}

func ParseEventType(raw string) EventType {
	switch EventType(raw) {
	case EventTypeStatusUpdate, EventTypeEndOfCallReport:
		return EventType(raw)
	default:
		return EventTypeUnknown
	}
}

// Event is the canonical snapshot of one inbound message. Every field is
// optional: nil means the message carried no information for it.
type Event struct {
	Type    EventType `json:"eventType"`
	RawType *string   `json:"rawType,omitempty"`
	CallID  *string   `json:"callId,omitempty"`

	StartedAt       *string  `json:"startedAt,omitempty"`
	EndedAt         *string  `json:"endedAt,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	DurationMinutes *float64 `json:"durationMinutes,omitempty"`
	DurationMs      *float64 `json:"durationMs,omitempty"`
	EndedReason     *string  `json:"endedReason,omitempty"`

	CustomerNumber   *string        `json:"customerNumber,omitempty"`
	CustomerName     *string        `json:"customerName,omitempty"`
	CustomerMetadata map[string]any `json:"customerMetadata,omitempty"`

	Summary           *string  `json:"summary,omitempty"`
	SuccessEvaluation any      `json:"successEvaluation,omitempty"`
	Score             *float64 `json:"score,omitempty"`

	Transcript         *string        `json:"transcript,omitempty"`
	RecordingURL       *string        `json:"recordingUrl,omitempty"`
	StereoRecordingURL *string        `json:"stereoRecordingUrl,omitempty"`
	StructuredOutputs  map[string]any `json:"structuredOutputs,omitempty"`
	Cost               *float64       `json:"cost,omitempty"`
}

func (e Event) ID() string {
	if e.CallID == nil {
		return ""
	}
	return *e.CallID
}

func (e Event) Number() string {
	if e.CustomerNumber == nil {
		return ""
	}
	return *e.CustomerNumber
}

// Merge folds b into a. A non-empty field of b overwrites a's; an absent
// field of b never clears a's. Map fields are merged key by key. The event
// type is always b's. Durations still missing after the fold are derived
// again, since start and end may arrive on different events.
func Merge(a, b Event) Event {
	out := a
	out.Type = b.Type

	mergeString(&out.RawType, b.RawType)
	mergeString(&out.CallID, b.CallID)
	mergeString(&out.StartedAt, b.StartedAt)
	mergeString(&out.EndedAt, b.EndedAt)
	mergeFloat(&out.DurationSeconds, b.DurationSeconds)
	mergeFloat(&out.DurationMinutes, b.DurationMinutes)
	mergeFloat(&out.DurationMs, b.DurationMs)
	mergeString(&out.EndedReason, b.EndedReason)
	mergeString(&out.CustomerNumber, b.CustomerNumber)
	mergeString(&out.CustomerName, b.CustomerName)
	out.CustomerMetadata = mergeMap(a.CustomerMetadata, b.CustomerMetadata)
	mergeString(&out.Summary, b.Summary)
	if b.SuccessEvaluation != nil {
		out.SuccessEvaluation = b.SuccessEvaluation
	}
	mergeFloat(&out.Score, b.Score)
	mergeString(&out.Transcript, b.Transcript)
	mergeString(&out.RecordingURL, b.RecordingURL)
	mergeString(&out.StereoRecordingURL, b.StereoRecordingURL)
	out.StructuredOutputs = mergeMap(a.StructuredOutputs, b.StructuredOutputs)
	mergeFloat(&out.Cost, b.Cost)

	deriveDurations(&out)
	return out
}

func mergeString(dst **string, src *string) {
	if src != nil && *src != "" {
		v := *src
		*dst = &v
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeMap(a, b map[string]any) map[string]any {
	if len(b) == 0 {
		return a
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
