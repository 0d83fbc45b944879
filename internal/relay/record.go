package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/enrichment"
)

// Record is the consolidated call document posted downstream. Absent values
// are encoded as null so the shape is stable for consumers.
type Record struct {
	EventType          string             `json:"eventType"`
	Call               CallInfo           `json:"call"`
	Customer           CustomerInfo       `json:"customer"`
	PhoneEnrichment    *enrichment.Result `json:"phoneEnrichment"`
	Analysis           AnalysisInfo       `json:"analysis"`
	Transcript         *string            `json:"transcript"`
	RecordingURL       *string            `json:"recordingUrl"`
	StereoRecordingURL *string            `json:"stereoRecordingUrl"`
	StructuredOutputs  map[string]any     `json:"structuredOutputs"`
	Relay              RelayInfo          `json:"relay"`
}

type CallInfo struct {
	ID              *string  `json:"id"`
	StartedAt       *string  `json:"startedAt"`
	EndedAt         *string  `json:"endedAt"`
	EndedReason     *string  `json:"endedReason"`
	DurationSeconds *float64 `json:"durationSeconds"`
	DurationMinutes *float64 `json:"durationMinutes"`
	DurationMs      *float64 `json:"durationMs"`
	Cost            *float64 `json:"cost"`
}

type CustomerInfo struct {
	Number   *string        `json:"number"`
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

type AnalysisInfo struct {
	Summary           *string  `json:"summary"`
	SuccessEvaluation any      `json:"successEvaluation"`
	Score             *float64 `json:"score"`
}

type RelayInfo struct {
	FlushReason  string    `json:"flushReason"`
	EventCount   int       `json:"eventCount"`
	FirstEventAt time.Time `json:"firstEventAt"`
	LastEventAt  time.Time `json:"lastEventAt"`
	FlushedAt    time.Time `json:"flushedAt"`
}

// BuildRecord shapes a flushed call and its optional enrichment into the
// outbound record.
func BuildRecord(f aggregator.Flush, enriched *enrichment.Result, flushedAt time.Time) Record {
	ev := f.Event
	return Record{
		EventType: string(ev.Type),
		Call: CallInfo{
			ID:              ev.CallID,
			StartedAt:       ev.StartedAt,
			EndedAt:         ev.EndedAt,
			EndedReason:     ev.EndedReason,
			DurationSeconds: ev.DurationSeconds,
			DurationMinutes: ev.DurationMinutes,
			DurationMs:      ev.DurationMs,
			Cost:            ev.Cost,
		},
		Customer: CustomerInfo{
			Number:   ev.CustomerNumber,
			Name:     ev.CustomerName,
			Metadata: ev.CustomerMetadata,
		},
		PhoneEnrichment: enriched,
		Analysis: AnalysisInfo{
			Summary:           ev.Summary,
			SuccessEvaluation: ev.SuccessEvaluation,
			Score:             ev.Score,
		},
		Transcript:         ev.Transcript,
		RecordingURL:       ev.RecordingURL,
		StereoRecordingURL: ev.StereoRecordingURL,
		StructuredOutputs:  ev.StructuredOutputs,
		Relay: RelayInfo{
			FlushReason:  f.Reason,
			EventCount:   f.EventCount,
			FirstEventAt: f.FirstEventAt,
			LastEventAt:  f.LastEventAt,
			FlushedAt:    flushedAt,
		},
	}
}

// AsMap returns the record in its JSON form, as seen by filter expressions
// and the archive.
func (r Record) AsMap() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return out, nil
}
