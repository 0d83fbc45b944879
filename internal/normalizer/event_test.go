package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestMerge_NonEmptyOverwrites(t *testing.T) {
	a := Event{
		Type:           EventTypeStatusUpdate,
		CallID:         ptr("c2"),
		CustomerNumber: ptr("+15550000000"),
		Summary:        ptr("first"),
	}
	b := Event{
		Type:    EventTypeEndOfCallReport,
		CallID:  ptr("c2"),
		Summary: ptr("ok"),
	}

	got := Merge(a, b)

	assert.Equal(t, EventTypeEndOfCallReport, got.Type)
	assert.Equal(t, "+15550000000", got.Number())
	assert.Equal(t, "ok", *got.Summary)
}

func TestMerge_EmptyNeverBlanks(t *testing.T) {
	a := Event{
		EndedReason:       ptr("completed"),
		Cost:              ptr(1.5),
		SuccessEvaluation: "true",
		Score:             ptr(0.0),
	}
	b := Event{Type: EventTypeUnknown, EndedReason: ptr("")}

	got := Merge(a, b)

	assert.Equal(t, EventTypeUnknown, got.Type)
	assert.Equal(t, "completed", *got.EndedReason)
	assert.Equal(t, 1.5, *got.Cost)
	assert.Equal(t, "true", got.SuccessEvaluation)
	assert.Equal(t, 0.0, *got.Score)
}

func TestMerge_MapsMergeKeyWise(t *testing.T) {
	a := Event{StructuredOutputs: map[string]any{"intent": "demo", "sentiment": "neutral"}}
	b := Event{StructuredOutputs: map[string]any{"sentiment": "positive", "nextStep": "call back"}}

	got := Merge(a, b)

	assert.Equal(t, map[string]any{
		"intent":    "demo",
		"sentiment": "positive",
		"nextStep":  "call back",
	}, got.StructuredOutputs)
	assert.Equal(t, map[string]any{"intent": "demo", "sentiment": "neutral"}, a.StructuredOutputs)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	a := Event{Summary: ptr("a")}
	b := Event{Summary: ptr("b")}

	got := Merge(a, b)
	*b.Summary = "mutated"

	assert.Equal(t, "b", *got.Summary)
}

func TestEventType_Terminal(t *testing.T) {
	assert.True(t, EventTypeEndOfCallReport.Terminal())
	assert.False(t, EventTypeStatusUpdate.Terminal())
	assert.False(t, EventTypeUnknown.Terminal())
}

func TestMerge_DerivesDurationsFromSplitTimestamps(t *testing.T) {
	started := Normalize(map[string]any{
		"type": "status-update",
		"call": map[string]any{"id": "c9", "startedAt": "2024-05-01T10:00:00Z"},
	})
	ended := Normalize(map[string]any{
		"type": "end-of-call-report",
		"call": map[string]any{"id": "c9", "endedAt": "2024-05-01T10:01:30Z"},
	})
	require.Nil(t, started.DurationSeconds)
	require.Nil(t, ended.DurationSeconds)

	got := Merge(started, ended)

	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 90.0, *got.DurationSeconds)
	assert.Equal(t, 1.5, *got.DurationMinutes)
	assert.Equal(t, 90000.0, *got.DurationMs)
}

func TestMerge_ReportedDurationWins(t *testing.T) {
	a := Event{StartedAt: ptr("2024-05-01T10:00:00Z")}
	b := Event{EndedAt: ptr("2024-05-01T10:01:30Z"), DurationSeconds: ptr(88.0)}

	got := Merge(a, b)

	assert.Equal(t, 88.0, *got.DurationSeconds)
	assert.Equal(t, 88000.0, *got.DurationMs)
}
