package normalizer

// Field names a logical attribute of Event.
type Field string

const (
	FieldType               Field = "type"
	FieldCallID             Field = "callId"
	FieldStartedAt          Field = "startedAt"
	FieldEndedAt            Field = "endedAt"
	FieldDurationSeconds    Field = "durationSeconds"
	FieldDurationMinutes    Field = "durationMinutes"
	FieldDurationMs         Field = "durationMs"
	FieldEndedReason        Field = "endedReason"
	FieldCustomerNumber     Field = "customerNumber"
	FieldCustomerName       Field = "customerName"
	FieldCustomerMetadata   Field = "customerMetadata"
	FieldSummary            Field = "summary"
	FieldSuccessEvaluation  Field = "successEvaluation"
	FieldScore              Field = "score"
	FieldTranscript         Field = "transcript"
	FieldRecordingURL       Field = "recordingUrl"
	FieldStereoRecordingURL Field = "stereoRecordingUrl"
	FieldStructuredOutputs  Field = "structuredOutputs"
	FieldCost               Field = "cost"
)

// Paths lists, per field, the candidate locations inside an event body in
// precedence order. The first non-empty value wins.
var Paths = map[Field][]string{
	FieldType: {"type", "eventType", "event_type"},
	FieldCallID: {
		"call.id", "artifact.call.id", "callId", "call_id",
	},
	FieldStartedAt: {
		"startedAt", "call.startedAt", "artifact.call.startedAt", "started_at",
	},
	FieldEndedAt: {
		"endedAt", "call.endedAt", "artifact.call.endedAt", "ended_at",
	},
	FieldDurationSeconds: {
		"durationSeconds", "call.durationSeconds", "artifact.call.durationSeconds", "duration_seconds",
	},
	FieldDurationMinutes: {
		"durationMinutes", "call.durationMinutes", "artifact.call.durationMinutes", "duration_minutes",
	},
	FieldDurationMs: {
		"durationMs", "call.durationMs", "artifact.call.durationMs", "duration_ms",
	},
	FieldEndedReason: {
		"endedReason", "call.endedReason", "artifact.call.endedReason", "ended_reason",
	},
	FieldCustomerNumber: {
		"customer.number",
		"call.customer.number",
		"artifact.call.customer.number",
		"variables.customer.number",
		"variableValues.customer.number",
		"artifact.variables.customer.number",
		"artifact.variableValues.customer.number",
		"customerNumber",
		"customer_number",
		"phoneNumber.number",
		"phoneNumber.twilioPhoneNumber",
	},
	FieldCustomerName: {
		"customer.name",
		"call.customer.name",
		"artifact.call.customer.name",
		"variables.customer.name",
		"variableValues.customer.name",
		"customerName",
	},
	FieldCustomerMetadata: {
		"customer.metadata", "call.customer.metadata", "artifact.call.customer.metadata",
	},
	FieldSummary: {
		"analysis.summary", "summary", "call.analysis.summary", "artifact.call.analysis.summary",
	},
	FieldSuccessEvaluation: {
		"analysis.successEvaluation", "successEvaluation", "call.analysis.successEvaluation",
	},
	FieldScore: {
		"analysis.score", "analysis.structuredData.score", "score",
	},
	FieldTranscript: {
		"transcript", "artifact.transcript", "call.transcript", "artifact.call.transcript",
	},
	FieldRecordingURL: {
		"recordingUrl",
		"artifact.recordingUrl",
		"artifact.recording.mono.combinedUrl",
		"call.recordingUrl",
		"recording_url",
	},
	FieldStereoRecordingURL: {
		"stereoRecordingUrl",
		"artifact.stereoRecordingUrl",
		"artifact.recording.stereoUrl",
		"call.stereoRecordingUrl",
	},
	FieldStructuredOutputs: {
		"artifact.structuredOutputs", "structuredOutputs", "analysis.structuredData", "call.structuredOutputs",
	},
	FieldCost: {
		"cost", "call.cost", "artifact.call.cost",
	},
}
