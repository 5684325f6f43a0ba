package telephony

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensource-finance/kite/internal/domain"
)

// NoOutcome is recorded for outcomes outside the allow-list. It never
// changes case status.
const NoOutcome = "no_outcome"

// Dynamic variables the dispatcher attaches to every call so webhooks can
// be routed back to the tenant and case.
const (
	VarTenantID = "tenant_id"
	VarCaseID   = "case_id"
	VarCallID   = "call_id"
)

// outcomeStatus is the allow-list of call outcomes that move a case.
var outcomeStatus = map[string]domain.CaseStatus{
	"promise_to_pay":      domain.CaseStatusPaymentPlan,
	"payment_plan_agreed": domain.CaseStatusPaymentPlan,
	"paid":                domain.CaseStatusInProgress,
	"payment_made":        domain.CaseStatusInProgress,
	"dispute":             domain.CaseStatusEscalated,
	"refused_to_pay":      domain.CaseStatusEscalated,
	"callback_requested":  domain.CaseStatusContacted,
	"contacted":           domain.CaseStatusContacted,
	"legal_threat":        domain.CaseStatusLegal,
}

// eventStatus maps provider event types to call status.
var eventStatus = map[string]domain.CallStatus{
	"call.initiated":          domain.CallStatusPending,
	"call.started":            domain.CallStatusInProgress,
	"call.in_progress":        domain.CallStatusInProgress,
	"call.completed":          domain.CallStatusCompleted,
	"post_call_transcription": domain.CallStatusCompleted,
	"call.failed":             domain.CallStatusFailed,
	"call.no_answer":          domain.CallStatusFailed,
	"call.busy":               domain.CallStatusFailed,
	"call_initiation_failure": domain.CallStatusFailed,
}

// OutcomeStatus returns the case status for an outcome, normalising the
// outcome to NoOutcome when it is not on the allow-list.
func OutcomeStatus(outcome string) (string, domain.CaseStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(outcome))
	status, ok := outcomeStatus[key]
	if !ok {
		return NoOutcome, "", false
	}
	return key, status, true
}

// EventStatus returns the call status an event type implies.
func EventStatus(eventType string) (domain.CallStatus, bool) {
	s, ok := eventStatus[eventType]
	return s, ok
}

// statusRank orders call statuses; a call never moves to a lower rank.
func statusRank(s domain.CallStatus) int {
	switch s {
	case domain.CallStatusPending:
		return 0
	case domain.CallStatusInProgress:
		return 1
	case domain.CallStatusCompleted, domain.CallStatusFailed:
		return 2
	}
	return -1
}

// Event is a provider webhook delivery.
type Event struct {
	Type           string    `json:"type"`
	EventTimestamp int64     `json:"event_timestamp"`
	Data           EventData `json:"data"`
}

// EventData carries the conversation the event is about.
type EventData struct {
	AgentID        string           `json:"agent_id"`
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status,omitempty"`
	Transcript     []TranscriptTurn `json:"transcript,omitempty"`
	Metadata       CallMetadata     `json:"metadata"`
	Analysis       Analysis         `json:"analysis"`
	ClientData     ClientData       `json:"conversation_initiation_client_data"`
}

// TranscriptTurn is one utterance.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// CallMetadata holds call timing.
type CallMetadata struct {
	StartTimeUnix    int64 `json:"start_time_unix_secs,omitempty"`
	CallDurationSecs int   `json:"call_duration_secs,omitempty"`
}

// Analysis is the provider's post-call evaluation.
type Analysis struct {
	Summary   string `json:"transcript_summary,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// ClientData echoes the variables the call was started with.
type ClientData struct {
	DynamicVariables map[string]any `json:"dynamic_variables,omitempty"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", domain.ErrInvalidInput, err)
	}
	if ev.Type == "" || ev.Data.ConversationID == "" {
		return nil, fmt.Errorf("%w: event type and conversation id are required", domain.ErrInvalidInput)
	}
	return &ev, nil
}

// Var returns a dynamic variable as a string.
func (e *Event) Var(name string) string {
	v, ok := e.Data.ClientData.DynamicVariables[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DedupKey identifies a delivery for duplicate suppression.
func (e *Event) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", e.Data.ConversationID, e.Type, e.EventTimestamp)
}

// TranscriptText flattens the transcript to "role: message" lines.
func (e *Event) TranscriptText() string {
	if len(e.Data.Transcript) == 0 {
		return ""
	}
	var b strings.Builder
	for i, turn := range e.Data.Transcript {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Message)
	}
	return b.String()
}
