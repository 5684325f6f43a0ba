package domain

import "time"

// CallStatus is the lifecycle of an outbound voice call.
type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether no further lifecycle events apply.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// Call tracks one voice-agent call placed for a debt case.
type Call struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenantId"`
	CaseID       string     `json:"caseId"`
	ExternalID   string     `json:"externalId"`
	AgentID      string     `json:"agentId"`
	PhoneNumber  string     `json:"phoneNumber"`
	Status       CallStatus `json:"status"`
	Transcript   string     `json:"transcript,omitempty"`
	Sentiment    string     `json:"sentiment,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	DurationSecs int        `json:"durationSecs,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
