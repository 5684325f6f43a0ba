package domain

import "context"

// Messenger delivers outbound email and SMS.
type Messenger interface {
	SendEmail(ctx context.Context, msg *EmailMessage) error
	SendSMS(ctx context.Context, msg *SMSMessage) error
	Close() error
}

// EmailMessage is a single outbound email request.
type EmailMessage struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	CaseID     string            `json:"caseId"`
	To         string            `json:"to"`
	TemplateID string            `json:"templateId,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// SMSMessage is a single outbound text message request.
type SMSMessage struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	CaseID     string            `json:"caseId"`
	To         string            `json:"to"`
	TemplateID string            `json:"templateId,omitempty"`
	Message    string            `json:"message,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// VoiceCaller places outbound calls through the voice-agent provider.
type VoiceCaller interface {
	PlaceCall(ctx context.Context, req *CallRequest) (*CallPlacement, error)
}

// CallRequest describes an outbound call.
type CallRequest struct {
	AgentID          string            `json:"agentId"`
	PhoneNumberID    string            `json:"phoneNumberId,omitempty"`
	ToNumber         string            `json:"toNumber"`
	DynamicVariables map[string]string `json:"dynamicVariables,omitempty"`
}

// CallPlacement is the provider's acknowledgement of a placed call.
type CallPlacement struct {
	ExternalID string `json:"externalId"`
}
