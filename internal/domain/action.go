package domain

import (
	"encoding/json"
	"fmt"
)

// ActionType names an escalation action kind.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendSMS          ActionType = "send_sms"
	ActionVoiceCall        ActionType = "voice_call"
	ActionAssignAgent      ActionType = "assign_agent"
	ActionEscalatePriority ActionType = "escalate_priority"
	ActionAddToCampaign    ActionType = "add_to_campaign"
	ActionCreateDebtCase   ActionType = "create_debt_case"
)

// ActionParams is the payload of one action kind. The set of
// implementations is closed to this package.
type ActionParams interface {
	Kind() ActionType
	Validate() error
	isActionParams()
}

// Action is one step of a rule. Params holds the kind-specific payload.
type Action struct {
	Type   ActionType   `json:"type"`
	Params ActionParams `json:"params"`
}

// NewAction builds a validated action.
func NewAction(params ActionParams) (Action, error) {
	if params == nil {
		return Action{}, fmt.Errorf("%w: action params are required", ErrInvalidInput)
	}
	if err := params.Validate(); err != nil {
		return Action{}, err
	}
	return Action{Type: params.Kind(), Params: params}, nil
}

// Validate checks the action payload.
func (a Action) Validate() error {
	if a.Params == nil {
		return fmt.Errorf("%w: action %q has no params", ErrInvalidInput, a.Type)
	}
	if a.Params.Kind() != a.Type {
		return fmt.Errorf("%w: action type %q does not match params %q", ErrInvalidInput, a.Type, a.Params.Kind())
	}
	return a.Params.Validate()
}

type actionJSON struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON decodes params into the payload type for the action kind.
// Unknown kinds decode into UnknownParams so stored rules still load.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var params ActionParams
	switch raw.Type {
	case ActionSendEmail:
		params = &SendEmailParams{}
	case ActionSendSMS:
		params = &SendSMSParams{}
	case ActionVoiceCall:
		params = &VoiceCallParams{}
	case ActionAssignAgent:
		params = &AssignAgentParams{}
	case ActionEscalatePriority:
		params = &EscalatePriorityParams{}
	case ActionAddToCampaign:
		params = &AddToCampaignParams{}
	case ActionCreateDebtCase:
		params = &CreateDebtCaseParams{}
	default:
		a.Type = raw.Type
		a.Params = &UnknownParams{Type: raw.Type, Raw: raw.Params}
		return nil
	}

	if len(raw.Params) > 0 && string(raw.Params) != "null" {
		if err := json.Unmarshal(raw.Params, params); err != nil {
			return fmt.Errorf("%w: params for %s: %v", ErrInvalidInput, raw.Type, err)
		}
	}

	a.Type = raw.Type
	a.Params = params
	return nil
}

// MarshalJSON keeps the {type, params} shape for every kind.
func (a Action) MarshalJSON() ([]byte, error) {
	if u, ok := a.Params.(*UnknownParams); ok {
		return json.Marshal(actionJSON{Type: a.Type, Params: u.Raw})
	}
	params, err := json.Marshal(a.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionJSON{Type: a.Type, Params: params})
}

// SendEmailParams sends a templated or literal email to the case contact.
type SendEmailParams struct {
	TemplateID string `json:"templateId,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}

func (*SendEmailParams) Kind() ActionType { return ActionSendEmail }
func (*SendEmailParams) isActionParams()  {}

func (p *SendEmailParams) Validate() error {
	if p.TemplateID == "" && p.Body == "" {
		return fmt.Errorf("%w: send_email requires templateId or body", ErrInvalidInput)
	}
	return nil
}

// SendSMSParams sends a templated or literal text message.
type SendSMSParams struct {
	TemplateID string `json:"templateId,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (*SendSMSParams) Kind() ActionType { return ActionSendSMS }
func (*SendSMSParams) isActionParams()  {}

func (p *SendSMSParams) Validate() error {
	if p.TemplateID == "" && p.Message == "" {
		return fmt.Errorf("%w: send_sms requires templateId or message", ErrInvalidInput)
	}
	return nil
}

// VoiceCallParams places an outbound call through a voice agent.
type VoiceCallParams struct {
	AgentID          string            `json:"agentId"`
	PhoneNumberID    string            `json:"phoneNumberId,omitempty"`
	DynamicVariables map[string]string `json:"dynamicVariables,omitempty"`
}

func (*VoiceCallParams) Kind() ActionType { return ActionVoiceCall }
func (*VoiceCallParams) isActionParams()  {}

func (p *VoiceCallParams) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("%w: voice_call requires agentId", ErrInvalidInput)
	}
	return nil
}

// AssignAgentParams assigns the case to a collector.
type AssignAgentParams struct {
	AgentID string `json:"agentId"`
}

func (*AssignAgentParams) Kind() ActionType { return ActionAssignAgent }
func (*AssignAgentParams) isActionParams()  {}

func (p *AssignAgentParams) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("%w: assign_agent requires agentId", ErrInvalidInput)
	}
	return nil
}

// EscalatePriorityParams raises case priority. Empty Priority means one level up.
type EscalatePriorityParams struct {
	Priority Priority `json:"priority,omitempty"`
}

func (*EscalatePriorityParams) Kind() ActionType { return ActionEscalatePriority }
func (*EscalatePriorityParams) isActionParams()  {}

func (p *EscalatePriorityParams) Validate() error {
	if p.Priority != "" && !p.Priority.Valid() {
		return fmt.Errorf("%w: escalate_priority has unknown priority %q", ErrInvalidInput, p.Priority)
	}
	return nil
}

// AddToCampaignParams enrolls the case in an outreach campaign.
type AddToCampaignParams struct {
	CampaignID string `json:"campaignId"`
}

func (*AddToCampaignParams) Kind() ActionType { return ActionAddToCampaign }
func (*AddToCampaignParams) isActionParams()  {}

func (p *AddToCampaignParams) Validate() error {
	if p.CampaignID == "" {
		return fmt.Errorf("%w: add_to_campaign requires campaignId", ErrInvalidInput)
	}
	return nil
}

// CreateDebtCaseParams ensures an open case exists for the invoice.
type CreateDebtCaseParams struct {
	Priority Priority `json:"priority,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

func (*CreateDebtCaseParams) Kind() ActionType { return ActionCreateDebtCase }
func (*CreateDebtCaseParams) isActionParams()  {}

func (p *CreateDebtCaseParams) Validate() error {
	if p.Priority != "" && !p.Priority.Valid() {
		return fmt.Errorf("%w: create_debt_case has unknown priority %q", ErrInvalidInput, p.Priority)
	}
	return nil
}

// UnknownParams carries an action kind this build does not recognise.
type UnknownParams struct {
	Type ActionType
	Raw  json.RawMessage
}

func (p *UnknownParams) Kind() ActionType { return p.Type }
func (*UnknownParams) isActionParams()    {}

func (p *UnknownParams) Validate() error {
	return fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, p.Type)
}
