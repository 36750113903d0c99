package dto

// AlertPayload is the inbound alert webhook body
type AlertPayload struct {
	// DeliveryID is the sender's unique delivery identifier, used for
	// de-duplication across retries of the same delivery
	DeliveryID string `json:"delivery_id" validate:"required,max=128" doc:"Sender's unique delivery identifier"`

	Severity string `json:"severity" validate:"required,oneof=info warning critical" doc:"Alert severity" enum:"info,warning,critical"`

	Title string `json:"title" validate:"required,max=256" doc:"Short alert title"`

	Description string `json:"description,omitempty" validate:"max=2048" doc:"Longer alert description"`

	// Channel overrides the default relay channel when set
	Channel string `json:"channel,omitempty" validate:"max=64" doc:"Target channel override"`

	Labels map[string]string `json:"labels,omitempty" doc:"Free-form alert labels"`
}

// AlertAck is the response body for an accepted alert
type AlertAck struct {
	AlertID   string `json:"alert_id" doc:"Internal alert identifier"`
	Duplicate bool   `json:"duplicate" doc:"True when this delivery was already processed"`
}

// RelayInput is the huma input for the webhook relay endpoint
type RelayInput struct {
	Source string       `path:"source" maxLength:"64" doc:"Alert source name"`
	Token  string       `header:"X-Warden-Token" doc:"Shared webhook token"`
	Body   AlertPayload `required:"true"`
}

// RelayOutput is the huma output for the webhook relay endpoint
type RelayOutput struct {
	Status int
	Body   AlertAck
}
