package routes

import (
	"context"
	"crypto/subtle"
	"errors"

	"go-warden/internal/webhooks/dto"
	"go-warden/internal/webhooks/services"

	"github.com/danielgtaylor/huma/v2"
)

// Routes handles Huma-based HTTP routing for the webhooks module
type Routes struct {
	service *services.Service
	token   string
}

// NewRoutes creates the webhook routes handler. Token is the shared secret
// senders must present in X-Warden-Token.
func NewRoutes(service *services.Service, token string) *Routes {
	return &Routes{service: service, token: token}
}

// RegisterUnifiedRoutes registers webhook routes on the shared Huma API
func (r *Routes) RegisterUnifiedRoutes(api huma.API, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "relay-webhook",
		Method:      "POST",
		Path:        basePath + "/webhooks/{source}",
		Summary:     "Ingest an alert webhook",
		Description: "Validates, de-duplicates and relays an external alert into chat",
		Tags:        []string{"webhooks"},
	}, r.relayWebhook)
}

func (r *Routes) relayWebhook(ctx context.Context, input *dto.RelayInput) (*dto.RelayOutput, error) {
	if subtle.ConstantTimeCompare([]byte(input.Token), []byte(r.token)) != 1 {
		return nil, huma.Error401Unauthorized("invalid webhook token")
	}

	ack, err := r.service.HandleAlert(ctx, input.Source, input.Body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPayload) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error502BadGateway("alert could not be relayed", err)
	}

	status := 202
	if ack.Duplicate {
		status = 200
	}
	return &dto.RelayOutput{
		Status: status,
		Body:   dto.AlertAck{AlertID: ack.AlertID, Duplicate: ack.Duplicate},
	}, nil
}
