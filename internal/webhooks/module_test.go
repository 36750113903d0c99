package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-warden/internal/webhooks/dto"
	"go-warden/pkg/module"
	"go-warden/pkg/store"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSender struct {
	sent int
	err  error
}

func (n *nopSender) Send(ctx context.Context, channel, content string) error {
	if n.err != nil {
		return n.err
	}
	n.sent++
	return nil
}

func testAPI(t *testing.T, sender *nopSender) (*chi.Mux, *Module, *store.TTLMap) {
	t.Helper()
	local := store.NewTTLMap(time.Hour)

	m := NewModule(Config{
		Token:          "hook-secret",
		DefaultChannel: "mod-alerts",
	}, sender, nil, local)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "0.0.0"))
	m.RegisterUnifiedRoutes(api, "")
	return router, m, local
}

func postAlert(router *chi.Mux, token string, payload dto.AlertPayload) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/prometheus", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Warden-Token", token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func alertPayload() dto.AlertPayload {
	return dto.AlertPayload{
		DeliveryID: "d-1",
		Severity:   "warning",
		Title:      "High latency",
	}
}

func TestRelayWebhookAccepted(t *testing.T) {
	sender := &nopSender{}
	router, _, local := testAPI(t, sender)
	defer local.Close()

	w := postAlert(router, "hook-secret", alertPayload())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var ack dto.AlertAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.NotEmpty(t, ack.AlertID)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, 1, sender.sent)
}

func TestRelayWebhookDuplicateReturns200(t *testing.T) {
	sender := &nopSender{}
	router, _, local := testAPI(t, sender)
	defer local.Close()

	require.Equal(t, http.StatusAccepted, postAlert(router, "hook-secret", alertPayload()).Code)

	w := postAlert(router, "hook-secret", alertPayload())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ack dto.AlertAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.True(t, ack.Duplicate)
	assert.Equal(t, 1, sender.sent)
}

func TestRelayWebhookBadToken(t *testing.T) {
	sender := &nopSender{}
	router, _, local := testAPI(t, sender)
	defer local.Close()

	assert.Equal(t, http.StatusUnauthorized, postAlert(router, "wrong", alertPayload()).Code)
	assert.Equal(t, http.StatusUnauthorized, postAlert(router, "", alertPayload()).Code)
	assert.Equal(t, 0, sender.sent)
}

func TestRelayWebhookInvalidPayload(t *testing.T) {
	sender := &nopSender{}
	router, _, local := testAPI(t, sender)
	defer local.Close()

	payload := alertPayload()
	payload.Severity = "catastrophic"

	w := postAlert(router, "hook-secret", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, 0, sender.sent)
}

func TestInitializeRequiresConfig(t *testing.T) {
	local := store.NewTTLMap(time.Hour)
	defer local.Close()

	m := NewModule(Config{DefaultChannel: "mod-alerts"}, &nopSender{}, nil, local)
	assert.Error(t, m.Initialize(context.Background(), module.Config{Enabled: true}))

	m = NewModule(Config{Token: "t"}, &nopSender{}, nil, local)
	assert.Error(t, m.Initialize(context.Background(), module.Config{Enabled: true}))

	m = NewModule(Config{Token: "t", DefaultChannel: "mod-alerts"}, &nopSender{}, nil, local)
	assert.NoError(t, m.Initialize(context.Background(), module.Config{Enabled: true}))
}

func TestHealthDegradedAfterRelayFailure(t *testing.T) {
	local := store.NewTTLMap(time.Hour)
	defer local.Close()

	sender := &nopSender{err: context.DeadlineExceeded}
	m := NewModule(Config{Token: "t", DefaultChannel: "mod-alerts"}, sender, nil, local)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "0.0.0"))
	m.RegisterUnifiedRoutes(api, "")

	w := postAlert(router, "t", alertPayload())
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	health := m.Health(context.Background())
	assert.Equal(t, module.StatusDegraded, health.Status)
}
