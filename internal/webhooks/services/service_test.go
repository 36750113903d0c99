package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go-warden/internal/webhooks/dto"
	"go-warden/pkg/store"
)

// fakeSender records relayed messages
type fakeSender struct {
	mu       sync.Mutex
	channels []string
	contents []string
	err      error
}

func (f *fakeSender) Send(ctx context.Context, channel, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.channels = append(f.channels, channel)
	f.contents = append(f.contents, content)
	return nil
}

func validPayload() dto.AlertPayload {
	return dto.AlertPayload{
		DeliveryID:  "delivery-1",
		Severity:    "critical",
		Title:       "Disk almost full",
		Description: "/var is at 95%",
		Labels:      map[string]string{"host": "db-1"},
	}
}

func testService(sender Sender) (*Service, *store.TTLMap) {
	local := store.NewTTLMap(time.Hour)
	return NewService(sender, nil, local, "mod-alerts", time.Hour), local
}

func TestHandleAlertRelays(t *testing.T) {
	sender := &fakeSender{}
	svc, local := testService(sender)
	defer local.Close()

	ack, err := svc.HandleAlert(context.Background(), "prometheus", validPayload())
	if err != nil {
		t.Fatalf("HandleAlert failed: %v", err)
	}
	if ack.Duplicate {
		t.Fatal("first delivery flagged as duplicate")
	}
	if ack.AlertID == "" {
		t.Fatal("ack missing alert ID")
	}

	if len(sender.channels) != 1 || sender.channels[0] != "mod-alerts" {
		t.Fatalf("relayed to %v, want default channel", sender.channels)
	}
	content := sender.contents[0]
	for _, part := range []string{"[CRITICAL]", "prometheus", "Disk almost full", "host=db-1", ack.AlertID} {
		if !strings.Contains(content, part) {
			t.Fatalf("relayed message missing %q:\n%s", part, content)
		}
	}
}

func TestHandleAlertChannelOverride(t *testing.T) {
	sender := &fakeSender{}
	svc, local := testService(sender)
	defer local.Close()

	payload := validPayload()
	payload.Channel = "infra"

	if _, err := svc.HandleAlert(context.Background(), "grafana", payload); err != nil {
		t.Fatalf("HandleAlert failed: %v", err)
	}
	if sender.channels[0] != "infra" {
		t.Fatalf("relayed to %q, want channel override", sender.channels[0])
	}
}

func TestHandleAlertValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*dto.AlertPayload)
	}{
		{"missing delivery ID", func(p *dto.AlertPayload) { p.DeliveryID = "" }},
		{"missing title", func(p *dto.AlertPayload) { p.Title = "" }},
		{"unknown severity", func(p *dto.AlertPayload) { p.Severity = "catastrophic" }},
		{"title too long", func(p *dto.AlertPayload) { p.Title = strings.Repeat("x", 300) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			svc, local := testService(sender)
			defer local.Close()

			payload := validPayload()
			tt.mutate(&payload)

			_, err := svc.HandleAlert(context.Background(), "src", payload)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
			if len(sender.contents) != 0 {
				t.Fatal("invalid payload was relayed")
			}
		})
	}
}

func TestHandleAlertDeduplicates(t *testing.T) {
	sender := &fakeSender{}
	svc, local := testService(sender)
	defer local.Close()

	if _, err := svc.HandleAlert(context.Background(), "prometheus", validPayload()); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	ack, err := svc.HandleAlert(context.Background(), "prometheus", validPayload())
	if err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}
	if !ack.Duplicate {
		t.Fatal("repeat delivery not flagged as duplicate")
	}
	if len(sender.contents) != 1 {
		t.Fatalf("duplicate was relayed, %d sends", len(sender.contents))
	}

	// The same delivery ID from a different source is a distinct delivery.
	if ack, _ := svc.HandleAlert(context.Background(), "grafana", validPayload()); ack.Duplicate {
		t.Fatal("delivery IDs must be scoped per source")
	}
}

func TestHandleAlertRelayFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("gateway disconnected")}
	svc, local := testService(sender)
	defer local.Close()

	_, err := svc.HandleAlert(context.Background(), "prometheus", validPayload())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("expected ErrRelayFailed, got %v", err)
	}
	if svc.LastRelayFailure().IsZero() {
		t.Fatal("relay failure time not recorded")
	}

	metrics := svc.Metrics()
	if metrics["relay_failures"].(int64) != 1 {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
}
