//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_PublishEventRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "lanwake-int-roundtrip"

	client, err := Connect(cfg, "int-bench")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	err = client.Subscribe(client.Topics().AllEvents(), 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishEvent("scan.completed", time.Now(), map[string]int{"added": 2}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	select {
	case payload := <-received:
		var env struct {
			Event  string         `json:"event"`
			Worker string         `json:"worker_id"`
			Data   map[string]int `json:"data"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if env.Event != "scan.completed" || env.Worker != "int-bench" || env.Data["added"] != 2 {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestIntegration_OnCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "lanwake-int-command"

	client, err := Connect(cfg, "int-bench")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	fired := make(chan struct{}, 1)
	if err := client.OnCommand("scan", func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.Publish(client.Topics().Command("scan"), []byte("{}"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("command handler not invoked")
	}
}
