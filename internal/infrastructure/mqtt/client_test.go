package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lanwake/internal/infrastructure/config"
)

// testConfig returns a broker config pointing at a local Mosquitto.
// Only the integration tests actually dial it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "lanwake-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("bench-01")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Status", topics.Status(), "lanwake/bench-01/status"},
		{"Event", topics.Event("device.added"), "lanwake/bench-01/event/device.added"},
		{"Command", topics.Command("scan"), "lanwake/bench-01/command/scan"},
		{"AllEvents", topics.AllEvents(), "lanwake/bench-01/event/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_SanitisesWorker(t *testing.T) {
	tests := []struct {
		worker string
		want   string
	}{
		{"bench-01", "bench-01"},
		{" bench-01 ", "bench-01"},
		{"a/b", "ab"},
		{"evil/#/+", "evil"},
		{"", "unprovisioned"},
		{"/#", "unprovisioned"},
	}

	for _, tt := range tests {
		if got := NewTopics(tt.worker).Worker(); got != tt.want {
			t.Errorf("NewTopics(%q).Worker() = %q, want %q", tt.worker, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "lanwake"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "lanwake-test" {
		t.Errorf("ClientID = %q, want lanwake-test", opts.ClientID)
	}
	if opts.Username != "lanwake" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want lanwake/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %s, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("bench-01"), "lanwake-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("expected a retained will")
	}
	if opts.WillTopic != "lanwake/bench-01/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.Worker != "bench-01" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig(), "bench-01")

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "lanwake/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "lanwake/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "lanwake/x", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishEvent_InvalidName(t *testing.T) {
	c := newClient(testConfig(), "bench-01")

	for _, name := range []string{"", "scan/completed", "a#", "+"} {
		if err := c.PublishEvent(name, time.Now(), nil); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("PublishEvent(%q) error = %v, want ErrInvalidTopic", name, err)
		}
	}

	if err := c.PublishEvent("scan.completed", time.Now(), map[string]int{"added": 1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent() on disconnected client error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig(), "bench-01")
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("t", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if err := c.OnCommand("scan", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil command handler: %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	c := newClient(testConfig(), "bench-01")
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("panic logs = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("error logs = %d, want 1", len(logger.warns))
	}
}

func TestHandleDisconnect_RunsCallback(t *testing.T) {
	c := newClient(testConfig(), "bench-01")

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	lost := errors.New("broker went away")
	c.handleDisconnect(lost)

	if !errors.Is(got, lost) {
		t.Errorf("callback error = %v, want %v", got, lost)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newClient(testConfig(), "bench-01")

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestClose_NilAndUnconnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if err := newClient(testConfig(), "w").Close(); err != nil {
		t.Errorf("unconnected Close() = %v", err)
	}
}
