package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/config"
)

const testStation = "bench-test"

// testConfig returns an MQTT configuration for a local Mosquitto broker
// at 127.0.0.1:1883. Tests that need the broker skip when it is absent.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(testConfig(clientID), testStation)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTopics(t *testing.T) {
	topics := Topics{Station: "bench-1"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", topics.State("mode"), "transferd/bench-1/state/mode"},
		{"event", topics.Event("cycle"), "transferd/bench-1/event/cycle"},
		{"command", topics.Command("auto"), "transferd/bench-1/command/auto"},
		{"all commands", topics.AllCommands(), "transferd/bench-1/command/+"},
		{"system status", topics.SystemStatus(), "transferd/bench-1/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_CommandName(t *testing.T) {
	topics := Topics{Station: "bench-1"}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"transferd/bench-1/command/auto", "auto", true},
		{"transferd/bench-1/command/connect", "connect", true},
		{"transferd/bench-2/command/auto", "", false},
		{"transferd/bench-1/command/", "", false},
		{"transferd/bench-1/command/a/b", "", false},
		{"transferd/bench-1/state/mode", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.CommandName(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("CommandName(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig("transferd-test-refused")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, testStation)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_Validation(t *testing.T) {
	// A client that never connected still validates its inputs first.
	c := &Client{handlers: make(map[string]MessageHandler)}

	if err := c.Publish("", []byte("x"), false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", make([]byte, maxPayloadSize+1), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversize) = %v, want ErrPublishFailed", err)
	}
	if err := c.Publish("t", []byte("x"), true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish(unconnected) = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("", func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(unconnected) = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestStatusPayload(t *testing.T) {
	c := &Client{
		cfg:    config.MQTTConfig{Broker: config.MQTTBrokerConfig{ClientID: "transferd-bay-1"}},
		topics: Topics{Station: "bay-1"},
	}

	payload, err := c.statusPayload(statusOffline, reasonUnexpected)
	if err != nil {
		t.Fatalf("statusPayload() error = %v", err)
	}
	var got stationStatus
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Status != "offline" || got.Station != "bay-1" || got.ClientID != "transferd-bay-1" || got.Reason != "unexpected_disconnect" {
		t.Errorf("status = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", got.Timestamp, err)
	}

	online, _ := c.statusPayload(statusOnline, "")
	if strings.Contains(string(online), "reason") {
		t.Errorf("online status carries a reason: %s", online)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("transferd-opts")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "station"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "transferd-opts" || opts.Username != "station" || !opts.CleanSession {
		t.Errorf("options = client %q user %q clean %v", opts.ClientID, opts.Username, opts.CleanSession)
	}
	if opts.TLSConfig == nil || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("tls %v max reconnect %v", opts.TLSConfig, opts.MaxReconnectInterval)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	client := connectOrSkip(t, "transferd-test-health")

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestClient_CommandRoundtrip(t *testing.T) {
	sub := connectOrSkip(t, "transferd-test-sub")
	pub := connectOrSkip(t, "transferd-test-pub")

	var (
		mu       sync.Mutex
		received = make(chan string, 1)
	)
	err := sub.Subscribe(sub.Topics().AllCommands(), func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		name, ok := sub.Topics().CommandName(topic)
		if !ok {
			return errors.New("unexpected topic " + topic)
		}
		received <- name + "=" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.subscribed(sub.Topics().AllCommands()) {
		t.Error("subscription not tracked for replay")
	}

	if err := pub.Publish(pub.Topics().Command("auto"), []byte(`{"enabled":true}`), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `auto={"enabled":true}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}
}

func TestClient_HandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t, "transferd-test-panic")

	done := make(chan struct{})
	topic := client.Topics().Event("panic-test")
	err := client.Subscribe(topic, func(string, []byte) error {
		defer close(done)
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(topic, []byte("{}"), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
	if !client.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}
