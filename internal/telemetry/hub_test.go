package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exomon/internal/metrics"
	"exomon/internal/registry"
	"exomon/internal/service"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Broadcast(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func testHub() (*Hub, *captureSink) {
	sink := &captureSink{}
	return NewHub(sink, zerolog.Nop()), sink
}

func TestPublishLog(t *testing.T) {
	hub, sink := testHub()

	hub.PublishLog("error", "model shard failed to load", true)

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != EventLog {
		t.Errorf("Type: got %s, want %s", ev.Type, EventLog)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if ev.Data["level"] != "error" {
		t.Errorf("level: got %s, want error", ev.Data["level"])
	}
	if ev.Data["message"] != "model shard failed to load" {
		t.Errorf("message: got %s", ev.Data["message"])
	}
	if ev.Data["is_error"] != "true" {
		t.Errorf("is_error: got %s, want true", ev.Data["is_error"])
	}
}

func TestPublishMetrics_Stringified(t *testing.T) {
	hub, sink := testHub()

	hub.PublishMetrics(metrics.Sample{
		CPU:           42.25,
		Memory:        63.0,
		Disk:          10.5,
		GPU:           0,
		WebAccessible: true,
		APIAccessible: false,
	})

	ev := sink.all()[0]
	if ev.Type != EventMetrics {
		t.Fatalf("Type: got %s, want %s", ev.Type, EventMetrics)
	}
	if ev.Data["cpu"] != "42.2" && ev.Data["cpu"] != "42.3" {
		t.Errorf("cpu: got %s", ev.Data["cpu"])
	}
	if ev.Data["memory"] != "63.0" {
		t.Errorf("memory: got %s, want 63.0", ev.Data["memory"])
	}
	if ev.Data["gpu"] != "0.0" {
		t.Errorf("gpu: got %s, want 0.0", ev.Data["gpu"])
	}
	if ev.Data["web_interface_accessible"] != "true" {
		t.Errorf("web_interface_accessible: got %s", ev.Data["web_interface_accessible"])
	}
	if ev.Data["api_endpoint_accessible"] != "false" {
		t.Errorf("api_endpoint_accessible: got %s", ev.Data["api_endpoint_accessible"])
	}
}

func TestPublishServiceStatus(t *testing.T) {
	hub, sink := testHub()

	hub.PublishServiceStatus(service.Status{Installed: true, Running: false, LastError: "exited"})

	ev := sink.all()[0]
	if ev.Type != EventServiceStatus {
		t.Fatalf("Type: got %s, want %s", ev.Type, EventServiceStatus)
	}
	if ev.Data["is_installed"] != "true" || ev.Data["is_running"] != "false" {
		t.Errorf("status fields: %v", ev.Data)
	}
	if ev.Data["last_error"] != "exited" {
		t.Errorf("last_error: got %s", ev.Data["last_error"])
	}
}

func TestRegistryListener(t *testing.T) {
	hub, sink := testHub()

	reg := registry.New(zerolog.Nop())
	reg.Subscribe(hub.RegistryListener())

	reg.Upsert(registry.Node{
		Name:         "MacMini",
		Address:      "192.168.1.50",
		Port:         52415,
		Capabilities: []string{"mlx", "api"},
		MemoryBytes:  17179869184,
		GPU:          "Apple Silicon",
		LastSeen:     time.Now(),
	})

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Type != EventDiscovery {
		t.Fatalf("Type: got %s, want %s", ev.Type, EventDiscovery)
	}
	if ev.Data["change"] != "added" {
		t.Errorf("change: got %s, want added", ev.Data["change"])
	}
	if ev.Data["address"] != "192.168.1.50" {
		t.Errorf("address: got %s", ev.Data["address"])
	}
	if ev.Data["capabilities"] != "mlx,api" {
		t.Errorf("capabilities: got %s, want mlx,api", ev.Data["capabilities"])
	}
	if ev.Data["memory_bytes"] != "17179869184" {
		t.Errorf("memory_bytes: got %s", ev.Data["memory_bytes"])
	}
	if ev.Data["discovered_nodes_count"] != "1" {
		t.Errorf("discovered_nodes_count: got %s, want 1", ev.Data["discovered_nodes_count"])
	}
	if ev.Data["node_id"] == "" {
		t.Error("node_id missing")
	}
}

func TestLogHook(t *testing.T) {
	hub, sink := testHub()

	log := zerolog.New(nil).Hook(hub.LogHook())
	log.Error().Msg("socket bind failed")
	log.Info().Msg("peer discovered")

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Data["is_error"] != "true" {
		t.Errorf("error level should mark is_error: %v", events[0].Data)
	}
	if events[1].Data["is_error"] != "false" {
		t.Errorf("info level should not mark is_error: %v", events[1].Data)
	}
	if events[1].Data["level"] != "info" {
		t.Errorf("level: got %s, want info", events[1].Data["level"])
	}
}
