package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"exomon/internal/metrics"
	"exomon/internal/registry"
	"exomon/internal/service"
)

// Hub converts upstream observations into typed events and forwards them to
// the sink. It holds no references back to the collaborators it observes;
// they push into it via callbacks.
type Hub struct {
	sink Sink
	log  zerolog.Logger
	now  func() time.Time
}

// NewHub wires a hub to its delivery sink.
func NewHub(sink Sink, log zerolog.Logger) *Hub {
	return &Hub{
		sink: sink,
		log:  log,
		now:  time.Now,
	}
}

func (h *Hub) publish(t EventType, data map[string]string) {
	h.sink.Broadcast(Event{
		Type:      t,
		Timestamp: h.now(),
		Data:      data,
	})
}

// PublishLog emits a log_entry event.
func (h *Hub) PublishLog(level, message string, isError bool) {
	h.publish(EventLog, map[string]string{
		"level":    level,
		"message":  message,
		"is_error": strconv.FormatBool(isError),
	})
}

// PublishMetrics emits a performance_metrics event from a resource sample.
func (h *Hub) PublishMetrics(s metrics.Sample) {
	h.publish(EventMetrics, map[string]string{
		"cpu":                      formatPercent(s.CPU),
		"memory":                   formatPercent(s.Memory),
		"disk":                     formatPercent(s.Disk),
		"gpu":                      formatPercent(s.GPU),
		"web_interface_accessible": strconv.FormatBool(s.WebAccessible),
		"api_endpoint_accessible":  strconv.FormatBool(s.APIAccessible),
	})
}

// PublishServiceStatus emits a service_status event.
func (h *Hub) PublishServiceStatus(st service.Status) {
	h.publish(EventServiceStatus, map[string]string{
		"is_installed": strconv.FormatBool(st.Installed),
		"is_running":   strconv.FormatBool(st.Running),
		"last_error":   st.LastError,
	})
}

// PublishDebug emits a debug_message event.
func (h *Hub) PublishDebug(source, message string) {
	h.publish(EventDebug, map[string]string{
		"source":  source,
		"message": message,
	})
}

// RegistryListener returns a subscriber that emits a network_discovery
// event for every registry change.
func (h *Hub) RegistryListener() registry.SubscriberFunc {
	return func(c registry.Change) {
		h.publish(EventDiscovery, map[string]string{
			"change":                 c.Kind.String(),
			"node_id":                c.Node.ID,
			"node_name":              c.Node.Name,
			"address":                c.Node.Address,
			"port":                   strconv.Itoa(c.Node.Port),
			"capabilities":           strings.Join(c.Node.Capabilities, ","),
			"memory_bytes":           strconv.FormatUint(c.Node.MemoryBytes, 10),
			"gpu":                    c.Node.GPU,
			"online":                 strconv.FormatBool(c.Node.Online),
			"discovered_nodes_count": strconv.Itoa(c.Total),
		})
	}
}

// LogHook returns a zerolog hook that mirrors every log line into the
// telemetry stream. Attach it to component loggers, never to the logger the
// broadcast server itself uses, or a failing write could echo forever.
func (h *Hub) LogHook() zerolog.Hook {
	return logHook{hub: h}
}

type logHook struct {
	hub *Hub
}

func (lh logHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if message == "" || level == zerolog.NoLevel {
		return
	}
	lh.hub.PublishLog(level.String(), message, level >= zerolog.ErrorLevel)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
