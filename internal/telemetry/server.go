package telemetry

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const serverName = "exomon"

// ClientState tracks a connection through its lifecycle.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateReady
	StateClosed
)

type client struct {
	id    string
	conn  net.Conn
	state atomic.Int32

	// wmu serializes writes so broadcasts don't interleave on the stream.
	wmu sync.Mutex
}

func (c *client) setState(s ClientState) { c.state.Store(int32(s)) }
func (c *client) getState() ClientState  { return ClientState(c.state.Load()) }

// Server accepts observer connections and fans every event out to all of
// them. It is push-only: bytes sent by clients are read and discarded,
// serving only to detect disconnection.
type Server struct {
	ln      net.Listener
	version string
	log     zerolog.Logger
	closed  atomic.Bool
	nextID  atomic.Int64

	mu      sync.Mutex
	clients map[string]*client
	lastErr error
}

// NewServer starts listening on addr (e.g. ":52417").
func NewServer(addr, version string, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("Telemetry server started")

	return &Server{
		ln:      ln,
		version: version,
		log:     log,
		clients: make(map[string]*client),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run accepts connections until the server is closed.
func (s *Server) Run() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.recordError(err)
			continue
		}

		// A counter, not a timestamp: two accepts in the same clock tick
		// must not share an ID.
		c := &client{
			id:   fmt.Sprintf("client_%d", s.nextID.Add(1)),
			conn: conn,
		}
		c.setState(StateConnecting)

		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()

		go s.handle(c)
	}
}

func (s *Server) handle(c *client) {
	s.log.Debug().
		Str("client", c.id).
		Str("remote", c.conn.RemoteAddr().String()).
		Msg("Observer connected")

	welcome := Event{
		Type:      EventWelcome,
		Timestamp: time.Now(),
		Data: map[string]string{
			"server":  serverName,
			"version": s.version,
			"capabilities": strings.Join([]string{
				string(EventLog),
				string(EventMetrics),
				string(EventServiceStatus),
				string(EventDiscovery),
				string(EventDebug),
			}, ","),
		},
	}
	if err := s.write(c, welcome); err != nil {
		s.remove(c.id)
		return
	}
	c.setState(StateReady)

	// Drain loop: the only reason to read is to notice the disconnect.
	buf := make([]byte, 512)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			break
		}
	}
	s.remove(c.id)
}

// Broadcast serializes the event once and writes it to every ready client.
// A failed write closes that client and removes it; the remaining clients
// still get the event.
func (s *Server) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.recordError(fmt.Errorf("encoding event %s: %w", ev.Type, err))
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.getState() == StateReady {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := s.writeRaw(c, data); err != nil {
			s.remove(c.id)
		}
	}
}

func (s *Server) write(c *client, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		s.recordError(fmt.Errorf("encoding event %s: %w", ev.Type, err))
		return nil
	}
	return s.writeRaw(c, append(data, '\n'))
}

func (s *Server) writeRaw(c *client, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if !ok || c.getState() == StateClosed {
		return
	}
	c.setState(StateClosed)
	c.conn.Close()

	// A disconnect is normal lifecycle, not an error.
	s.log.Debug().Str("client", id).Msg("Observer disconnected")
}

// ClientCount returns the number of ready connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.clients {
		if c.getState() == StateReady {
			n++
		}
	}
	return n
}

// LastError returns the first transport or encoding error observed, if any.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops accepting and immediately closes every client connection.
// There is no drain or flush.
func (s *Server) Close() error {
	s.closed.Store(true)
	err := s.ln.Close()

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.setState(StateClosed)
		c.conn.Close()
	}
	return err
}

func (s *Server) recordError(err error) {
	s.mu.Lock()
	first := s.lastErr == nil
	if first {
		s.lastErr = err
	}
	s.mu.Unlock()

	if first {
		s.log.Error().Err(err).Msg("Telemetry server error")
	}
}
