// Package discovery implements peer discovery for the cluster: a passive
// UDP listener for self-announcements, a periodic broadcast announcer, and
// an active HTTP scanner that finds peers broadcast cannot reach.
package discovery

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"exomon/internal/announce"
	"exomon/internal/registry"
)

const maxPacketSize = 1024

// Listener receives peer announcements on the discovery UDP port and feeds
// the registry. The port is shared with arbitrary LAN broadcast traffic, so
// anything that fails to parse is dropped without comment.
type Listener struct {
	conn     *net.UDPConn
	reg      *registry.Registry
	selfAddr string
	log      zerolog.Logger
	closed   atomic.Bool

	mu      sync.Mutex
	lastErr error
}

// NewListener binds the discovery port. When multicastGroup is non-empty the
// socket joins that group on the named interface (empty for default) instead
// of binding INADDR_ANY, so multicast announcements are received too.
func NewListener(port int, multicastGroup, ifaceName, selfAddr string, reg *registry.Registry, log zerolog.Logger) (*Listener, error) {
	var conn *net.UDPConn
	var err error

	if multicastGroup != "" {
		group := net.ParseIP(multicastGroup)
		if group == nil {
			return nil, fmt.Errorf("invalid multicast group: %s", multicastGroup)
		}
		var iface *net.Interface
		if ifaceName != "" {
			iface, err = net.InterfaceByName(ifaceName)
			if err != nil {
				return nil, fmt.Errorf("finding interface %s: %w", ifaceName, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: group, Port: port})
	} else {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	}
	if err != nil {
		return nil, fmt.Errorf("listening on UDP port %d: %w", port, err)
	}

	if err := conn.SetReadBuffer(maxPacketSize * 10); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	log.Info().
		Int("port", port).
		Str("multicast_group", multicastGroup).
		Msg("Discovery listener started")

	return &Listener{
		conn:     conn,
		reg:      reg,
		selfAddr: selfAddr,
		log:      log,
	}, nil
}

// Run reads datagrams until the listener is closed. Transient read errors
// are surfaced once and the loop keeps going in degraded mode.
func (l *Listener) Run() {
	buf := make([]byte, maxPacketSize)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.recordError(err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		go l.handleDatagram(packet, src)
	}
}

func (l *Listener) handleDatagram(packet []byte, src *net.UDPAddr) {
	a, err := announce.Parse(string(packet))
	if err != nil {
		// The port is noisy; malformed datagrams are expected.
		l.log.Debug().Str("src", src.String()).Err(err).Msg("Dropping datagram")
		return
	}

	// Our own broadcasts loop back.
	if a.Address == l.selfAddr {
		return
	}

	l.reg.Upsert(registry.Node{
		Name:         a.Name,
		Address:      a.Address,
		Port:         a.Port,
		Capabilities: a.Capabilities,
		MemoryBytes:  a.MemoryBytes,
		GPU:          a.GPU,
		LastSeen:     time.Now(),
		Online:       true,
	})
}

// Close stops the receive loop and releases the socket.
func (l *Listener) Close() error {
	l.closed.Store(true)
	return l.conn.Close()
}

// LastError returns the first transport error observed, if any.
func (l *Listener) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Listener) recordError(err error) {
	l.mu.Lock()
	first := l.lastErr == nil
	if first {
		l.lastErr = err
	}
	l.mu.Unlock()

	if first {
		l.log.Error().Err(err).Msg("Error reading from UDP")
	}
}
