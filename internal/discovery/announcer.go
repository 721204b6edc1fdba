package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"exomon/internal/announce"
	"exomon/internal/sysinfo"
)

// defaultBroadcastAddrs is the fixed target list: global broadcast plus the
// broadcast addresses of common private /24s. This is a heuristic, not a
// computed subnet broadcast, and misses peers on non-standard subnets; the
// active scanner compensates.
var defaultBroadcastAddrs = []string{
	"255.255.255.255",
	"192.168.0.255",
	"192.168.1.255",
	"10.0.0.255",
	"172.16.0.255",
}

// AnnouncerConfig carries the announcer's wiring.
type AnnouncerConfig struct {
	Name           string   // display name; defaults to the collected hostname
	DiscoveryPort  int      // UDP port the datagrams are sent to
	ServicePort    int      // advertised cluster service port
	BroadcastAddrs []string // empty for the default heuristic list
	// IfaceBroadcast additionally sends to the real broadcast address of the
	// primary interface, computed from its netmask. Off by default so the
	// heuristic behaviour stays observable and unchanged.
	IfaceBroadcast bool
	MulticastGroup string // optional extra multicast target
	Interface      string // interface for multicast control, empty for default
}

// Announcer periodically broadcasts this node's self-descriptor.
type Announcer struct {
	cfg     AnnouncerConfig
	conn    *net.UDPConn
	targets []*net.UDPAddr
	log     zerolog.Logger

	// collect is swappable for tests.
	collect func() (*sysinfo.SystemInfo, error)

	mu      sync.Mutex
	lastErr error
}

// NewAnnouncer resolves the target list and opens the send socket.
func NewAnnouncer(cfg AnnouncerConfig, log zerolog.Logger) (*Announcer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("opening announce socket: %w", err)
	}

	if err := conn.SetWriteBuffer(maxPacketSize); err != nil {
		log.Warn().Err(err).Msg("Failed to set write buffer")
	}

	addrs := cfg.BroadcastAddrs
	if len(addrs) == 0 {
		addrs = defaultBroadcastAddrs
	}

	var targets []*net.UDPAddr
	for _, a := range addrs {
		addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", a, cfg.DiscoveryPort))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolving broadcast address %s: %w", a, err)
		}
		targets = append(targets, addr)
	}

	if cfg.IfaceBroadcast {
		if ip := interfaceBroadcastIP(); ip != nil {
			targets = append(targets, &net.UDPAddr{IP: ip, Port: cfg.DiscoveryPort})
			log.Info().Str("broadcast", ip.String()).Msg("Interface broadcast enabled")
		} else {
			log.Warn().Msg("Could not compute interface broadcast address")
		}
	}

	if cfg.MulticastGroup != "" {
		mAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.MulticastGroup, cfg.DiscoveryPort))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolving multicast group: %w", err)
		}
		targets = append(targets, mAddr)

		// ipv4.PacketConn is used for multicast control
		pc := ipv4.NewPacketConn(conn)
		if cfg.Interface != "" {
			iface, err := net.InterfaceByName(cfg.Interface)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("finding interface %s: %w", cfg.Interface, err)
			}
			if err := pc.SetMulticastInterface(iface); err != nil {
				log.Warn().Err(err).Msg("Failed to set multicast interface")
			}
		}
		if err := pc.SetMulticastTTL(1); err != nil {
			log.Warn().Err(err).Msg("Failed to set multicast TTL")
		}
	}

	return &Announcer{
		cfg:     cfg,
		conn:    conn,
		targets: targets,
		log:     log,
		collect: sysinfo.Collect,
	}, nil
}

// Run broadcasts immediately and then on every tick until the context is
// cancelled.
func (a *Announcer) Run(ctx context.Context, interval time.Duration) {
	a.log.Info().
		Int("targets", len(a.targets)).
		Dur("interval", interval).
		Msg("Announcer started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.announce()
	for {
		select {
		case <-ctx.Done():
			a.conn.Close()
			return
		case <-ticker.C:
			a.announce()
		}
	}
}

func (a *Announcer) announce() {
	msg, err := a.buildAnnouncement()
	if err != nil {
		a.recordError(err)
		return
	}

	packet := []byte(msg.Encode())
	for _, target := range a.targets {
		if _, err := a.conn.WriteToUDP(packet, target); err != nil {
			// Unreachable broadcast targets are expected off-subnet and must
			// not occupy the first-error slot.
			a.log.Debug().Err(err).Str("target", target.String()).Msg("Failed to send announcement")
			if !expectedSendError(err) {
				a.recordError(err)
			}
			continue
		}
	}

	a.log.Debug().
		Str("name", msg.Name).
		Str("address", msg.Address).
		Int("bytes", len(packet)).
		Msg("Announcement sent")
}

func (a *Announcer) buildAnnouncement() (announce.Announcement, error) {
	info, err := a.collect()
	if err != nil {
		return announce.Announcement{}, fmt.Errorf("collecting system info: %w", err)
	}

	name := a.cfg.Name
	if name == "" {
		name = info.Hostname
	}

	return announce.Announcement{
		Name:         name,
		Address:      info.IPAddress,
		Port:         a.cfg.ServicePort,
		Capabilities: info.Capabilities,
		MemoryBytes:  info.MemoryBytes,
		GPU:          info.Accelerator,
	}, nil
}

// LastError returns the first send/collect error observed, if any.
func (a *Announcer) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Announcer) recordError(err error) {
	a.mu.Lock()
	if a.lastErr == nil {
		a.lastErr = err
	}
	a.mu.Unlock()
}

// expectedSendError reports whether a send failure is routine noise from a
// heuristic broadcast target with no route, as opposed to a transport fault.
func expectedSendError(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}

// interfaceBroadcastIP computes the broadcast address of the first up,
// non-loopback IPv4 interface from its netmask.
func interfaceBroadcastIP() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := broadcastIP(ipNet); ip != nil {
				return ip
			}
		}
	}
	return nil
}

func broadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, len(ip))
	for i := range ip {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}
