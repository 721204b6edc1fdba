package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exomon/internal/registry"
)

// defaultScanPrefixes are the /24 prefixes swept by the active scanner.
// Broadcast discovery is unreliable across switched or VLAN-segmented
// networks, so every host in these ranges is probed on the cluster service
// port. Any unrelated HTTP server on that port is misclassified as a peer;
// that false-positive rate is an accepted trade-off of this approach.
var defaultScanPrefixes = []string{
	"192.168.0.",
	"192.168.1.",
	"10.0.0.",
}

const (
	defaultScanWorkers = 32
	probeTimeout       = 2 * time.Second
)

// Scanner probes candidate addresses for a responding cluster service.
type Scanner struct {
	client      *http.Client
	prefixes    []string
	servicePort int
	workers     int
	reg         *registry.Registry
	selfAddr    string
	log         zerolog.Logger
}

// NewScanner creates a scanner over the given /24 prefixes (nil for the
// default list) with a bounded worker pool.
func NewScanner(prefixes []string, servicePort, workers int, selfAddr string, reg *registry.Registry, log zerolog.Logger) *Scanner {
	if len(prefixes) == 0 {
		prefixes = defaultScanPrefixes
	}
	if workers <= 0 {
		workers = defaultScanWorkers
	}
	return &Scanner{
		client:      &http.Client{Timeout: probeTimeout},
		prefixes:    prefixes,
		servicePort: servicePort,
		workers:     workers,
		reg:         reg,
		selfAddr:    selfAddr,
		log:         log,
	}
}

// Run performs a scan immediately and then on every tick until the context
// is cancelled.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	s.log.Info().
		Strs("prefixes", s.prefixes).
		Int("workers", s.workers).
		Dur("interval", interval).
		Msg("Active scanner started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan probes every candidate address once, with concurrency capped by the
// worker pool. Probe failures are silent; they just mean "no peer here".
func (s *Scanner) Scan(ctx context.Context) {
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				if s.Probe(ctx, addr) {
					s.reg.Upsert(registry.Node{
						Address:      addr,
						Port:         s.servicePort,
						Capabilities: []string{"api"},
						LastSeen:     time.Now(),
						Online:       true,
					})
				}
			}
		}()
	}

	for _, addr := range s.targets() {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- addr:
		}
	}
	close(jobs)
	wg.Wait()
}

// Probe issues a single HTTP GET against the service port of addr. Any
// 2xx/3xx response counts as a peer sighting.
func (s *Scanner) Probe(ctx context.Context, addr string) bool {
	url := fmt.Sprintf("http://%s/", net.JoinHostPort(addr, strconv.Itoa(s.servicePort)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400
}

// targets enumerates every host address in the configured prefixes,
// skipping this node's own address.
func (s *Scanner) targets() []string {
	addrs := make([]string, 0, len(s.prefixes)*254)
	for _, prefix := range s.prefixes {
		for host := 1; host <= 254; host++ {
			addr := prefix + strconv.Itoa(host)
			if addr == s.selfAddr {
				continue
			}
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
