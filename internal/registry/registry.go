// Package registry maintains the in-memory table of discovered cluster nodes.
//
// The table is keyed by network address: re-sighting an address refreshes the
// existing entry instead of creating a duplicate. Entries not re-sighted
// within a TTL are evicted by a periodic sweep. Nothing is persisted; the
// view is local, approximate, and rebuilt from scratch on every start.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Node represents a discovered cluster participant.
type Node struct {
	ID           string
	Name         string
	Address      string
	Port         int
	Capabilities []string
	MemoryBytes  uint64
	GPU          string
	LastSeen     time.Time
	Online       bool
}

// ChangeKind classifies a registry change notification.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
)

// String returns the wire-friendly name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes a single registry mutation delivered to subscribers.
type Change struct {
	Kind      ChangeKind
	Node      Node
	Total     int
	Timestamp time.Time
}

// SubscriberFunc is a callback invoked for every registry change.
// Callbacks run outside the registry lock and must not block for long.
type SubscriberFunc func(Change)

// Registry is a concurrency-safe table of known peer nodes.
type Registry struct {
	mu          sync.RWMutex
	nodes       map[string]*Node
	subscribers []SubscriberFunc
	log         zerolog.Logger
}

// New creates an empty registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		log:   log,
	}
}

// Subscribe adds a change listener. Subscribers registered after a change
// do not see it; there is no replay.
func (r *Registry) Subscribe(fn SubscriberFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Upsert merges a sighting into the table, keyed by node address.
//
// A new address gets a freshly assigned ID and an added notification. An
// existing address has its last-seen refreshed and any non-empty incoming
// fields applied; a scan sighting with minimal metadata never clobbers
// richer fields learned from a broadcast announcement.
func (r *Registry) Upsert(n Node) ChangeKind {
	if n.LastSeen.IsZero() {
		n.LastSeen = time.Now()
	}

	r.mu.Lock()

	var kind ChangeKind
	existing, ok := r.nodes[n.Address]
	if ok {
		existing.LastSeen = n.LastSeen
		existing.Online = true
		if n.Name != "" {
			existing.Name = n.Name
		}
		if n.Port != 0 {
			existing.Port = n.Port
		}
		if len(n.Capabilities) > 0 {
			existing.Capabilities = append([]string(nil), n.Capabilities...)
		}
		if n.MemoryBytes > 0 {
			existing.MemoryBytes = n.MemoryBytes
		}
		if n.GPU != "" {
			existing.GPU = n.GPU
		}
		kind = ChangeUpdated
	} else {
		node := n
		node.ID = uuid.New().String()
		node.Online = true
		node.Capabilities = append([]string(nil), n.Capabilities...)
		r.nodes[n.Address] = &node
		existing = &node
		kind = ChangeAdded
	}

	change := Change{
		Kind:      kind,
		Node:      copyNode(existing),
		Total:     len(r.nodes),
		Timestamp: n.LastSeen,
	}
	subs := append([]SubscriberFunc(nil), r.subscribers...)
	r.mu.Unlock()

	// Log outside the lock: the logger may carry the telemetry hook, and a
	// stalled observer write must not freeze readers and other writers.
	if kind == ChangeAdded {
		r.log.Info().
			Str("address", change.Node.Address).
			Str("name", change.Node.Name).
			Int("port", change.Node.Port).
			Strs("capabilities", change.Node.Capabilities).
			Msg("New node discovered")
	} else {
		r.log.Debug().
			Str("address", change.Node.Address).
			Str("name", change.Node.Name).
			Msg("Node updated")
	}

	notify(subs, change)
	return kind
}

// SweepStale removes every node whose last sighting is older than ttl,
// measured against now. Returns the number of removed nodes.
func (r *Registry) SweepStale(ttl time.Duration, now time.Time) int {
	cutoff := now.Add(-ttl)

	r.mu.Lock()

	var changes []Change
	for addr, node := range r.nodes {
		if node.LastSeen.Before(cutoff) {
			delete(r.nodes, addr)
			node.Online = false

			changes = append(changes, Change{
				Kind:      ChangeRemoved,
				Node:      copyNode(node),
				Total:     len(r.nodes),
				Timestamp: now,
			})
		}
	}
	subs := append([]SubscriberFunc(nil), r.subscribers...)
	r.mu.Unlock()

	for _, c := range changes {
		r.log.Info().
			Str("address", c.Node.Address).
			Str("name", c.Node.Name).
			Time("last_seen", c.Node.LastSeen).
			Msg("Node expired")

		notify(subs, c)
	}
	return len(changes)
}

// RunSweeper starts a background goroutine that sweeps stale nodes at the
// given interval until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepStale(ttl, time.Now())
			}
		}
	}()
}

// Snapshot returns a copy of all current nodes. The copy is safe to iterate
// and mutate without holding any registry lock.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, copyNode(n))
	}
	return nodes
}

// Get returns the node for an address, if present.
func (r *Registry) Get(address string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[address]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Len returns the current node count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func copyNode(n *Node) Node {
	c := *n
	c.Capabilities = append([]string(nil), n.Capabilities...)
	return c
}

func notify(subs []SubscriberFunc, c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
