package registry

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRegistry() *Registry {
	return New(zerolog.Nop())
}

func sampleNode(address string, seen time.Time) Node {
	return Node{
		Name:         "host-" + address,
		Address:      address,
		Port:         52415,
		Capabilities: []string{"mlx", "api"},
		MemoryBytes:  17179869184,
		GPU:          "Apple Silicon",
		LastSeen:     seen,
	}
}

func TestUpsert_NewNode(t *testing.T) {
	r := testRegistry()

	kind := r.Upsert(sampleNode("192.168.1.50", time.Now()))
	if kind != ChangeAdded {
		t.Errorf("kind: got %v, want ChangeAdded", kind)
	}

	n, ok := r.Get("192.168.1.50")
	if !ok {
		t.Fatal("node not found after upsert")
	}
	if n.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if !n.Online {
		t.Error("expected node to be online")
	}
	if r.Len() != 1 {
		t.Errorf("Len: got %d, want 1", r.Len())
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	r := testRegistry()

	t0 := time.Now()
	var lastID string
	for i := 0; i < 5; i++ {
		n := sampleNode("192.168.1.50", t0.Add(time.Duration(i)*time.Second))
		r.Upsert(n)

		got, ok := r.Get("192.168.1.50")
		if !ok {
			t.Fatalf("node missing after upsert %d", i)
		}
		if lastID != "" && got.ID != lastID {
			t.Errorf("ID changed on re-sighting: %s -> %s", lastID, got.ID)
		}
		lastID = got.ID

		want := t0.Add(time.Duration(i) * time.Second)
		if !got.LastSeen.Equal(want) {
			t.Errorf("LastSeen after upsert %d: got %v, want %v", i, got.LastSeen, want)
		}
	}

	if r.Len() != 1 {
		t.Fatalf("expected exactly 1 node, got %d", r.Len())
	}
}

func TestUpsert_EmptyFieldsDoNotClobber(t *testing.T) {
	r := testRegistry()

	r.Upsert(sampleNode("10.0.0.7", time.Now()))

	// A scan sighting carries only address, port, and a generic capability.
	kind := r.Upsert(Node{
		Address:      "10.0.0.7",
		Port:         52415,
		Capabilities: []string{"api"},
		LastSeen:     time.Now(),
	})
	if kind != ChangeUpdated {
		t.Errorf("kind: got %v, want ChangeUpdated", kind)
	}

	n, _ := r.Get("10.0.0.7")
	if n.Name != "host-10.0.0.7" {
		t.Errorf("Name clobbered: got %q", n.Name)
	}
	if n.MemoryBytes != 17179869184 {
		t.Errorf("MemoryBytes clobbered: got %d", n.MemoryBytes)
	}
	if n.GPU != "Apple Silicon" {
		t.Errorf("GPU clobbered: got %q", n.GPU)
	}
	if len(n.Capabilities) != 1 || n.Capabilities[0] != "api" {
		t.Errorf("Capabilities: got %v, want [api]", n.Capabilities)
	}
}

func TestSweepStale_Scenario(t *testing.T) {
	r := testRegistry()

	t0 := time.Now()
	r.Upsert(sampleNode("192.168.1.1", t0))                  // A: fresh
	r.Upsert(sampleNode("192.168.1.2", t0.Add(-65*time.Second))) // B: stale

	removed := r.SweepStale(60*time.Second, t0.Add(10*time.Second))
	if removed != 1 {
		t.Fatalf("removed: got %d, want 1", removed)
	}

	if _, ok := r.Get("192.168.1.1"); !ok {
		t.Error("fresh node A was removed")
	}
	if _, ok := r.Get("192.168.1.2"); ok {
		t.Error("stale node B survived the sweep")
	}
}

func TestSweepStale_TTLBoundary(t *testing.T) {
	r := testRegistry()

	t0 := time.Now()
	r.Upsert(sampleNode("10.0.0.1", t0))

	// At t0+55s the node is within TTL and must survive.
	if removed := r.SweepStale(60*time.Second, t0.Add(55*time.Second)); removed != 0 {
		t.Fatalf("sweep at t0+55s removed %d nodes", removed)
	}
	if r.Len() != 1 {
		t.Fatal("node missing before TTL expired")
	}

	// At t0+65s the node has exceeded TTL and must be gone.
	if removed := r.SweepStale(60*time.Second, t0.Add(65*time.Second)); removed != 1 {
		t.Fatalf("sweep at t0+65s removed %d nodes, want 1", removed)
	}
	if r.Len() != 0 {
		t.Fatal("node survived past TTL")
	}
}

func TestSubscribe_Notifications(t *testing.T) {
	r := testRegistry()

	var mu sync.Mutex
	var changes []Change
	r.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	t0 := time.Now()
	r.Upsert(sampleNode("192.168.1.50", t0))
	r.Upsert(sampleNode("192.168.1.50", t0.Add(time.Second)))
	r.SweepStale(60*time.Second, t0.Add(2*time.Minute))

	mu.Lock()
	defer mu.Unlock()

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[0].Kind != ChangeAdded {
		t.Errorf("change 0: got %v, want ChangeAdded", changes[0].Kind)
	}
	if changes[1].Kind != ChangeUpdated {
		t.Errorf("change 1: got %v, want ChangeUpdated", changes[1].Kind)
	}
	if changes[2].Kind != ChangeRemoved {
		t.Errorf("change 2: got %v, want ChangeRemoved", changes[2].Kind)
	}
	if changes[0].Total != 1 {
		t.Errorf("change 0 total: got %d, want 1", changes[0].Total)
	}
	if changes[2].Total != 0 {
		t.Errorf("change 2 total: got %d, want 0", changes[2].Total)
	}
	if changes[2].Node.Online {
		t.Error("removed node should not be online")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := testRegistry()
	r.Upsert(sampleNode("192.168.1.50", time.Now()))

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot: got %d nodes, want 1", len(snap))
	}

	snap[0].Name = "tampered"
	snap[0].Capabilities[0] = "tampered"

	n, _ := r.Get("192.168.1.50")
	if n.Name == "tampered" {
		t.Error("snapshot mutation leaked into registry (Name)")
	}
	if n.Capabilities[0] == "tampered" {
		t.Error("snapshot mutation leaked into registry (Capabilities)")
	}
}

// stallingHook blocks log emission for one matching message until released,
// standing in for a telemetry observer with a stalled connection.
type stallingHook struct {
	target  string
	entered chan struct{}
	release chan struct{}
}

func (h *stallingHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if message != h.target {
		return
	}
	h.entered <- struct{}{}
	<-h.release
}

func TestUpsert_StalledLogSinkDoesNotBlockReaders(t *testing.T) {
	hook := &stallingHook{
		target:  "New node discovered",
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	defer close(hook.release)

	r := New(zerolog.New(io.Discard).Hook(hook))

	go r.Upsert(sampleNode("192.168.1.50", time.Now()))
	<-hook.entered

	done := make(chan int, 1)
	go func() { done <- r.Len() }()

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("Len: got %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Len blocked while a log write was stalled during Upsert")
	}
}

func TestSweepStale_StalledLogSinkDoesNotBlockReaders(t *testing.T) {
	hook := &stallingHook{
		target:  "Node expired",
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	defer close(hook.release)

	r := New(zerolog.New(io.Discard).Hook(hook))

	t0 := time.Now()
	r.Upsert(sampleNode("10.0.0.1", t0.Add(-2*time.Minute)))

	go r.SweepStale(60*time.Second, t0)
	<-hook.entered

	done := make(chan int, 1)
	go func() { done <- r.Len() }()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("Len: got %d, want 0", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Len blocked while a log write was stalled during SweepStale")
	}
}

func TestUpsert_Concurrent(t *testing.T) {
	r := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Upsert(sampleNode("192.168.1.50", time.Now()))
				r.Snapshot()
			}
		}()
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("expected 1 node after concurrent upserts, got %d", r.Len())
	}
}
