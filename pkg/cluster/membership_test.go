package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]PeerRecord
	failing error
}

// connected reports whether reg holds a link to id
func connected(reg *Registry, id string) bool {
	_, err := reg.Peer(id)
	return err == nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]PeerRecord)}
}

func (s *fakeStore) UpsertPeer(_ context.Context, rec PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeStore) LivePeers(_ context.Context, cutoff time.Time) ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return nil, s.failing
	}
	var out []PeerRecord
	for _, rec := range s.records {
		if rec.IsLive(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkOffline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	rec.Status = StatusOffline
	s.records[id] = rec
	return nil
}

func (s *fakeStore) get(id string) (PeerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	s.failing = err
	s.mu.Unlock()
}

type fakeConnector struct {
	mu          sync.Mutex
	connected   map[string]PeerRecord
	connects    int
	disconnects []string
	refuse      map[string]bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{connected: make(map[string]PeerRecord), refuse: make(map[string]bool)}
}

func (c *fakeConnector) ConnectPeer(rec PeerRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.refuse[rec.ID] {
		return errors.New("connection refused")
	}
	c.connected[rec.ID] = rec
	return nil
}

func (c *fakeConnector) DisconnectPeer(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects = append(c.disconnects, id)
	delete(c.connected, id)
	return nil
}

func (c *fakeConnector) isConnected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.connected[id]
	return ok
}

func testConfig(id string) RegistryConfig {
	return RegistryConfig{
		PeerID:            id,
		Host:              "10.0.0.1",
		Port:              8080,
		HeartbeatInterval: time.Hour,
		DiscoveryInterval: time.Hour,
		StaleAfter:        2 * time.Hour,
	}
}

func seedPeer(s *fakeStore, id string, port int, at time.Time) {
	s.records[id] = PeerRecord{ID: id, Host: "10.0.0.2", Port: port, LastHeartbeat: at, Status: StatusOnline}
}

// TestRegistryConfigDefaults tests default timings and endpoint derivation
func TestRegistryConfigDefaults(t *testing.T) {
	cfg := RegistryConfig{PeerID: "p1", Host: "h", Port: 8080}
	cfg.ApplyDefaults()

	if cfg.HeartbeatInterval != 60*time.Second {
		t.Errorf("Expected heartbeat interval 60s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.DiscoveryInterval != 30*time.Second {
		t.Errorf("Expected discovery interval 30s, got %v", cfg.DiscoveryInterval)
	}
	if cfg.StaleAfter != 2*time.Minute {
		t.Errorf("Expected stale window 2m, got %v", cfg.StaleAfter)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	ep := cfg.EndpointsFor("h", 8080)
	if ep.Broadcast != "tcp://h:8090" {
		t.Errorf("Expected broadcast tcp://h:8090, got %s", ep.Broadcast)
	}
	if ep.Direct != "tcp://h:8091" {
		t.Errorf("Expected direct tcp://h:8091, got %s", ep.Direct)
	}
}

// TestRegistryConfigValidate tests rejected configurations
func TestRegistryConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegistryConfig)
		want   error
	}{
		{"missing id", func(c *RegistryConfig) { c.PeerID = "" }, ErrInvalidPeerID},
		{"missing host", func(c *RegistryConfig) { c.Host = "" }, ErrInvalidPeerHost},
		{"bad port", func(c *RegistryConfig) { c.Port = 70000 }, nil},
		{"stale before heartbeat", func(c *RegistryConfig) { c.StaleAfter = time.Minute; c.HeartbeatInterval = 5 * time.Minute }, nil},
		{"same offsets", func(c *RegistryConfig) { c.DirectPortOffset = c.BroadcastPortOffset }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RegistryConfig{PeerID: "p1", Host: "h", Port: 8080}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestNewRegistryRequiresStore tests that a store is mandatory
func TestNewRegistryRequiresStore(t *testing.T) {
	_, err := NewRegistry(testConfig("p1"), nil, nil)
	if !errors.Is(err, ErrNoHeartbeatStore) {
		t.Errorf("Expected ErrNoHeartbeatStore, got %v", err)
	}
}

// TestStartPublishesHeartbeat tests the first heartbeat and initial discovery
func TestStartPublishesHeartbeat(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	seedPeer(store, "p2", 9000, time.Now())

	reg, err := NewRegistry(testConfig("p1"), store, conn)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer reg.Stop(context.Background())

	self, ok := store.get("p1")
	if !ok {
		t.Fatal("Expected own record in store")
	}
	if self.Status != StatusOnline || self.Port != 8080 {
		t.Errorf("Expected online record on 8080, got %+v", self)
	}
	if !reg.HeartbeatFresh() {
		t.Error("Expected fresh heartbeat after start")
	}
	if !conn.isConnected("p2") {
		t.Error("Expected p2 connected after initial discovery")
	}
	if conn.isConnected("p1") {
		t.Error("Expected self to be excluded from discovery")
	}
	if err := reg.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

// TestDiscoveryJoinAndLeave tests link setup and teardown as the table changes
func TestDiscoveryJoinAndLeave(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	reg, _ := NewRegistry(testConfig("p1"), store, conn)

	var mu sync.Mutex
	var events []PeerEvent
	reg.OnChange(func(ev PeerEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	ctx := context.Background()
	now := time.Now()
	seedPeer(store, "p2", 9000, now)
	seedPeer(store, "p3", 9100, now)

	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}
	if got := reg.PeerIDs(); len(got) != 2 || got[0] != "p2" || got[1] != "p3" {
		t.Fatalf("Expected [p2 p3], got %v", got)
	}

	// p3 goes stale
	store.mu.Lock()
	rec := store.records["p3"]
	rec.LastHeartbeat = now.Add(-3 * time.Hour)
	store.records["p3"] = rec
	store.mu.Unlock()

	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}
	if connected(reg, "p3") {
		t.Error("Expected p3 to be gone")
	}
	if conn.isConnected("p3") {
		t.Error("Expected p3 link closed")
	}
	if !conn.isConnected("p2") {
		t.Error("Expected p2 link untouched")
	}
	if len(conn.disconnects) != 1 || conn.disconnects[0] != "p3" {
		t.Errorf("Expected exactly one disconnect of p3, got %v", conn.disconnects)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[2].Kind != PeerLeft || events[2].Peer.ID != "p3" {
		t.Errorf("Expected p3 left event, got %v %s", events[2].Kind, events[2].Peer.ID)
	}
}

// TestDiscoveryRetriesFailedConnect tests that a refused peer is retried next pass
func TestDiscoveryRetriesFailedConnect(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	conn.refuse["p2"] = true
	seedPeer(store, "p2", 9000, time.Now())

	reg, _ := NewRegistry(testConfig("p1"), store, conn)
	ctx := context.Background()

	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}
	if connected(reg, "p2") {
		t.Error("Expected refused peer to stay unknown")
	}

	conn.mu.Lock()
	conn.refuse["p2"] = false
	conn.mu.Unlock()

	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}
	if !connected(reg, "p2") {
		t.Error("Expected p2 connected on retry")
	}
	if conn.connects != 2 {
		t.Errorf("Expected 2 connect attempts, got %d", conn.connects)
	}
}

// TestDiscoveryStoreFailure tests that a store outage keeps the known peers
func TestDiscoveryStoreFailure(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	seedPeer(store, "p2", 9000, time.Now())
	reg, _ := NewRegistry(testConfig("p1"), store, conn)

	ctx := context.Background()
	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}

	store.fail(errors.New("connection reset"))
	if err := reg.DiscoverNow(ctx); err == nil {
		t.Error("Expected discovery error during outage")
	}
	if !connected(reg, "p2") {
		t.Error("Expected p2 retained during outage")
	}
}

// TestStopMarksOffline tests graceful shutdown
func TestStopMarksOffline(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	seedPeer(store, "p2", 9000, time.Now())

	reg, _ := NewRegistry(testConfig("p1"), store, conn)
	ctx := context.Background()
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := reg.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	self, _ := store.get("p1")
	if self.Status != StatusOffline {
		t.Errorf("Expected offline status, got %s", self.Status)
	}
	if conn.isConnected("p2") {
		t.Error("Expected all links closed on stop")
	}
	if reg.Running() {
		t.Error("Expected registry stopped")
	}
	if err := reg.Stop(ctx); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
}

// TestHeartbeatFreshness tests staleness detection of own heartbeat
func TestHeartbeatFreshness(t *testing.T) {
	store := newFakeStore()
	reg, _ := NewRegistry(testConfig("p1"), store, nil)

	if reg.HeartbeatFresh() {
		t.Error("Expected stale before any heartbeat")
	}
	if err := reg.heartbeatOnce(context.Background()); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !reg.HeartbeatFresh() {
		t.Error("Expected fresh heartbeat")
	}

	reg.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	if reg.HeartbeatFresh() {
		t.Error("Expected stale heartbeat after window")
	}
}

// TestLivePeerUsesHeartbeatTable tests that a refused link does not hide a
// peer with a fresh heartbeat
func TestLivePeerUsesHeartbeatTable(t *testing.T) {
	store := newFakeStore()
	conn := newFakeConnector()
	conn.refuse["p2"] = true
	seedPeer(store, "p2", 9000, time.Now())
	seedPeer(store, "p3", 9100, time.Now().Add(-3*time.Hour))

	reg, _ := NewRegistry(testConfig("p1"), store, conn)
	ctx := context.Background()
	if err := reg.DiscoverNow(ctx); err != nil {
		t.Fatalf("DiscoverNow failed: %v", err)
	}
	if connected(reg, "p2") {
		t.Fatal("Expected refused peer to stay unconnected")
	}

	rec, live, err := reg.LivePeer(ctx, "p2")
	if err != nil {
		t.Fatalf("LivePeer failed: %v", err)
	}
	if !live || rec.Port != 9000 {
		t.Errorf("Expected p2 live on 9000, got live=%v port=%d", live, rec.Port)
	}

	if _, live, _ := reg.LivePeer(ctx, "p3"); live {
		t.Error("Expected stale p3 not live")
	}
	if _, live, _ := reg.LivePeer(ctx, "p1"); !live {
		t.Error("Expected self live")
	}

	store.fail(errors.New("connection reset"))
	if _, _, err := reg.LivePeer(ctx, "p2"); err == nil {
		t.Error("Expected store error")
	}
}
