// Package node assembles one collaboration peer: the shared store, the
// messaging fabric, the peer registry, the ownership router, the session
// manager and the two HTTP listeners (control and collaboration).
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/admin"
	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/collab"
	"github.com/dd0wney/cluso-collab/pkg/config"
	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/health"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/routing"
	"github.com/dd0wney/cluso-collab/pkg/server"
	"github.com/dd0wney/cluso-collab/pkg/session"
	"github.com/dd0wney/cluso-collab/pkg/store"
)

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")
)

// Options carries dependencies that are normally built from the config.
// Tests use them to share one in-memory store and network between peers.
type Options struct {
	Store   store.Backend
	Factory fabric.SocketFactory
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Node is one running peer
type Node struct {
	cfg     config.Config
	logger  logging.Logger
	metrics *metrics.Registry

	store    store.Backend
	ownStore bool
	fabric   *fabric.Fabric
	registry *cluster.Registry
	router   *ownership.Router
	sessions *session.Manager
	health   *health.HealthChecker

	routes *routing.Handler
	collab *collab.Handler
	admin  *admin.Handler

	control *server.GracefulServer
	ws      *server.GracefulServer

	mu      sync.Mutex
	started bool
	serveWG sync.WaitGroup
}

// New builds every component without starting any of them. The store is
// opened here so configuration errors surface before anything listens.
func New(ctx context.Context, cfg config.Config, opts Options) (*Node, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		logger:  logging.OrNop(opts.Logger).With(logging.Component("node"), logging.PeerID(cfg.Node.ID)),
		metrics: opts.Metrics,
		store:   opts.Store,
	}
	if n.metrics == nil {
		n.metrics = metrics.NewRegistry()
	}
	logger := logging.OrNop(opts.Logger)

	if n.store == nil {
		backend, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.URL)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		n.store = backend
		n.ownStore = true
	}

	if err := n.build(logger, opts.Factory); err != nil {
		if n.ownStore {
			n.store.Close()
		}
		return nil, err
	}
	return n, nil
}

func (n *Node) build(logger logging.Logger, factory fabric.SocketFactory) error {
	cfg := n.cfg

	regCfg := cluster.RegistryConfig{
		PeerID:              cfg.Node.ID,
		Host:                cfg.Node.Host,
		Port:                cfg.Node.Port,
		HeartbeatInterval:   cfg.Cluster.HeartbeatInterval,
		DiscoveryInterval:   cfg.Cluster.DiscoveryInterval,
		StaleAfter:          cfg.Cluster.StaleAfter,
		BroadcastPortOffset: cfg.Cluster.BroadcastPortOffset,
		DirectPortOffset:    cfg.Cluster.DirectPortOffset,
		Logger:              logger,
		Metrics:             n.metrics,
	}
	regCfg.ApplyDefaults()

	if factory == nil {
		var err error
		if factory, err = fabric.FactoryFor(cfg.Cluster.Transport); err != nil {
			return err
		}
	}

	f, err := fabric.New(fabric.Config{
		PeerID:            cfg.Node.ID,
		Listen:            regCfg.EndpointsFor(cfg.Node.Host, cfg.Node.Port),
		Factory:           factory,
		CallTimeout:       cfg.Cluster.CallTimeout,
		CompressThreshold: cfg.Cluster.CompressThreshold,
		Logger:            logger,
		Metrics:           n.metrics,
	})
	if err != nil {
		return fmt.Errorf("fabric: %w", err)
	}
	n.fabric = f

	if n.registry, err = cluster.NewRegistry(regCfg, n.store, cluster.NewFabricConnector(f, regCfg)); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if n.router, err = ownership.NewRouter(ownership.Config{
		PeerID:  cfg.Node.ID,
		Store:   n.store,
		Logger:  logger,
		Metrics: n.metrics,
	}); err != nil {
		return fmt.Errorf("ownership: %w", err)
	}
	n.router.Attach(f)

	if n.sessions, err = session.NewManager(session.Config{
		PeerID:        cfg.Node.ID,
		MaxBatch:      cfg.Session.MaxBatch,
		SweepInterval: cfg.Session.SweepInterval,
		HistoryLimit:  cfg.Session.HistoryLimit,
		EvictTimeout:  cfg.Session.EvictTimeout,
		AtomicBatches: cfg.Session.AtomicBatches,
		Logger:        logger,
		Metrics:       n.metrics,
	}, n.store, n.router); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	n.sessions.AttachCluster(f, n.registry)

	// A departed peer's claims are dropped from the cache so the next
	// lookup reads the store and can take the key over.
	n.registry.OnChange(func(ev cluster.PeerEvent) {
		if ev.Kind != cluster.PeerLeft {
			return
		}
		if dropped := n.router.Forget(ev.Peer.ID); dropped > 0 {
			n.logger.Info("forgot claims of departed peer",
				logging.String("departed", ev.Peer.ID), logging.Count(dropped))
		}
	})

	if n.routes, err = routing.NewHandler(routing.Config{
		PeerID:         cfg.Node.ID,
		Host:           cfg.Node.Host,
		Port:           cfg.Node.Port,
		SelfPortOffset: cfg.Routing.SelfPortOffset,
		PeerPortOffset: cfg.Routing.PeerPortOffset,
		Logger:         logger,
		Metrics:        n.metrics,
	}, n.router, n.registry); err != nil {
		return fmt.Errorf("routing: %w", err)
	}

	if n.collab, err = collab.NewHandler(collab.Config{
		ReadLimit:      cfg.HTTP.ReadLimit,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
		Metrics:        n.metrics,
	}, n.sessions); err != nil {
		return fmt.Errorf("collab: %w", err)
	}

	if n.admin, err = admin.NewHandler(admin.Sources{
		Membership: n.registry,
		Claims:     n.router,
		Sessions:   n.sessions,
	}, logger); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	n.health = n.healthChecks()
	return nil
}

func (n *Node) healthChecks() *health.HealthChecker {
	hc := health.NewHealthChecker(n.cfg.Node.ID)
	hc.Register("store", health.ScopeHealth|health.ScopeReady, health.StoreCheck(n.store.Ping, 2*time.Second))
	hc.Register("fabric", health.ScopeHealth|health.ScopeReady, health.FabricCheck(n.fabric.Running))
	hc.RegisterCheck("heartbeat", health.HeartbeatCheck(n.registry.LastHeartbeat, n.cfg.Cluster.StaleAfter))
	hc.RegisterCheck("cluster", health.ClusterCheck(func() int { return len(n.registry.PeerIDs()) }))
	hc.RegisterCheck("sessions", health.SessionsCheck(n.sessions.Stats))

	hc.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	return hc
}

// ControlHandler serves routing, health, metrics and the admin view
func (n *Node) ControlHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/route", server.CORS(server.Instrument("/route", n.routes, n.metrics, n.logger)))
	mux.Handle("/health", server.Instrument("/health", n.health.HTTPHandler(), n.metrics, n.logger))
	mux.Handle("/ready", server.Instrument("/ready", n.health.ReadinessHandler(), n.metrics, n.logger))
	mux.Handle("/live", n.health.LivenessHandler())
	mux.Handle("/metrics", n.metrics.Handler())
	mux.Handle("/admin/", server.Instrument("/admin", n.admin, n.metrics, n.logger))
	return server.Recover(mux, n.logger)
}

// CollabHandler serves the collaboration websocket
func (n *Node) CollabHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", server.Instrument("/collab", n.collab, n.metrics, n.logger))
	return server.Recover(mux, n.logger)
}

// startComponents brings up everything except the HTTP listeners
func (n *Node) startComponents(ctx context.Context) error {
	if err := n.fabric.Start(ctx); err != nil {
		return fmt.Errorf("start fabric: %w", err)
	}
	if err := n.registry.Start(ctx); err != nil {
		n.fabric.Stop(ctx)
		return fmt.Errorf("start registry: %w", err)
	}
	if err := n.sessions.Start(ctx); err != nil {
		n.registry.Stop(ctx)
		n.fabric.Stop(ctx)
		return fmt.Errorf("start sessions: %w", err)
	}
	return nil
}

// Start brings the peer up. Both listeners are bound before Start returns
// so port conflicts are reported to the caller.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.startComponents(ctx); err != nil {
		return err
	}

	host := n.cfg.Node.Host
	n.control = server.NewGracefulServer("control",
		net.JoinHostPort(host, strconv.Itoa(n.cfg.Node.Port)), n.ControlHandler(), n.logger)
	n.ws = server.NewGracefulServer("collab",
		net.JoinHostPort(host, strconv.Itoa(n.cfg.CollabPort())), n.CollabHandler(), n.logger)

	for _, gs := range []*server.GracefulServer{n.control, n.ws} {
		if err := gs.Listen(); err != nil {
			_ = n.control.Shutdown(ctx)
			_ = n.ws.Shutdown(ctx)
			_ = n.stopComponents(ctx)
			return err
		}
	}
	for _, gs := range []*server.GracefulServer{n.control, n.ws} {
		n.serveWG.Add(1)
		go func(gs *server.GracefulServer) {
			defer n.serveWG.Done()
			if err := gs.Start(); err != nil {
				n.logger.Error("listener failed", logging.Addr(gs.Addr()), logging.Error(err))
			}
		}(gs)
	}

	n.started = true
	n.logger.Info("peer started",
		logging.Addr(n.control.Addr()),
		logging.String("collab_addr", n.ws.Addr()),
		logging.String("transport", n.cfg.Cluster.Transport),
		logging.String("store", n.cfg.Store.Driver))
	return nil
}

// stopComponents stops in reverse start order. The session manager goes
// first so it can release its claims while the fabric still announces.
func (n *Node) stopComponents(ctx context.Context) error {
	var errs []error
	if err := n.sessions.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop sessions: %w", err))
	}
	if err := n.registry.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop registry: %w", err))
	}
	if err := n.fabric.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop fabric: %w", err))
	}
	return errors.Join(errs...)
}

// Stop drains both listeners, stops every component and closes the store
// if the node opened it.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return ErrNotStarted
	}
	n.started = false

	var errs []error
	for _, gs := range []*server.GracefulServer{n.ws, n.control} {
		if err := gs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	n.serveWG.Wait()

	if err := n.stopComponents(ctx); err != nil {
		errs = append(errs, err)
	}
	if n.ownStore {
		if err := n.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	n.logger.Info("peer stopped")
	return errors.Join(errs...)
}

// Reload applies the settings that can change without a restart. Only the
// log level qualifies today.
func (n *Node) Reload(cfg config.Config) {
	n.logger.SetLevel(cfg.LogLevel())
	n.logger.Info("configuration reloaded", logging.String("level", cfg.Log.Level))
}

// Config returns the effective configuration
func (n *Node) Config() config.Config { return n.cfg }

// Store returns the shared store backend
func (n *Node) Store() store.Backend { return n.store }

// Registry returns the peer registry
func (n *Node) Registry() *cluster.Registry { return n.registry }

// Router returns the ownership router
func (n *Node) Router() *ownership.Router { return n.router }

// Sessions returns the session manager
func (n *Node) Sessions() *session.Manager { return n.sessions }
