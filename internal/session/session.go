// Package session implements the Session aggregate of spec §4.8: owns
// connectors, routes client operations, monitors idle time, and closes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/connpool"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/namespace"
)

// State is the session lifecycle state machine of spec §4.8:
// INITIALIZING -> READY -> CLOSING -> CLOSED.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateClosing      State = "CLOSING"
	StateClosed       State = "CLOSED"
)

// ConnectFactory is a factory for the raw (unfiltered) connector behind one
// resolved upstream; supplied by the caller so this package never depends
// on a concrete transport (spec §1: "the core consumes an
// UpstreamConnector capability, not a transport").
type ConnectFactory func(upstream domain.ResolvedUpstream) connector.Connector

// Config bundles the idle-monitor settings of spec §4.8.
type Config struct {
	IdleCheckInterval time.Duration
	IdleThreshold     time.Duration
}

// Session is the runtime-only aggregate of spec §3/§4.8.
type Session struct {
	ID        string
	BundleID  string
	CreatedAt time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	connectors   map[string]connector.Connector // namespace -> filtered connector
	order        []string                       // namespaces in attachment order, spec §5
	pooledKeys   map[string]string              // namespace -> pool key, for non-disconnecting detach

	pool      *connpool.Pool
	resolver  *namespace.Resolver
	connect   ConnectFactory
	cfg       Config
	shutdownC []func()

	stopIdle chan struct{}
	once     sync.Once
}

// New constructs a session in INITIALIZING state. Call AttachUpstream for
// each resolved upstream, then Start to begin idle monitoring and enter
// READY.
func New(bundleID string, pool *connpool.Pool, resolver *namespace.Resolver, connect ConnectFactory, cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		BundleID:     bundleID,
		CreatedAt:    now,
		state:        StateInitializing,
		lastActivity: now,
		connectors:   make(map[string]connector.Connector),
		pooledKeys:   make(map[string]string),
		pool:         pool,
		resolver:     resolver,
		connect:      connect,
		cfg:          cfg,
	}
}

// OnShutdown registers a handler invoked exactly once when this session
// emits SHUTDOWN, spec §4.8.
func (s *Session) OnShutdown(fn func()) {
	s.mu.Lock()
	s.shutdownC = append(s.shutdownC, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AttachUpstream implements spec §4.8's attachUpstream: bind a pooled
// stateless connector if present, else construct, connect, and wrap a
// fresh one, publishing it to the pool when stateless. Errors are
// returned as apierr.AttachFailed but never close the session.
func (s *Session) AttachUpstream(ctx context.Context, upstream domain.ResolvedUpstream) error {
	var base connector.Connector
	var err error

	if upstream.Stateless && s.pool != nil {
		key := connpool.Key(upstream.Namespace, upstream.URL)
		base, err = s.pool.GetOrCreate(ctx, key, func() connector.Connector {
			return s.connect(upstream)
		})
		if err != nil {
			return apierr.AttachFailed(upstream.Namespace, err)
		}
		s.mu.Lock()
		s.pooledKeys[upstream.Namespace] = key
		s.mu.Unlock()
	} else {
		base = s.connect(upstream)
		if err := base.Connect(ctx); err != nil {
			return apierr.AttachFailed(upstream.Namespace, err)
		}
	}

	filtered := connector.NewFiltered(base, upstream.Namespace, upstream.Permissions, s.resolver)

	s.mu.Lock()
	wasEmpty := len(s.connectors) == 0 && s.state == StateInitializing
	if _, attached := s.connectors[upstream.Namespace]; !attached {
		s.order = append(s.order, upstream.Namespace)
	}
	s.connectors[upstream.Namespace] = filtered
	s.mu.Unlock()

	if wasEmpty {
		s.enterReady()
	}
	return nil
}

// Start transitions an empty-bundle session straight to READY (spec
// §4.8: "or immediately if the bundle is empty"). Calling it after at
// least one successful AttachUpstream is a no-op — that call already
// transitioned the session.
func (s *Session) Start() {
	s.mu.Lock()
	needsReady := s.state == StateInitializing
	s.mu.Unlock()
	if needsReady {
		s.enterReady()
	}
}

func (s *Session) enterReady() {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.stopIdle = make(chan struct{})
	stop := s.stopIdle
	s.mu.Unlock()

	go s.idleMonitor(stop)
}

func (s *Session) idleMonitor(stop chan struct{}) {
	interval := s.cfg.IdleCheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	threshold := s.cfg.IdleThreshold
	if threshold <= 0 {
		threshold = 20 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			idleFor := time.Since(s.lastActivity)
			shouldClose := idleFor >= threshold && s.state == StateReady
			s.mu.Unlock()
			if shouldClose {
				s.Close(context.Background())
				return
			}
		}
	}
}

func (s *Session) requireReady() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateClosed || state == StateClosing {
		return apierr.SessionClosed("session is closed")
	}
	return nil
}

// ListTools aggregates listTools from every attached filtered connector,
// in attachment order; partial failures log and are omitted, spec §4.8.
func (s *Session) ListTools(ctx context.Context) ([]connector.Tool, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()

	var out []connector.Tool
	for _, nc := range s.snapshotConnectors() {
		tools, err := nc.c.ListTools(ctx)
		if err != nil {
			gwlog.Warn("listTools failed for upstream; omitting from aggregate", map[string]any{
				"namespace": nc.ns, "error": err.Error(),
			})
			continue
		}
		out = append(out, tools...)
	}
	return out, nil
}

// ListResources aggregates listResources, spec §4.8.
func (s *Session) ListResources(ctx context.Context) ([]connector.Resource, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()

	var out []connector.Resource
	for _, nc := range s.snapshotConnectors() {
		res, err := nc.c.ListResources(ctx)
		if err != nil {
			gwlog.Warn("listResources failed for upstream; omitting from aggregate", map[string]any{
				"namespace": nc.ns, "error": err.Error(),
			})
			continue
		}
		out = append(out, res...)
	}
	return out, nil
}

// ListResourceTemplates aggregates listResourceTemplates, spec §4.8.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]connector.ResourceTemplate, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()

	var out []connector.ResourceTemplate
	for _, nc := range s.snapshotConnectors() {
		res, err := nc.c.ListResourceTemplates(ctx)
		if err != nil {
			gwlog.Warn("listResourceTemplates failed for upstream; omitting from aggregate", map[string]any{
				"namespace": nc.ns, "error": err.Error(),
			})
			continue
		}
		out = append(out, res...)
	}
	return out, nil
}

// ListPrompts aggregates listPrompts, spec §4.8.
func (s *Session) ListPrompts(ctx context.Context) ([]connector.Prompt, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()

	var out []connector.Prompt
	for _, nc := range s.snapshotConnectors() {
		prompts, err := nc.c.ListPrompts(ctx)
		if err != nil {
			gwlog.Warn("listPrompts failed for upstream; omitting from aggregate", map[string]any{
				"namespace": nc.ns, "error": err.Error(),
			})
			continue
		}
		out = append(out, prompts...)
	}
	return out, nil
}

// routeByName extracts the namespace from a namespaced capability name
// and returns the owning filtered connector, or UnknownCapability.
func (s *Session) routeByName(name string) (connector.Connector, error) {
	ns, _, err := s.resolver.ExtractFromName(name)
	if err != nil {
		return nil, apierr.UnknownCapability(err.Error())
	}
	return s.lookupConnector(ns)
}

func (s *Session) lookupConnector(ns string) (connector.Connector, error) {
	s.mu.Lock()
	c, ok := s.connectors[ns]
	s.mu.Unlock()
	if !ok {
		return nil, apierr.UnknownCapability("no attached upstream for namespace " + ns)
	}
	return c, nil
}

// CallTool routes a namespaced tool call to its owning filtered
// connector, spec §4.8.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*connector.CallToolResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()
	c, err := s.routeByName(name)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, name, arguments)
}

// ReadResource routes a namespaced resource read, spec §4.8.
func (s *Session) ReadResource(ctx context.Context, uri string) (*connector.ReadResourceResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()

	ns, _ := namespace.ExtractFromURI(uri)
	c, err := s.lookupConnector(ns)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri)
}

// GetPrompt routes a namespaced prompt fetch, spec §4.8.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*connector.GetPromptResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	s.touch()
	c, err := s.routeByName(name)
	if err != nil {
		return nil, err
	}
	return c.GetPrompt(ctx, name, arguments)
}

// namedConnector pairs a namespace with its filtered connector, preserving
// attachment order where a map would randomize it.
type namedConnector struct {
	ns string
	c  connector.Connector
}

func (s *Session) snapshotConnectors() []namedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]namedConnector, 0, len(s.order))
	for _, ns := range s.order {
		if c, ok := s.connectors[ns]; ok {
			out = append(out, namedConnector{ns: ns, c: c})
		}
	}
	return out
}

// Close implements spec §4.8's close(): CLOSING, disconnect owned
// connectors, detach pooled ones without disconnecting, emit SHUTDOWN
// exactly once, then CLOSED. Idempotent.
func (s *Session) Close(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		stop := s.stopIdle
		connectors := s.connectors
		pooled := s.pooledKeys
		s.connectors = make(map[string]connector.Connector)
		handlers := s.shutdownC
		s.mu.Unlock()

		if stop != nil {
			close(stop)
		}

		for ns, c := range connectors {
			if _, isPooled := pooled[ns]; isPooled {
				continue // pool owns its lifetime; detach without disconnecting
			}
			if err := c.Disconnect(ctx); err != nil {
				gwlog.Warn("error disconnecting owned connector during close", map[string]any{
					"namespace": ns, "error": err.Error(),
				})
			}
		}

		for _, h := range handlers {
			h()
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
}
