package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/connpool"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/namespace"
)

type fakeConn struct {
	ns string

	mu           sync.Mutex
	connected    bool
	disconnected bool
	connectErr   error

	tools []connector.Tool
}

func newFakeConn(ns string) *fakeConn { return &fakeConn{ns: ns} }

func (f *fakeConn) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnected = true
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) Reconnect(context.Context) error { return nil }
func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeConn) GetNamespace() string { return f.ns }
func (f *fakeConn) GetCapabilities() connector.Capabilities {
	return connector.Capabilities{Tools: true, Resources: true, Prompts: true}
}
func (f *fakeConn) Subscribe(connector.Event, connector.Handler) func() { return func() {} }
func (f *fakeConn) ListTools(context.Context) ([]connector.Tool, error) {
	return f.tools, nil
}
func (f *fakeConn) ListPrompts(context.Context) ([]connector.Prompt, error) { return nil, nil }
func (f *fakeConn) ListResources(context.Context) ([]connector.Resource, error) {
	return nil, nil
}
func (f *fakeConn) ListResourceTemplates(context.Context) ([]connector.ResourceTemplate, error) {
	return nil, nil
}
func (f *fakeConn) CallTool(context.Context, string, map[string]any) (*connector.CallToolResult, error) {
	return &connector.CallToolResult{}, nil
}
func (f *fakeConn) ReadResource(context.Context, string) (*connector.ReadResourceResult, error) {
	return &connector.ReadResourceResult{}, nil
}
func (f *fakeConn) GetPrompt(context.Context, string, map[string]string) (*connector.GetPromptResult, error) {
	return &connector.GetPromptResult{}, nil
}

func testResolver() *namespace.Resolver { return namespace.New(namespace.HashModeNever, 64) }

func upstream(ns string, stateless bool) domain.ResolvedUpstream {
	return domain.ResolvedUpstream{
		Namespace:   ns,
		URL:         "https://" + ns + ".example",
		Stateless:   stateless,
		Permissions: domain.Permissions{Tools: []string{"*"}, Resources: []string{"*"}, Prompts: []string{"*"}},
	}
}

func TestNewSessionStartsInitializing(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), func(domain.ResolvedUpstream) connector.Connector { return newFakeConn("x") }, Config{})
	assert.Equal(t, StateInitializing, s.State())
}

func TestStartOnEmptyBundleEntersReadyImmediately(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), nil, Config{})
	s.Start()
	assert.Equal(t, StateReady, s.State())
	s.Close(context.Background())
}

func TestAttachUpstreamNonStatelessConnectsOwnedConnector(t *testing.T) {
	conn := newFakeConn("github")
	s := New("b1", connpool.New(), testResolver(), func(domain.ResolvedUpstream) connector.Connector { return conn }, Config{})

	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", false)))
	assert.Equal(t, StateReady, s.State())
	assert.True(t, conn.IsConnected())

	s.Close(context.Background())
	assert.True(t, conn.disconnected)
}

func TestAttachUpstreamStatelessUsesPool(t *testing.T) {
	pool := connpool.New()
	conn := newFakeConn("github")
	s := New("b1", pool, testResolver(), func(domain.ResolvedUpstream) connector.Connector { return conn }, Config{})

	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", true)))
	assert.True(t, pool.Has(connpool.Key("github", "https://github.example")))

	s.Close(context.Background())
	assert.False(t, conn.disconnected, "pooled connector must not be disconnected on session close")
}

func TestAttachUpstreamFailurePropagatesAttachFailedAndDoesNotCloseSession(t *testing.T) {
	conn := newFakeConn("github")
	conn.connectErr = errors.New("dial failed")
	s := New("b1", connpool.New(), testResolver(), func(domain.ResolvedUpstream) connector.Connector { return conn }, Config{})

	err := s.AttachUpstream(context.Background(), upstream("github", false))
	require.Error(t, err)
	assert.Equal(t, apierr.KindAttachFailed, apierr.KindOf(err))
	assert.Equal(t, StateInitializing, s.State())
}

func TestSecondAttachDoesNotReenterReady(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(),
		func(u domain.ResolvedUpstream) connector.Connector { return newFakeConn(u.Namespace) }, Config{})

	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", false)))
	assert.Equal(t, StateReady, s.State())
	require.NoError(t, s.AttachUpstream(context.Background(), upstream("jira", false)))
	assert.Equal(t, StateReady, s.State())

	s.Close(context.Background())
}

func TestCallToolRoutesByNamespace(t *testing.T) {
	github := newFakeConn("github")
	jira := newFakeConn("jira")
	connects := map[string]*fakeConn{"github": github, "jira": jira}
	s := New("b1", connpool.New(), testResolver(),
		func(u domain.ResolvedUpstream) connector.Connector { return connects[u.Namespace] }, Config{})

	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", false)))
	require.NoError(t, s.AttachUpstream(context.Background(), upstream("jira", false)))

	_, err := s.CallTool(context.Background(), "github__create_issue", nil)
	require.NoError(t, err)

	s.Close(context.Background())
}

func TestCallToolUnknownNamespaceReturnsUnknownCapability(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), func(domain.ResolvedUpstream) connector.Connector { return newFakeConn("github") }, Config{})
	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", false)))

	_, err := s.CallTool(context.Background(), "jira__create_issue", nil)
	require.Error(t, err)
	assert.Equal(t, apierr.KindUnknownCapability, apierr.KindOf(err))

	s.Close(context.Background())
}

func TestOperationsFailAfterClose(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), nil, Config{})
	s.Start()
	s.Close(context.Background())

	_, err := s.ListTools(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierr.KindSessionClosed, apierr.KindOf(err))
}

func TestCloseIsIdempotentAndRunsShutdownHandlersOnce(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), nil, Config{})
	s.Start()

	calls := 0
	s.OnShutdown(func() { calls++ })

	s.Close(context.Background())
	s.Close(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, s.State())
}

func TestListToolsAggregatesAcrossUpstreamsAndOmitsFailures(t *testing.T) {
	ok := newFakeConn("github")
	ok.tools = []connector.Tool{{Name: "create_issue"}}
	s := New("b1", connpool.New(), testResolver(), func(u domain.ResolvedUpstream) connector.Connector { return ok }, Config{})
	require.NoError(t, s.AttachUpstream(context.Background(), upstream("github", false)))

	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "github__create_issue", tools[0].Name)

	s.Close(context.Background())
}

func TestListToolsPreservesAttachmentOrderAcrossManyUpstreams(t *testing.T) {
	namespaces := []string{"zeta", "alpha", "mike", "bravo", "charlie"}
	conns := make(map[string]*fakeConn, len(namespaces))
	for _, ns := range namespaces {
		c := newFakeConn(ns)
		c.tools = []connector.Tool{{Name: "do_thing"}}
		conns[ns] = c
	}
	s := New("b1", connpool.New(), testResolver(),
		func(u domain.ResolvedUpstream) connector.Connector { return conns[u.Namespace] }, Config{})

	for _, ns := range namespaces {
		require.NoError(t, s.AttachUpstream(context.Background(), upstream(ns, false)))
	}

	for i := 0; i < 20; i++ {
		tools, err := s.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, len(namespaces))
		for idx, ns := range namespaces {
			assert.Equal(t, ns+"__do_thing", tools[idx].Name, "iteration %d", i)
		}
	}

	s.Close(context.Background())
}

func TestIdleMonitorClosesSessionAfterThreshold(t *testing.T) {
	s := New("b1", connpool.New(), testResolver(), nil, Config{
		IdleCheckInterval: 5 * time.Millisecond,
		IdleThreshold:     10 * time.Millisecond,
	})
	s.Start()

	require.Eventually(t, func() bool {
		return s.State() == StateClosed
	}, time.Second, 5*time.Millisecond)
}
