// Package ingress is the gateway front-end of spec §2/§6: client-facing
// /mcp routing, management API, credential API, and the health endpoint.
// Routing is built on go-chi/chi/v5 (promoted from an indirect teacher
// dependency), with bearer-token middleware grounded on the teacher's
// pkg/gateway/auth.go authenticationMiddlewareMulti (constant-time
// comparison, /health always public).
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/bundle"
	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/connpool"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/namespace"
	"github.com/mcpbundler/gateway/internal/repository"
	"github.com/mcpbundler/gateway/internal/session"
)

// Dependencies wires everything a Gateway front-end needs, per spec §2's
// data-flow diagram.
type Dependencies struct {
	Repos             repository.Repositories
	Resolver          *bundle.Resolver
	Pool              *connpool.Pool
	NamespaceResolver *namespace.Resolver
	SessionConfig     session.Config
	ConnectFactory    session.ConnectFactory
	MaxSessions       int // spec §6: "Concurrent-session limit -> 503"; 0 = unlimited
	AdminTokenPrefix  string

	// AdminToken is the static admin secret compared against every bearer
	// token with the admin prefix, constant-time, grounded on the
	// teacher's pkg/gateway/auth.go single-secret comparison. Empty means
	// no secret is configured and format validation alone gates access.
	AdminToken string
}

// Gateway is the front-end of spec §2: accepts client connections and
// dispatches to sessions.
type Gateway struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func New(deps Dependencies) *Gateway {
	return &Gateway{deps: deps, sessions: make(map[string]*session.Session)}
}

// Router builds the full chi.Mux: /mcp client ingress, /admin management
// API, /credentials credential API, and /healthz.
func (g *Gateway) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", g.handleHealthz)

	r.Route("/mcp", func(r chi.Router) {
		r.Use(requireAcceptHeader)
		r.Post("/", g.handleMCPPost)
		r.Get("/", g.handleMCPGet)
		r.Delete("/", g.handleMCPDelete)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(g.adminAuth)
		r.Mount("/", NewManagementRouter(g.deps.Repos, g.deps.AdminTokenPrefix))
	})

	r.Route("/credentials", func(r chi.Router) {
		r.Use(bundleTokenAuth)
		r.Mount("/", NewCredentialRouter(g.deps.Repos))
	})

	return r
}

// requestLogger is the structured per-request logging middleware of
// SPEC_FULL §12, adapted from the teacher's OTel-span-per-request style
// in pkg/gateway/handlers.go to plain zerolog fields.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		gwlog.Log("request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"session_id":  r.Header.Get("mcp-session-id"),
		})
	})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requireAcceptHeader implements spec §6: all three /mcp methods require
// "Accept: application/json, text/event-stream"; missing -> 406.
func requireAcceptHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
			http.Error(w, "Not Acceptable", http.StatusNotAcceptable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth authenticates the management API with the admin token prefix,
// spec §6 ("same mcpb_ scheme but a distinct prefix; 401 for format
// mismatch"), grounded on the teacher's constant-time Bearer comparison
// against the configured secret (pkg/gateway/auth.go's
// authenticationMiddlewareMulti).
func (g *Gateway) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !crypto.ValidTokenFormat(token, g.deps.AdminTokenPrefix) {
			unauthorized(w)
			return
		}
		if g.deps.AdminToken != "" && !constantTimeEqual(token, g.deps.AdminToken) {
			unauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), adminTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bundleTokenAuth authenticates the credential API with the per-session
// X-Bundle-Token header, spec §6.
func bundleTokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Bundle-Token")
		if token == "" || !crypto.ValidTokenFormat(token, crypto.TokenPrefix) {
			unauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), bundleTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type adminTokenKey struct{}
type bundleTokenKey struct{}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func writeAPIErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(kind), "message": err.Error()})
}

// handleMCPPost implements spec §6's POST /mcp: either session-creating
// (no session header, method = initialize) or session-scoped.
func (g *Gateway) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	if sessionID == "" {
		g.createSession(w, r)
		return
	}

	s, ok := g.lookupSession(sessionID)
	if !ok {
		writeAPIErr(w, apierr.SessionClosed("no such session"))
		return
	}

	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeAPIErr(w, apierr.Validation("body", "malformed JSON-RPC envelope"))
		return
	}
	g.dispatch(w, r.Context(), s, env)
}

// createSession implements the token-bearing, session-creating POST:
// resolve the bundle, build a session, attach every upstream.
func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeAPIErr(w, apierr.UnauthorizedToken("missing bearer token"))
		return
	}

	if g.deps.MaxSessions > 0 && g.sessionCount() >= g.deps.MaxSessions {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	desc, err := g.deps.Resolver.Resolve(r.Context(), token)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	s := session.New(desc.BundleID, g.deps.Pool, g.deps.NamespaceResolver, g.deps.ConnectFactory, g.deps.SessionConfig)
	for _, up := range desc.Upstreams {
		if err := s.AttachUpstream(r.Context(), up); err != nil {
			gwlog.Warn("failed to attach upstream during session creation", map[string]any{
				"session_id": s.ID, "namespace": up.Namespace, "error": err.Error(),
			})
		}
	}
	s.Start()

	g.registerSession(s)
	s.OnShutdown(func() { g.unregisterSession(s.ID) })

	w.Header().Set("mcp-session-id", s.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessionId":   s.ID,
		"bundleName":  desc.Name,
		"skippedMcps": desc.SkippedMcps,
	})
}

// handleMCPGet opens the server-initiated event stream for an existing
// session, spec §6. The stream carries only a periodic comment heartbeat
// so proxies don't idle-timeout the connection; no connector events
// (tools/list_changed etc.) are forwarded on it.
func (g *Gateway) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	s, ok := g.lookupSession(sessionID)
	if !ok {
		writeAPIErr(w, apierr.SessionClosed("no such session"))
		return
	}
	_ = s

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleMCPDelete terminates a session, spec §6.
func (g *Gateway) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("mcp-session-id")
	s, ok := g.lookupSession(sessionID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.Close(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) registerSession(s *session.Session) {
	g.mu.Lock()
	g.sessions[s.ID] = s
	g.mu.Unlock()
}

func (g *Gateway) unregisterSession(id string) {
	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()
}

func (g *Gateway) lookupSession(id string) (*session.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	return s, ok
}

func (g *Gateway) sessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// rpcEnvelope is the minimal JSON-RPC 2.0 shape the MCP wire protocol
// carries; only the fields this gateway needs to route are parsed.
type rpcEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// dispatch routes a decoded JSON-RPC envelope to the matching Session
// operation, translating its MCP result or apierr.Error into the wire
// response.
func (g *Gateway) dispatch(w http.ResponseWriter, ctx context.Context, s *session.Session, env rpcEnvelope) {
	var (
		result any
		err    error
	)

	switch env.Method {
	case "tools/list":
		result, err = s.ListTools(ctx)
	case "resources/list":
		result, err = s.ListResources(ctx)
	case "resources/templates/list":
		result, err = s.ListResourceTemplates(ctx)
	case "prompts/list":
		result, err = s.ListPrompts(ctx)
	case "tools/call":
		result, err = callTool(ctx, s, env.Params)
	case "resources/read":
		result, err = readResource(ctx, s, env.Params)
	case "prompts/get":
		result, err = getPrompt(ctx, s, env.Params)
	default:
		err = apierr.UnknownCapability("unsupported method " + env.Method)
	}

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      env.ID,
		"result":  result,
	})
}

func callTool(ctx context.Context, s *session.Session, params map[string]any) (*connector.CallToolResult, error) {
	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)
	return s.CallTool(ctx, name, args)
}

func readResource(ctx context.Context, s *session.Session, params map[string]any) (*connector.ReadResourceResult, error) {
	uri, _ := params["uri"].(string)
	return s.ReadResource(ctx, uri)
}

func getPrompt(ctx context.Context, s *session.Session, params map[string]any) (*connector.GetPromptResult, error) {
	name, _ := params["name"].(string)
	args := make(map[string]string)
	if raw, ok := params["arguments"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				args[k] = s
			}
		}
	}
	return s.GetPrompt(ctx, name, args)
}
