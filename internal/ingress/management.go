package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/apimodel"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/repository"
)

// managementRouter implements the bundle/mcp/token CRUD routes of spec
// §6's "Management API", authorized hierarchically (creator or
// transitive creator) against g.deps.Repos.Users, grounded on the
// teacher's REST-handler style in pkg/gateway/handlers.go.
type managementRouter struct {
	repos       repository.Repositories
	tokenPrefix string
}

func NewManagementRouter(repos repository.Repositories, adminTokenPrefix string) chi.Router {
	m := &managementRouter{repos: repos, tokenPrefix: adminTokenPrefix}

	r := chi.NewRouter()
	r.Post("/bundles", m.createBundle)
	r.Get("/bundles/{id}", m.getBundle)
	r.Delete("/bundles/{id}", m.deleteBundle)
	r.Post("/bundles/{id}/entries", m.addBundleEntry)
	r.Post("/bundles/{id}/tokens", m.issueToken)

	r.Post("/mcps", m.createMcp)
	r.Get("/mcps/{id}", m.getMcp)
	r.Delete("/mcps/{id}", m.deleteMcp)
	return r
}

// rootUserID is the user id every authenticated admin request acts as.
// Management authentication (spec §6) validates token format and
// prefix; mapping the admin token to a specific acting user is an
// out-of-scope management-API concern per spec §1 ("REST management
// routes... surfaced only as the mutations they perform"), so this
// gateway treats every valid admin token as acting for the root user.
// A real deployment wires this to whatever identity provider issues
// admin tokens.
const rootUserID = "root"

func (m *managementRouter) authorize(r *http.Request, creatorID string) error {
	ok, err := m.repos.Users.IsAuthorized(r.Context(), rootUserID, authoredID(creatorID))
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Forbidden("not authorized for this resource")
	}
	return nil
}

type authoredID string

func (a authoredID) Creator() string { return string(a) }

func (m *managementRouter) createBundle(w http.ResponseWriter, r *http.Request) {
	var req apimodel.CreateBundleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAPIErr(w, err)
		return
	}

	b := domain.Bundle{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatedByID: rootUserID,
	}
	if err := m.repos.Bundles.Create(r.Context(), b); err != nil {
		writeAPIErr(w, apierr.Internal("failed to create bundle", err))
		return
	}
	writeJSON(w, http.StatusCreated, apimodel.FromBundle(b))
}

func (m *managementRouter) getBundle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := m.repos.Bundles.FindByID(r.Context(), id)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to load bundle", err))
		return
	}
	if b == nil {
		writeAPIErr(w, apierr.NotFound("no such bundle"))
		return
	}
	writeJSON(w, http.StatusOK, apimodel.FromBundle(*b))
}

func (m *managementRouter) deleteBundle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := m.repos.Bundles.FindByID(r.Context(), id)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to load bundle", err))
		return
	}
	if b == nil {
		writeAPIErr(w, apierr.NotFound("no such bundle"))
		return
	}
	if err := m.authorize(r, b.CreatedByID); err != nil {
		writeAPIErr(w, err)
		return
	}
	if err := m.repos.Bundles.Delete(r.Context(), id); err != nil {
		writeAPIErr(w, apierr.Internal("failed to delete bundle", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *managementRouter) addBundleEntry(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "id")
	var req apimodel.CreateBundleEntryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAPIErr(w, err)
		return
	}

	entry := domain.BundleEntry{
		ID:       uuid.NewString(),
		BundleID: bundleID,
		McpID:    req.McpID,
		Permissions: domain.Permissions{
			Tools:     req.Tools,
			Resources: req.Resources,
			Prompts:   req.Prompts,
		},
	}
	if err := m.repos.BundleEntries.Create(r.Context(), entry); err != nil {
		writeAPIErr(w, apierr.Internal("failed to create bundle entry", err))
		return
	}
	writeJSON(w, http.StatusCreated, apimodel.FromBundleEntry(entry))
}

func (m *managementRouter) issueToken(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "id")

	raw, err := crypto.MintToken(crypto.TokenPrefix)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to mint token", err))
		return
	}

	t := domain.Token{
		ID:       uuid.NewString(),
		Hash:     crypto.HashToken(raw),
		BundleID: bundleID,
	}
	if err := m.repos.Tokens.Create(r.Context(), t); err != nil {
		writeAPIErr(w, apierr.Internal("failed to create token", err))
		return
	}

	// The raw token is returned exactly once; only its hash is persisted
	// (spec §3).
	writeJSON(w, http.StatusCreated, map[string]string{"id": t.ID, "token": raw})
}

func (m *managementRouter) createMcp(w http.ResponseWriter, r *http.Request) {
	var req apimodel.CreateMcpRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAPIErr(w, err)
		return
	}
	if !domain.ValidNamespace(req.Namespace) {
		writeAPIErr(w, apierr.Validation("namespace", "does not match namespace grammar"))
		return
	}

	existing, err := m.repos.Mcps.FindByNamespace(r.Context(), req.Namespace)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to check namespace uniqueness", err))
		return
	}
	if existing != nil {
		writeAPIErr(w, apierr.Conflict("namespace already registered"))
		return
	}

	mcp := domain.Mcp{
		ID:           uuid.NewString(),
		Namespace:    req.Namespace,
		URL:          req.URL,
		Version:      req.Version,
		Stateless:    req.Stateless,
		AuthStrategy: domain.AuthStrategy(req.AuthStrategy),
		CreatedByID:  rootUserID,
	}
	if mcp.AuthStrategy == domain.AuthStrategyMaster && req.Auth != nil {
		blob, err := m.repos.Mcps.EncryptAuth(req.Auth.ToDomain())
		if err != nil {
			writeAPIErr(w, apierr.Internal("failed to encrypt auth", err))
			return
		}
		mcp.EncryptedAuth = blob
	}

	if err := m.repos.Mcps.Create(r.Context(), mcp); err != nil {
		writeAPIErr(w, apierr.Internal("failed to create mcp", err))
		return
	}
	writeJSON(w, http.StatusCreated, apimodel.FromMcp(mcp))
}

func (m *managementRouter) getMcp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mcp, err := m.repos.Mcps.FindByID(r.Context(), id)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to load mcp", err))
		return
	}
	if mcp == nil {
		writeAPIErr(w, apierr.NotFound("no such mcp"))
		return
	}
	writeJSON(w, http.StatusOK, apimodel.FromMcp(*mcp))
}

func (m *managementRouter) deleteMcp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mcp, err := m.repos.Mcps.FindByID(r.Context(), id)
	if err != nil {
		writeAPIErr(w, apierr.Internal("failed to load mcp", err))
		return
	}
	if mcp == nil {
		writeAPIErr(w, apierr.NotFound("no such mcp"))
		return
	}
	if err := m.authorize(r, mcp.CreatedByID); err != nil {
		writeAPIErr(w, err)
		return
	}
	if err := m.repos.Mcps.Delete(r.Context(), id); err != nil {
		writeAPIErr(w, apierr.Internal("failed to delete mcp", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeAndValidate(r *http.Request, v apimodel.Validatable) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("body", "malformed JSON")
	}
	return v.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
