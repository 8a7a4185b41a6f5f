package ingress

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/apimodel"
	"github.com/mcpbundler/gateway/internal/crypto"
	"github.com/mcpbundler/gateway/internal/repository"
)

// credentialRouter implements spec §6's "Credential API": bind/update/
// remove a USER_SET auth override for (token, mcp), authenticated with
// X-Bundle-Token instead of Authorization.
type credentialRouter struct {
	repos repository.Repositories
}

func NewCredentialRouter(repos repository.Repositories) chi.Router {
	c := &credentialRouter{repos: repos}

	r := chi.NewRouter()
	r.Put("/{mcpId}", c.bind)
	r.Delete("/{mcpId}", c.remove)
	return r
}

func tokenIDFromRequest(r *http.Request, repos repository.Repositories) (string, error) {
	token, _ := r.Context().Value(bundleTokenKey{}).(string)
	hash := crypto.HashToken(token)
	t, err := repos.Tokens.FindByHash(r.Context(), hash)
	if err != nil {
		return "", apierr.Internal("failed to resolve token", err)
	}
	if t == nil {
		return "", apierr.UnauthorizedToken("unknown token")
	}
	return t.ID, nil
}

func (c *credentialRouter) bind(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDFromRequest(r, c.repos)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	mcpID := chi.URLParam(r, "mcpId")

	var req apimodel.BindCredentialRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeAPIErr(w, err)
		return
	}

	if err := c.repos.Credentials.Bind(r.Context(), tokenID, mcpID, req.ToDomain()); err != nil {
		writeAPIErr(w, apierr.Internal("failed to bind credential", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *credentialRouter) remove(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDFromRequest(r, c.repos)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	mcpID := chi.URLParam(r, "mcpId")

	if err := c.repos.Credentials.Remove(r.Context(), tokenID, mcpID); err != nil {
		writeAPIErr(w, apierr.Internal("failed to remove credential", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
