package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tascade/tascade/internal/app"
	"github.com/tascade/tascade/internal/auth"
	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
)

// handlers bundles the wired Application every resource handler reads from.
type handlers struct {
	app *app.Application
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return kerrors.New(kerrors.InvalidWorkSpec, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return kerrors.New(kerrors.InvalidWorkSpec, "invalid request body: %v", err)
	}
	return nil
}

// requirePrincipal resolves the authenticated principal stashed by
// authMiddleware. Every route behind it is guaranteed to have one.
func requirePrincipal(r *http.Request) auth.Principal {
	p, _ := principalFromContext(r.Context())
	return p
}

// authorizeProject rejects a request whose principal is not scoped to
// projectID, per the cross-project isolation requirement.
func authorizeProject(r *http.Request, projectID string) error {
	p := requirePrincipal(r)
	if !p.AuthorizedFor(projectID) {
		return kerrors.New(kerrors.AuthDenied, "not authorized for project %s", projectID)
	}
	return nil
}

// requireRole rejects a request whose principal's role is not among allowed.
func requireRole(r *http.Request, allowed ...domain.Role) error {
	return auth.RequireRole(requirePrincipal(r), allowed...)
}
