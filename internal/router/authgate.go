package router

import "net/http"

// AuthResult is the outcome of AuthGate.EnsureAuthenticated.
type AuthResult struct {
	OK      bool
	User    string
	Session string
}

// AuthGate is the opaque policy interface consulted on every inbound
// request before any MCP handler runs. Its configuration and
// identity model are intentionally outside this repository's scope.
type AuthGate interface {
	EnsureAuthenticated(r *http.Request) (AuthResult, error)
}

// AllowAllAuthGate is the default no-op AuthGate: every request is
// authenticated as an anonymous user. Swapping in a real AuthGate
// implementation (SSO/OIDC, API keys, …) is an external collaborator's
// concern.
type AllowAllAuthGate struct{}

func (AllowAllAuthGate) EnsureAuthenticated(r *http.Request) (AuthResult, error) {
	return AuthResult{OK: true, User: "anonymous"}, nil
}
