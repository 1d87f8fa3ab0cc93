package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/observastack/observastack/pkg/tokenstore"
)

// Method selects the identity backend.
type Method string

const (
	MethodFederated Method = "federated"
	MethodLocal     Method = "local"
)

// ParseMethod resolves a configured method name. An empty name selects the
// federated backend.
func ParseMethod(value string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(value))) {
	case "", MethodFederated:
		return MethodFederated, nil
	case MethodLocal:
		return MethodLocal, nil
	default:
		return "", fmt.Errorf("unknown auth method %q (expected %s or %s)", value, MethodFederated, MethodLocal)
	}
}

// SessionUser is the backend independent view of the signed-in user.
type SessionUser struct {
	ID        string   `json:"id" yaml:"id"`
	Username  string   `json:"username" yaml:"username"`
	Email     string   `json:"email" yaml:"email"`
	FirstName string   `json:"firstName,omitempty" yaml:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty" yaml:"lastName,omitempty"`
	Roles     []string `json:"roles" yaml:"roles"`
}

// HasRole reports whether the user carries the named role.
func (u *SessionUser) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}

// Credentials are required by the local backend and ignored by the federated one.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

func (c *Credentials) complete() bool {
	return c != nil && c.Password != "" && (c.Username != "" || c.Email != "")
}

// LoginResult describes how a login completed. The federated backend reports
// a redirect based flow; the local backend returns the issued bundle.
type LoginResult struct {
	Redirected bool
	Tokens     *tokenstore.Bundle
}

// Backend is the session contract both identity backends implement.
type Backend interface {
	// Init prepares the backend and reports whether a session already exists.
	Init(ctx context.Context) (bool, error)
	Login(ctx context.Context, creds *Credentials) (*LoginResult, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (*SessionUser, error)
	IsAuthenticated(ctx context.Context) bool
	Token() (string, bool)
	// Refresh renews the session when it is about to expire and reports
	// whether a refresh happened. Failures yield false.
	Refresh(ctx context.Context) bool
}
