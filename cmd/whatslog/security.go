package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "whatslog/internal/errors"
)

// gatewayKeyHeader is the header Evolution uses for its own API key; it can be
// configured to send the webhook token there too.
const gatewayKeyHeader = "apikey"

// verifyWebhookToken reports whether r carries the shared webhook token. An
// empty token disables the check.
func verifyWebhookToken(r *http.Request, token, headerName string) bool {
	if token == "" {
		return true
	}
	for _, name := range []string{headerName, gatewayKeyHeader} {
		presented := r.Header.Get(name)
		if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// AccountResolver identifies the account behind an API request.
type AccountResolver interface {
	AccountID(r *http.Request) (string, error)
}

// HeaderAccountResolver trusts an account id injected by an authenticating
// proxy in front of the service.
type HeaderAccountResolver struct {
	header string
}

func NewHeaderAccountResolver(header string) *HeaderAccountResolver {
	return &HeaderAccountResolver{header: header}
}

func (h *HeaderAccountResolver) AccountID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.header))
	if id == "" {
		return "", apperrors.NewAuthError("missing " + h.header + " header")
	}
	return id, nil
}

type contextKey string

const accountIDKey contextKey = "account_id"

func withAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

func accountIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(accountIDKey).(string); ok {
		return id
	}
	return ""
}

// requireAccount rejects API requests that cannot be tied to an account.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := s.deps.Accounts.AccountID(r)
		if err != nil {
			s.writeError(w, r, err, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccountID(r.Context(), accountID)))
	})
}
