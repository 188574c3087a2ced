package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/2beens/homecoach/internal/telemetry/tracing"
	"github.com/2beens/homecoach/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const AuthTokenHeader = "X-COACH-TOKEN"

//go:generate mockgen -source=$GOFILE -destination=auth_mocks_test.go -package=middleware_test

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// BcryptTokenVerifier checks device tokens against a single bcrypt hash.
// Tokens that passed once are remembered, bcrypt is slow on purpose.
type BcryptTokenVerifier struct {
	tokenHash string
	verified  sync.Map
}

func NewBcryptTokenVerifier(tokenHash string) *BcryptTokenVerifier {
	return &BcryptTokenVerifier{
		tokenHash: tokenHash,
	}
}

func (v *BcryptTokenVerifier) Verify(_ context.Context, token string) (bool, error) {
	if token == "" || v.tokenHash == "" {
		return false, nil
	}
	if _, ok := v.verified.Load(token); ok {
		return true, nil
	}
	if !pkg.CheckTokenHash(token, v.tokenHash) {
		return false, nil
	}
	v.verified.Store(token, struct{}{})
	return true, nil
}

type AuthMiddlewareHandler struct {
	verifier     tokenVerifier
	allowedPaths map[string]bool
}

func NewAuthMiddlewareHandler(verifier tokenVerifier) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		verifier: verifier,
		allowedPaths: map[string]bool{
			"/":       true,
			"/health": true,
		},
	}
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if h.allowedPaths[r.URL.Path] {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			authToken := r.Header.Get(AuthTokenHeader)
			if authToken == "" {
				log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-auth-token")
				return
			}

			valid, err := h.verifier.Verify(ctx, authToken)
			if err != nil {
				log.Errorf("[failed token check] => %s: %s", r.URL.Path, err)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "verify-token-err")
				span.RecordError(err)
				return
			}
			if !valid {
				reqIp, _ := pkg.ReadUserIP(r)
				log.Warnf("[invalid token] [auth middleware] unauthorized => %s, from %s", r.URL.Path, reqIp)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-token")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
