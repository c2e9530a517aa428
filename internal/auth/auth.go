// Package auth resolves the caller's identity from a bearer token. Token
// issuance belongs to the account service; this side only verifies.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

var (
	ErrInvalidToken    = apperr.New(apperr.Unauthenticated, "invalid token")
	ErrMissingIdentity = apperr.New(apperr.Unauthenticated, "missing identity")
)

// Claims carries the subject plus an optional display name.
type Claims struct {
	Name string `json:"name,omitempty"`
	gojwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	clock  clockwork.Clock
	log    *zap.Logger
}

// NewVerifier verifies HS256 tokens signed with secret. An empty secret
// switches to development mode, where identity comes from X-User-ID and
// X-User-Name headers (or userId/username query params) without any check.
func NewVerifier(secret string, clock clockwork.Clock, log *zap.Logger) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{secret: []byte(secret), clock: clock, log: log.Named("auth")}
}

func (v *Verifier) DevMode() bool { return len(v.secret) == 0 }

// Verify parses and validates a token string.
func (v *Verifier) Verify(token string) (match.Identity, error) {
	var claims Claims
	_, err := gojwt.ParseWithClaims(token, &claims, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return match.Identity{}, apperr.Wrap(apperr.Unauthenticated, ErrInvalidToken.Message, err)
	}
	if claims.Subject == "" {
		return match.Identity{}, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return match.Identity{ID: claims.Subject, Name: name}, nil
}

// Issue signs a token for who. Used by tests and local tooling.
func (v *Verifier) Issue(who match.Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Name: who.Name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   who.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Resolve finds the identity of r. ok is false when the request carries
// none; err is set only when it carries a bad one.
func (v *Verifier) Resolve(r *http.Request) (who match.Identity, ok bool, err error) {
	if v.DevMode() {
		q := r.URL.Query()
		id := firstNonEmpty(r.Header.Get("X-User-ID"), q.Get("userId"))
		if id == "" {
			return match.Identity{}, false, nil
		}
		name := firstNonEmpty(r.Header.Get("X-User-Name"), q.Get("username"), id)
		return match.Identity{ID: id, Name: name}, true, nil
	}

	token := bearer(r)
	if token == "" {
		return match.Identity{}, false, nil
	}
	who, err = v.Verify(token)
	if err != nil {
		return match.Identity{}, false, err
	}
	return who, true, nil
}

// Middleware stores the resolved identity in the request context. A request
// without credentials passes through; one with bad credentials gets a 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok, err := v.Resolve(r)
		if err != nil {
			v.log.Debug("rejected credentials", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, ErrInvalidToken.Message, http.StatusUnauthorized)
			return
		}
		if ok {
			r = r.WithContext(WithIdentity(r.Context(), who))
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, who match.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, who)
}

func FromContext(ctx context.Context) (match.Identity, bool) {
	who, ok := ctx.Value(ctxKey{}).(match.Identity)
	return who, ok && who.ID != ""
}

// Require returns the context identity or ErrMissingIdentity.
func Require(ctx context.Context) (match.Identity, error) {
	if who, ok := FromContext(ctx); ok {
		return who, nil
	}
	return match.Identity{}, ErrMissingIdentity
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	// browsers cannot set headers on a websocket upgrade
	return r.URL.Query().Get("token")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
