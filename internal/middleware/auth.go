// Package middleware holds the HTTP middleware of the desk API.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/eventstore"
)

type contextKey string

const operatorIDKey contextKey = "operatorID"

const (
	authCookieName = "desk_session"
	authCookieTTL  = 12 * time.Hour
)

// AuthMiddleware checks the signed operator cookie.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware creates the middleware. An empty secret gets a random key, which
// invalidates sessions on every restart.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("middleware: no randomness for session key: " + err.Error())
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware rejects requests without a valid session and stores the operator in the context.
// Journal events written during the request carry the operator as actor.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		operatorID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorIDKey, operatorID)
		ctx = eventstore.ContextWithActor(ctx, "operator:"+operatorID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie issues a session for the operator.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, operatorID uuid.UUID) {
	expires := a.now().Add(authCookieTTL)

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(operatorID.String() + "." + expires.UTC().Format("20060102T150405Z")),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(value string) (uuid.UUID, bool) {
	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		return uuid.Nil, false
	}
	payload := value[:i]

	if !hmac.Equal([]byte(a.sign(payload)), []byte(value)) {
		return uuid.Nil, false
	}

	idStr, expStr, found := strings.Cut(payload, ".")
	if !found {
		return uuid.Nil, false
	}

	expires, err := time.Parse("20060102T150405Z", expStr)
	if err != nil || !a.now().Before(expires) {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// OperatorIDFromContext returns the operator authenticated by Middleware.
func OperatorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(operatorIDKey).(uuid.UUID)
	return id, ok
}
