package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/eventstore"
)

func issue(t *testing.T, m *AuthMiddleware, id uuid.UUID) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, id)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestAuthMiddlewareWithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	operator := uuid.New()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true

		id, ok := OperatorIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, operator, id)

		actor, ok := eventstore.ActorFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "operator:"+operator.String(), actor)
	})

	r := httptest.NewRequest(http.MethodGet, "/api/loans/active", nil)
	r.AddCookie(issue(t, m, operator))
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, nextCalled)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	valid := issue(t, m, uuid.New())

	expired := NewAuthMiddleware("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "garbage", cookie: &http.Cookie{Name: authCookieName, Value: "nope"}},
		{name: "tampered", cookie: &http.Cookie{Name: authCookieName, Value: uuid.NewString() + valid.Value[36:]}},
		{name: "other secret", cookie: issue(t, NewAuthMiddleware("other-secret"), uuid.New())},
		{name: "expired", cookie: issue(t, expired, uuid.New())},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/loans/active", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
