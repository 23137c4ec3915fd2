package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/middleware"
)

func newFakeDesk(t *testing.T) *httptest.Server {
	t.Helper()

	auth := middleware.NewAuthMiddleware("client-test")
	r := chi.NewRouter()
	r.Post("/api/operators/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "correct horse" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		auth.SetAuthCookie(w, uuid.New())
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/api/loans", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				InstanceID uuid.UUID `json:"instance_id"`
				ReaderID   uuid.UUID `json:"reader_id"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(LoanReceipt{
				ID:         uuid.New(),
				InstanceID: req.InstanceID,
				ReaderID:   req.ReaderID,
				LoanDate:   "2026-03-02",
				DueDate:    "2026-03-16",
			})
		})

		r.Post("/api/loans/{id}/return", func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["return_date"] != "2026-03-22" {
				http.Error(w, "loan already returned", http.StatusConflict)
				return
			}
			amount := 30.0
			json.NewEncoder(w).Encode(ReturnReceipt{
				Loan:        LoanReceipt{ID: uuid.MustParse(chi.URLParam(r, "id")), ReturnDate: req["return_date"]},
				FineCreated: true,
				FineAmount:  &amount,
				DaysOverdue: 6,
			})
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestDeskClientKeepsSession(t *testing.T) {
	srv := newFakeDesk(t)
	ctx := context.Background()

	c, err := NewDeskClient(srv.URL + "/")
	require.NoError(t, err)

	_, err = c.IssueBook(ctx, uuid.New(), uuid.New(), 0)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	err = c.Login(ctx, "desk", "wrong")
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	require.NoError(t, c.Login(ctx, "desk", "correct horse"))

	instanceID, readerID := uuid.New(), uuid.New()
	loan, err := c.IssueBook(ctx, instanceID, readerID, 0)
	require.NoError(t, err)
	assert.Equal(t, instanceID, loan.InstanceID)
	assert.Equal(t, "2026-03-16", loan.DueDate)

	receipt, err := c.ReturnBook(ctx, loan.ID, time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, receipt.FineCreated)
	require.NotNil(t, receipt.FineAmount)
	assert.Equal(t, 30.0, *receipt.FineAmount)

	_, err = c.ReturnBook(ctx, loan.ID, time.Time{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "loan already returned", apiErr.Message)
}

func TestStatusCodeOfOtherErrors(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 0, StatusCode(context.Canceled))
}
