package membership

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"libracirc/internal/domainerr"
)

// SessionIssuer hands an authenticated operator a session.
type SessionIssuer interface {
	SetAuthCookie(w http.ResponseWriter, operatorID uuid.UUID)
}

type Handler struct {
	service  Service
	sessions SessionIssuer
	logger   *zap.Logger
}

func NewHandler(service Service, sessions SessionIssuer, logger *zap.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

func (h *Handler) HandleRegisterReader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string  `json:"name"`
		Email string  `json:"email"`
		Phone *string `json:"phone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reader, err := h.service.RegisterReader(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reader)
}

func (h *Handler) HandleGetReader(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid reader ID", http.StatusBadRequest)
		return
	}

	reader, err := h.service.GetReader(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reader)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *Handler) HandleRegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	op, err := h.service.RegisterOperator(r.Context(), req.Login, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, op)
}

// HandleLogin authenticates an operator and sets the session cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	op, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.sessions.SetAuthCookie(w, op.ID)
	writeJSON(w, http.StatusOK, op)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		if domainerr.HTTPStatus(err) == http.StatusInternalServerError {
			h.logger.Error("membership request failed", zap.Error(err))
		}
		domainerr.WriteHTTP(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
