package circulation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"libracirc/internal/domainerr"
	"libracirc/internal/eventstore"
	"libracirc/internal/fines"
	"libracirc/internal/inventory"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type loanResponse struct {
	ID         uuid.UUID `json:"id"`
	InstanceID uuid.UUID `json:"instance_id"`
	ReaderID   uuid.UUID `json:"reader_id"`
	LoanDate   string    `json:"loan_date"`
	DueDate    string    `json:"due_date"`
	ReturnDate string    `json:"return_date,omitempty"`
}

func newLoanResponse(l Loan) loanResponse {
	resp := loanResponse{
		ID:         l.ID,
		InstanceID: l.InstanceID,
		ReaderID:   l.ReaderID,
		LoanDate:   l.LoanDate.Format(time.DateOnly),
		DueDate:    l.DueDate.Format(time.DateOnly),
	}
	if l.ReturnDate != nil {
		resp.ReturnDate = l.ReturnDate.Format(time.DateOnly)
	}
	return resp
}

type returnResponse struct {
	Loan        loanResponse `json:"loan"`
	FineCreated bool         `json:"fine_created"`
	FineAmount  *float64     `json:"fine_amount,omitempty"`
	DaysOverdue int          `json:"days_overdue,omitempty"`
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstanceID   uuid.UUID `json:"instance_id"`
		ReaderID     uuid.UUID `json:"reader_id"`
		DurationDays int       `json:"duration_days"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.InstanceID == uuid.Nil || req.ReaderID == uuid.Nil {
		http.Error(w, "instance_id and reader_id are required", http.StatusBadRequest)
		return
	}

	loan, err := h.service.IssueBook(r.Context(), req.InstanceID, req.ReaderID, req.DurationDays)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newLoanResponse(*loan))
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}

	var req struct {
		ReturnDate string `json:"return_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var returnDate time.Time
	if req.ReturnDate != "" {
		returnDate, err = time.Parse(time.DateOnly, req.ReturnDate)
		if err != nil {
			http.Error(w, "return_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.ReturnBook(r.Context(), loanID, returnDate)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := returnResponse{
		Loan:        newLoanResponse(result.Loan),
		FineCreated: result.FineCreated,
		DaysOverdue: result.DaysOverdue,
	}
	if result.FineCreated {
		amount := fines.ToUnits(result.FineAmount)
		resp.FineAmount = &amount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	var req struct {
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	event, err := inventory.ParseEvent(req.Event)
	if err != nil {
		h.fail(w, err)
		return
	}

	status, err := h.service.ChangeInstanceStatus(r.Context(), instanceID, event)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		InstanceID uuid.UUID        `json:"instance_id"`
		Status     inventory.Status `json:"status"`
	}{InstanceID: instanceID, Status: status})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	events, err := h.service.InstanceHistory(r.Context(), instanceID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if domainerr.HTTPStatus(err) == http.StatusInternalServerError {
		h.logger.Error("circulation request failed", zap.Error(err))
	}
	domainerr.WriteHTTP(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
