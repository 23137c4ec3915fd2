package projections

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type activeLoanResponse struct {
	ActiveLoan
	LoanDate string `json:"loan_date"`
	DueDate  string `json:"due_date"`
}

func (h *Handler) HandleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListActiveLoans(r.Context())
	if err != nil {
		h.logger.Error("list active loans", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]activeLoanResponse, len(loans))
	for i, l := range loans {
		resp[i] = activeLoanResponse{
			ActiveLoan: l,
			LoanDate:   l.LoanDate.Format(time.DateOnly),
			DueDate:    l.DueDate.Format(time.DateOnly),
		}
	}
	writeJSON(w, resp)
}

func (h *Handler) HandleAvailableTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := h.service.ListAvailableTitles(r.Context())
	if err != nil {
		h.logger.Error("list available titles", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, titles)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
