package fines

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type fineResponse struct {
	ReaderFine
	Amount   float64 `json:"amount"`
	FineDate string  `json:"fine_date"`
}

// HandleListByReader serves GET /api/readers/{id}/fines.
func (h *Handler) HandleListByReader(w http.ResponseWriter, r *http.Request) {
	readerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid reader ID", http.StatusBadRequest)
		return
	}

	list, err := h.service.ListByReader(r.Context(), readerID)
	if err != nil {
		h.logger.Error("list fines", zap.String("reader_id", readerID.String()), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]fineResponse, len(list))
	for i, f := range list {
		resp[i] = fineResponse{
			ReaderFine: f,
			Amount:     ToUnits(f.Amount),
			FineDate:   f.FineDate.Format(time.DateOnly),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
