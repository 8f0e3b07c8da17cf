// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/wallet"
)

type purchaseRequest struct {
	WalletAddress string `json:"walletAddress"`
	Amount        uint64 `json:"amount"`
	Currency      string `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	PurchaseID uuid.UUID `json:"purchaseId"`
	Status     string    `json:"status"`
}

func (s *Server) handleSaleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.sale.SaleInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var body purchaseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return
	}

	buyer, err := wallet.ParseAddress(body.WalletAddress)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid wallet address."})
		return
	}
	currency, err := sale.ParseCurrency(body.Currency)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unsupported currency."})
		return
	}

	result, err := s.sale.Purchase(r.Context(), sale.PurchaseRequest{
		Buyer:       buyer,
		TokenAmount: body.Amount,
		Currency:    currency,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	result, err := s.sale.Rebuild(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	if err := s.sale.ReportBroadcastFailure(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{PurchaseID: id, Status: "compensated"})
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	payload, err := s.sale.Delivery(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func purchaseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid purchase id."})
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sale.ErrBelowMinimum),
		errors.Is(err, sale.ErrAboveMaximum),
		errors.Is(err, sale.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, sale.ErrPurchaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, sale.ErrSaleInactive),
		errors.Is(err, sale.ErrInsufficientSupply),
		errors.Is(err, sale.ErrPurchaseNotPending),
		errors.Is(err, sale.ErrPayloadStillValid),
		errors.Is(err, sale.ErrRebuildLimit):
		return http.StatusConflict
	case sale.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := s.logger.With(
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	if status >= http.StatusInternalServerError {
		log.Warn("Request failed")
	} else {
		log.Debug("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: sale.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
