package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nostrstack/paywatch/database"
	"github.com/nostrstack/paywatch/database/models"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
	log "github.com/sirupsen/logrus"
)

const maxRequestBytes = 64 << 10

type payRequest struct {
	Domain   string           `json:"domain"`
	Action   string           `json:"action"`
	Amount   int64            `json:"amount"`
	Metadata payment.Metadata `json:"metadata,omitempty"`
}

type payResponse struct {
	PR          string `json:"pr"`
	ProviderRef string `json:"provider_ref"`
}

type statusResponse struct {
	Paid        bool   `json:"paid"`
	Status      string `json:"status"`
	PR          string `json:"pr"`
	ProviderRef string `json:"provider_ref"`
	Preimage    string `json:"preimage,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req payRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	domain := normalizeDomain(req.Domain)
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")

		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = "tip"
	}
	amount, err := money.NewFromSats(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"domain": domain,
		"amount": amount,
	})

	memo := fmt.Sprintf("%s %s", action, domain)
	pr, rhash, err := s.node.GenerateInvoice(ctx, amount, s.invoiceExpiry, memo)
	if err != nil {
		logger.WithError(err).Error("failed to generate invoice")
		writeError(w, http.StatusBadGateway, "failed to generate invoice")

		return
	}

	p := &models.Payment{
		Domain:         domain,
		Action:         action,
		PaymentHash:    hex.EncodeToString(rhash),
		PaymentRequest: pr,
		AmountSats:     amount,
		Status:         models.PaymentStatusPending,
		Metadata:       req.Metadata,
		ExpiresAt:      s.clock.Now().Add(s.invoiceExpiry),
	}
	if err := s.repository.SavePayment(ctx, p); err != nil {
		logger.WithError(err).Error("failed to save payment")
		writeError(w, http.StatusInternalServerError, "failed to save payment")

		return
	}

	if s.tracker != nil {
		// Tracking outlives the request.
		s.tracker.Track(context.WithoutCancel(ctx), p)
	}

	logger.WithField("hash", p.PaymentHash).Info("invoice issued")
	writeJSON(w, http.StatusOK, payResponse{
		PR:          pr,
		ProviderRef: p.PaymentHash,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	hash := strings.ToLower(strings.TrimSpace(query.Get("ref")))
	if hash == "" {
		pr := query.Get("pr")
		if strings.TrimSpace(pr) == "" {
			writeError(w, http.StatusBadRequest, "ref or pr is required")

			return
		}

		decoded, err := lightning.DecodePaymentHash(pr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payment request")

			return
		}
		hash = decoded
	}

	p, err := s.repository.GetPaymentByHash(ctx, hash)
	if errors.Is(err, database.ErrPaymentNotFound) {
		writeError(w, http.StatusNotFound, "payment not found")

		return
	}
	if err != nil {
		log.WithContext(ctx).WithError(err).Error("failed to load payment")
		writeError(w, http.StatusInternalServerError, "failed to load payment")

		return
	}

	if domain := normalizeDomain(query.Get("domain")); domain != "" && domain != normalizeDomain(p.Domain) {
		writeError(w, http.StatusNotFound, "payment not found")

		return
	}

	resp := statusResponse{
		Paid:        p.Status == models.PaymentStatusPaid,
		Status:      strings.ToLower(p.Status.String()),
		PR:          p.PaymentRequest,
		ProviderRef: p.PaymentHash,
	}
	if resp.Paid && p.Preimage != nil {
		resp.Preimage = p.Preimage.String()
	}

	writeJSON(w, http.StatusOK, resp)
}
