package routes

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"securepay/crypto"
	"securepay/gateway/middleware"
)

type roundRequest struct {
	Feed      string `json:"feed"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updatedAt"`
}

type roundResponse struct {
	Feed      string      `json:"feed"`
	Publisher addressView `json:"publisher"`
	UpdatedAt int64       `json:"updatedAt"`
}

// postRound publishes a price round as the token subject. The runtime
// enforces the oracle role, so a valid token alone does not grant publishing.
func (h *handlers) postRound(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.Subject(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authenticated subject required"})
		return
	}
	publisher, err := crypto.ParseAddress(subject)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token subject is not an address"})
		return
	}
	var req roundRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok {
		badRequest(w, "price must be a base-10 integer")
		return
	}
	updatedAt := req.UpdatedAt
	if updatedAt == 0 {
		updatedAt = h.query.Now()
	}
	if err := h.query.PublishPrice(publisher, req.Feed, price, req.Decimals, updatedAt); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("price round accepted",
		slog.String("feed", req.Feed),
		slog.String("publisher", publisher.Hex()),
		slog.Int64("updated_at", updatedAt))
	writeJSON(w, http.StatusAccepted, roundResponse{Feed: req.Feed, Publisher: viewAddress(publisher), UpdatedAt: updatedAt})
}
