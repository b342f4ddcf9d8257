package routes

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
	"securepay/services/keeper"
)

type treasuryResponse struct {
	Enabled      bool        `json:"enabled"`
	ThresholdUSD string      `json:"thresholdUsd"`
	Reference    addressView `json:"reference"`
	Bridge       addressView `json:"bridge"`
}

func (h *handlers) getTreasuryConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.query.TreasuryConfig()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, treasuryResponse{
		Enabled:      cfg.Enabled,
		ThresholdUSD: formatUSD(cfg.Threshold),
		Reference:    viewAddress(cfg.Reference),
		Bridge:       viewAddress(cfg.Bridge),
	})
}

type upsideResponse struct {
	Tokens        []addressView `json:"tokens"`
	IncludeNative bool          `json:"includeNative"`
	TotalUSD      string        `json:"totalUsd"`
	ThresholdUSD  string        `json:"thresholdUsd"`
	Enabled       bool          `json:"enabled"`
	Triggerable   bool          `json:"triggerable"`
}

// getUpside values ?token= (repeatable) and, with ?native=true, the native
// asset. Without tokens it values the configured buyback set. Repeated
// tokens are valued once per occurrence.
func (h *handlers) getUpside(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tokens := make([]common.Address, 0, len(query["token"]))
	for _, raw := range query["token"] {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			badRequest(w, "invalid token "+raw)
			return
		}
		tokens = append(tokens, addr)
	}
	if len(tokens) == 0 {
		tokens = h.upsideTokens
	}
	includeNative := false
	if raw := query.Get("native"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "invalid native flag")
			return
		}
		includeNative = parsed
	}
	upside, err := h.query.CheckUpside(tokens, includeNative)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]addressView, 0, len(tokens))
	for _, token := range tokens {
		views = append(views, viewAddress(token))
	}
	writeJSON(w, http.StatusOK, upsideResponse{
		Tokens:        views,
		IncludeNative: includeNative,
		TotalUSD:      formatUSD(upside.TotalUSD),
		ThresholdUSD:  formatUSD(upside.Threshold),
		Enabled:       upside.Enabled,
		Triggerable:   upside.Triggerable,
	})
}

func (h *handlers) getBuybacks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			badRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := h.journal.RecentBuybacks(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []keeper.BuybackRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"buybacks": records})
}
