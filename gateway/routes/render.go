package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"securepay/crypto"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/native/oracle"
	"securepay/native/rewards"
	"securepay/native/timelock"
)

const usdDecimals = 18

var errNotFound = errors.New("not found")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, rewards.ErrTaskNotFound), errors.Is(err, timelock.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrStale), errors.Is(err, oracle.ErrNoRound), errors.Is(err, oracle.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrInvalidPrice), errors.Is(err, oracle.ErrInvalidFeed), errors.Is(err, oracle.ErrInvalidDecimal),
		errors.Is(err, escrow.ErrInvalidAmount), errors.Is(err, escrow.ErrBelowMinimum), errors.Is(err, escrow.ErrZeroFee),
		errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, bank.ErrUnknownToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// formatUSD renders an 18-decimal USD amount as a plain decimal string.
func formatUSD(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -usdDecimals).String()
}

// formatUnits renders a raw token amount in whole-token units.
func formatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// parseUnits converts a whole-token decimal string into raw units, rejecting
// precision beyond the token's decimals.
func parseUnits(raw string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errors.New("amount has more precision than the token supports")
	}
	return scaled.BigInt(), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type addressView struct {
	Hex     string `json:"hex"`
	Display string `json:"display"`
}

func viewAddress(addr common.Address) addressView {
	return addressView{Hex: addr.Hex(), Display: crypto.DisplayAddress(addr)}
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}
