package routes

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
)

type transferResponse struct {
	ID            uint64       `json:"id"`
	Active        bool         `json:"active"`
	Sender        addressView  `json:"sender"`
	Receiver      addressView  `json:"receiver"`
	Token         addressView  `json:"token"`
	Symbol        string       `json:"symbol,omitempty"`
	Amount        string       `json:"amount"`
	TotalAmount   string       `json:"totalAmount,omitempty"`
	Fee           string       `json:"fee"`
	AmountDisplay string       `json:"amountDisplay,omitempty"`
	CreatedAt     int64        `json:"createdAt"`
	ExpiresAt     int64        `json:"expiresAt,omitempty"`
	Settlement    *settledView `json:"settlement,omitempty"`
}

type settledView struct {
	Action string `json:"action"`
	Amount string `json:"amount"`
	At     int64  `json:"at"`
}

func (h *handlers) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, "invalid transfer id")
		return
	}
	transfer, err := h.query.GetTransfer(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if transfer.Active() {
		resp := transferResponse{
			ID:          transfer.ID,
			Active:      true,
			Sender:      viewAddress(transfer.Sender),
			Receiver:    viewAddress(transfer.Receiver),
			Token:       viewAddress(transfer.Token),
			Amount:      amountString(transfer.Amount),
			TotalAmount: amountString(transfer.TotalAmount),
			Fee:         amountString(transfer.Fee()),
			CreatedAt:   transfer.CreatedAt,
		}
		if info, err := h.query.TokenInfo(transfer.Token); err == nil {
			resp.Symbol = info.Symbol
			resp.AmountDisplay = formatUnits(transfer.Amount, info.Decimals)
		}
		if params, err := h.query.EscrowParams(); err == nil {
			resp.ExpiresAt = transfer.CreatedAt + int64(params.ExpireDuration)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if h.journal == nil {
		h.writeError(w, r, fmt.Errorf("transfer %d: %w", id, errNotFound))
		return
	}
	rec, err := h.journal.Transfer(r.Context(), id)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("transfer %d: %w", id, errNotFound))
		return
	}
	resp := transferResponse{
		ID:        rec.ID,
		Sender:    viewAddress(common.HexToAddress(rec.Sender)),
		Receiver:  viewAddress(common.HexToAddress(rec.Receiver)),
		Token:     viewAddress(common.HexToAddress(rec.Token)),
		Amount:    rec.Amount,
		Fee:       rec.Fee,
		CreatedAt: rec.CreatedAt,
	}
	if rec.SettledAction != "" {
		resp.Settlement = &settledView{Action: rec.SettledAction, Amount: rec.SettledAmount, At: rec.SettledAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

type idsResponse struct {
	Account addressView `json:"account"`
	IDs     []uint64    `json:"ids"`
}

func (h *handlers) getOutbox(w http.ResponseWriter, r *http.Request) {
	h.listIDs(w, r, h.query.OutboxIDs)
}

func (h *handlers) getInbox(w http.ResponseWriter, r *http.Request) {
	h.listIDs(w, r, h.query.InboxIDs)
}

func (h *handlers) listIDs(w http.ResponseWriter, r *http.Request, list func(common.Address) ([]uint64, error)) {
	account, err := addressParam(r, "addr")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ids, err := list(account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, idsResponse{Account: viewAddress(account), IDs: ids})
}

type paramsResponse struct {
	FeeBps              uint32 `json:"feeBps"`
	FeeFloorUSD         string `json:"feeFloorUsd"`
	FeeCapUSD           string `json:"feeCapUsd"`
	MinTransferUSD      string `json:"minTransferUsd"`
	MaxPendingPerSender uint64 `json:"maxPendingPerSender"`
	ExpireSeconds       uint64 `json:"expireSeconds"`
}

func (h *handlers) getEscrowParams(w http.ResponseWriter, r *http.Request) {
	params, err := h.query.EscrowParams()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsResponse{
		FeeBps:              params.FeeBps,
		FeeFloorUSD:         formatUSD(params.FeeFloorUSD),
		FeeCapUSD:           formatUSD(params.FeeCapUSD),
		MinTransferUSD:      formatUSD(params.MinTransferUSD),
		MaxPendingPerSender: params.MaxPendingPerSender,
		ExpireSeconds:       params.ExpireDuration,
	})
}

type quoteResponse struct {
	Token      addressView `json:"token"`
	Amount     string      `json:"amount"`
	Fee        string      `json:"fee"`
	FeeDisplay string      `json:"feeDisplay"`
	ValueUSD   string      `json:"valueUsd"`
	FeeUSD     string      `json:"feeUsd"`
	MeetsMin   bool        `json:"meetsMinimum"`
}

// getFeeQuote prices ?amount= (whole-token units) of ?token=.
func (h *handlers) getFeeQuote(w http.ResponseWriter, r *http.Request) {
	token, err := crypto.ParseAddress(r.URL.Query().Get("token"))
	if err != nil {
		badRequest(w, "invalid token")
		return
	}
	info, err := h.query.TokenInfo(token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := parseUnits(r.URL.Query().Get("amount"), info.Decimals)
	if err != nil || amount.Sign() <= 0 {
		badRequest(w, "invalid amount")
		return
	}
	quote, err := h.query.QuoteFee(token, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := quoteResponse{
		Token:      viewAddress(token),
		Amount:     amount.String(),
		Fee:        amountString(quote.Fee),
		FeeDisplay: formatUnits(quote.Fee, info.Decimals),
		ValueUSD:   formatUSD(quote.ValueUSD),
		FeeUSD:     formatUSD(quote.FeeUSD),
	}
	if params, err := h.query.EscrowParams(); err == nil && quote.ValueUSD != nil {
		resp.MeetsMin = quote.ValueUSD.Cmp(params.MinTransferUSD) >= 0
	}
	writeJSON(w, http.StatusOK, resp)
}
