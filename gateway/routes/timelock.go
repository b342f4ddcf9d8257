package routes

import (
	"encoding/json"
	"net/http"

	"securepay/native/timelock"
)

func (h *handlers) getTimelockActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": h.query.TimelockActions()})
}

type changeResponse struct {
	ID       uint64          `json:"id"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Proposer addressView     `json:"proposer"`
	ETA      int64           `json:"eta"`
	Status   string          `json:"status"`
	Ready    bool            `json:"ready"`
}

func (h *handlers) getChange(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, "invalid change id")
		return
	}
	change, err := h.query.Change(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := changeResponse{
		ID:       change.ID,
		Action:   change.Action,
		Proposer: viewAddress(change.Proposer),
		ETA:      change.ETA,
		Status:   change.Status.String(),
		Ready:    change.Status == timelock.StatusQueued && h.query.Now() >= change.ETA,
	}
	if json.Valid(change.Payload) {
		resp.Payload = json.RawMessage(change.Payload)
	}
	writeJSON(w, http.StatusOK, resp)
}
