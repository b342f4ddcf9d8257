package routes

import (
	"net/http"

	"securepay/native/escrow"
)

type checkInResponse struct {
	Account         addressView `json:"account"`
	Streak          uint64      `json:"streak"`
	LastCheckInTime int64       `json:"lastCheckInTime"`
	CheckedInToday  bool        `json:"checkedInToday"`
}

func (h *handlers) getCheckIn(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "addr")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	checkIn, ok, err := h.query.GetCheckIn(account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := checkInResponse{Account: viewAddress(account)}
	if ok {
		resp.Streak = checkIn.Streak
		resp.LastCheckInTime = checkIn.LastCheckInTime
		resp.CheckedInToday = escrow.Day(checkIn.LastCheckInTime) == escrow.Day(h.query.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

type progressResponse struct {
	Account   addressView `json:"account"`
	TaskID    uint64      `json:"taskId"`
	Actual    uint64      `json:"actual"`
	Target    uint64      `json:"target"`
	Completed bool        `json:"completed"`
}

func (h *handlers) getTaskProgress(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "addr")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, "invalid task id")
		return
	}
	progress, err := h.query.GetTaskProgress(account, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Account:   viewAddress(account),
		TaskID:    id,
		Actual:    progress.Actual,
		Target:    progress.Target,
		Completed: progress.Completed,
	})
}

type taskView struct {
	ID          uint64 `json:"id"`
	Type        string `json:"type"`
	TargetCount uint64 `json:"targetCount"`
	Reward      string `json:"reward"`
}

func (h *handlers) getTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.query.Tasks()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskView{
			ID:          task.ID,
			Type:        task.Type.String(),
			TargetCount: task.TargetCount,
			Reward:      amountString(task.RewardAmount),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": out})
}
