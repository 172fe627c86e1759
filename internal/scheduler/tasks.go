package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDedupLogCleanup = "followups.dedup_log_cleanup"

const TaskTokenRefreshSweep = "accounts.token_refresh_sweep"

type TokenRefreshSweepPayload struct {
	Limit int `json:"limit"`
}

func NewDedupLogCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskDedupLogCleanup, nil)
}

func NewTokenRefreshSweepTask(payload TokenRefreshSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTokenRefreshSweep, data), nil
}

func ParseTokenRefreshSweepPayload(task *asynq.Task) (TokenRefreshSweepPayload, error) {
	var payload TokenRefreshSweepPayload
	if len(task.Payload()) == 0 {
		return TokenRefreshSweepPayload{}, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TokenRefreshSweepPayload{}, err
	}
	return payload, nil
}
