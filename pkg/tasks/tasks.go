package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessSubmission = "submission:process"
	TypeReapStalled       = "submissions:reap-stalled"
)

const (
	QueueDefault = "default"
	QueueHigh    = "high"
)

// MaxProcessRetries bounds the attempts made for one submission.
const MaxProcessRetries = 5

type ProcessSubmissionTaskPayload struct {
	SubmissionID string
}

// NewProcessSubmissionTask builds the task for a submission. The task id is
// the submission id, so a submission is never queued twice.
func NewProcessSubmissionTask(submissionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessSubmissionTaskPayload{SubmissionID: submissionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessSubmission, payload,
		asynq.TaskID(submissionID),
		asynq.MaxRetry(MaxProcessRetries),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}

func ParseProcessSubmissionPayload(t *asynq.Task) (ProcessSubmissionTaskPayload, error) {
	var p ProcessSubmissionTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.SubmissionID == "" {
		return p, fmt.Errorf("task payload without submission id")
	}
	return p, nil
}

func NewReapStalledTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeReapStalled, nil, asynq.Queue(QueueHigh), asynq.MaxRetry(0)), nil
}
