package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types consumed by the notification worker. Delivery itself (email
// rendering and sending) lives outside this service.
const (
	TypeClaimSubmitted      = "claim:submitted"
	TypeClaimApproved       = "claim:approved"
	TypeClaimRejected       = "claim:rejected"
	TypePaymentConfirmation = "payment:confirmation"
)

// NotifyPayload is the body of every notification task.
type NotifyPayload struct {
	ClaimID      string `json:"claim_id"`
	Reference    string `json:"reference"`
	EmailAddress string `json:"email_address"`
}

// NewNotifyTask builds an asynq task for one of the notification types.
func NewNotifyTask(taskType string, payload NotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notify payload: %w", err)
	}
	return asynq.NewTask(taskType, body), nil
}

type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

// NewEnqueuer creates a new Enqueuer instance using asynq.Client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(context.Background(), task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}
