// Package jobs defines the background task types and the asynq worker that
// processes them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeUserCreated is emitted after a user account is created.
	TaskTypeUserCreated = "user:created"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// UserCreatedPayload describes a freshly created account.
type UserCreatedPayload struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewUserCreatedTask constructs an Asynq task.
func NewUserCreatedTask(payload UserCreatedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeUserCreated, data), nil
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// UserCreatedHandler fans a created account out to follow-up tasks.
type UserCreatedHandler struct {
	client *Client
	logger *slog.Logger
}

// NewUserCreatedHandler constructs the handler.
func NewUserCreatedHandler(client *Client, logger *slog.Logger) *UserCreatedHandler {
	return &UserCreatedHandler{client: client, logger: logger}
}

// ProcessTask handles TaskTypeUserCreated tasks by enqueueing a welcome
// email for the new account.
func (h *UserCreatedHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload UserCreatedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	h.logger.Info("user created", slog.Int64("user_id", payload.UserID))
	_, err := h.client.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      payload.Email,
		Subject: "Welcome to Atlas",
		Body:    "Hi " + payload.DisplayName + ", your account is ready.",
	})
	return err
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder until the SMTP relay is configured.
	slog.Default().Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}
