package jobs

import (
	"context"

	"github.com/atlas-iam/atlas-iam/internal/users"
)

// EventSink adapts the asynq client to the user lifecycle's event
// interface.
type EventSink struct {
	client *Client
}

// NewEventSink constructs an EventSink.
func NewEventSink(client *Client) *EventSink {
	return &EventSink{client: client}
}

// UserCreated enqueues a user-created task.
func (s *EventSink) UserCreated(ctx context.Context, u users.User) error {
	_, err := s.client.EnqueueUserCreated(ctx, UserCreatedPayload{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	})
	return err
}

var _ users.EventSink = (*EventSink)(nil)
