package memory

import (
	"context"
	"sync"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// NotificationLog is a domain.NotificationSink that just records what it
// was sent, for tests and local development without a real chat webhook.
type NotificationLog struct {
	mu   sync.Mutex
	sent []domain.NotificationPayload
}

// NewNotificationLog builds an empty log.
func NewNotificationLog() *NotificationLog { return &NotificationLog{} }

func (l *NotificationLog) SendDeploymentNotification(_ context.Context, _ *domain.Project, _ *domain.Deployment, payload domain.NotificationPayload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, payload)
	return nil
}

// Sent returns every payload recorded so far.
func (l *NotificationLog) Sent() []domain.NotificationPayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.NotificationPayload, len(l.sent))
	copy(out, l.sent)
	return out
}

var _ domain.NotificationSink = (*NotificationLog)(nil)
