// Package jobs wires background work through Asynq: buyer notification mail
// and periodic credential cleanup.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderdesk/orderdesk/internal/mailer"
	"github.com/orderdesk/orderdesk/internal/purchase"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotify delivers the buyer notification after a supplier
	// responds to an order.
	TaskTypeNotify = "mail:notify"
	// TaskTypeCredentialsCleanup prunes credential rows whose tokens
	// expired long ago and were never refreshed.
	TaskTypeCredentialsCleanup = "credentials:cleanup"
)

// staleCredentialAge is how long an expired credential may linger before
// the cleanup task removes it.
const staleCredentialAge = 90 * 24 * time.Hour

// NewNotifyTask constructs the buyer notification task.
func NewNotifyTask(note purchase.SupplierResponseNote) (*asynq.Task, error) {
	data, err := json.Marshal(note)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data), nil
}

// NewCredentialsCleanupTask constructs the cleanup task for cron scheduling.
func NewCredentialsCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeCredentialsCleanup, nil)
}

// Sender delivers email. Satisfied by *mailer.Client.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// NotifyJob mails the buyer when a supplier accepts or rejects an order.
type NotifyJob struct {
	mail   Sender
	logger *slog.Logger
}

// NewNotifyJob constructs the job.
func NewNotifyJob(mail Sender, logger *slog.Logger) *NotifyJob {
	return &NotifyJob{mail: mail, logger: logger}
}

// Handle processes one notification task.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var note purchase.SupplierResponseNote
	if err := json.Unmarshal(t.Payload(), &note); err != nil {
		return asynq.SkipRetry
	}
	if note.BuyerEmail == "" {
		return asynq.SkipRetry
	}

	decision := "rejected"
	if note.Accepted {
		decision = "accepted"
	}
	msg := mailer.Message{
		To:      note.BuyerEmail,
		Subject: fmt.Sprintf("Purchase order %s %s by %s", note.PONumber, decision, note.SupplierName),
		HTML: fmt.Sprintf("<p>%s has <strong>%s</strong> purchase order %s.</p>",
			note.SupplierName, decision, note.PONumber),
	}
	if err := j.mail.Send(ctx, msg); err != nil {
		j.logger.Warn("buyer notification send failed",
			slog.Int64("order_id", note.OrderID),
			slog.Any("error", err))
		return err
	}
	return nil
}

// CleanupJob removes credential rows that expired long ago without a
// refresh; those tenants have to reconnect anyway.
type CleanupJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCleanupJob constructs the job.
func NewCleanupJob(pool *pgxpool.Pool, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{pool: pool, logger: logger}
}

// Handle prunes stale credentials.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	tag, err := j.pool.Exec(ctx,
		`DELETE FROM freeagent_credentials WHERE expires_at < NOW() - $1::interval`,
		fmt.Sprintf("%d hours", int(staleCredentialAge.Hours())))
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		j.logger.Info("pruned stale credentials", slog.Int64("count", n))
	}
	return nil
}
