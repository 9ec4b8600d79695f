package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, profile_id, message_id, chat_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.ProfileID, n.MessageID, n.ChatID, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

// ListUnread returns the caller's unread notifications, newest first. A user
// without a profile has none by construction.
func (r *NotificationRepository) ListUnread(ctx context.Context, userID string) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.ListUnread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT n.id, n.profile_id, n.message_id, n.chat_id, n.is_read, n.created_at
		 FROM notifications n
		 JOIN profiles p ON p.id = n.profile_id
		 WHERE p.user_id = $1 AND n.is_read = false
		 ORDER BY n.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.ListUnread query: %w", err)
	}
	defer rows.Close()

	notifs := make([]model.Notification, 0, 16)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.ProfileID, &n.MessageID, &n.ChatID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.ListUnread scan: %w", err)
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.ListUnread rows: %w", err)
	}
	return notifs, nil
}

// MarkRead marks one of the caller's notifications read. is_read only moves
// false -> true; repeating the call is a no-op that still succeeds. Returns
// ErrNotFound when the notification does not exist or belongs to someone else.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true
		 WHERE id = $1 AND profile_id IN (SELECT id FROM profiles WHERE user_id = $2)`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
