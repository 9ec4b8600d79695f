package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists m and fills in the database-assigned seq.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING seq`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// AttachMentions links the resolved mentioned users to a message. Duplicate
// user ids are collapsed by the primary key.
func (r *MessageRepository) AttachMentions(ctx context.Context, messageID string, userIDs []string) error {
	defer logger.DeferLogDuration("msg.AttachMentions", time.Now())()
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_mentions (message_id, user_id)
		 SELECT $1, unnest($2::uuid[]) ON CONFLICT DO NOTHING`,
		messageID, userIDs,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.AttachMentions: %w", err)
	}
	return nil
}

const messageSelect = `
	SELECT m.id, m.seq, m.chat_id, m.sender_id, m.content, m.created_at,
	       u.username, COALESCE(p.user_type, 'user'),
	       COALESCE((SELECT array_agg(mu.username ORDER BY mu.username)
	                 FROM message_mentions mm
	                 JOIN users mu ON mu.id = mm.user_id
	                 WHERE mm.message_id = m.id), '{}')
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN profiles p ON p.user_id = m.sender_id`

func (r *MessageRepository) scanMessages(ctx context.Context, sql string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
			&m.Sender, &m.SenderType, &m.Mentions); err != nil {
			return nil, fmt.Errorf("msgRepo scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo rows: %w", err)
	}
	return msgs, nil
}

// ListRecent returns the last limit messages of a chat ordered oldest first.
// (created_at, seq) is the commit order, so the result matches broadcast order.
func (r *MessageRepository) ListRecent(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListRecent", time.Now())()
	msgs, err := r.scanMessages(ctx,
		messageSelect+`
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.seq DESC
		 LIMIT $2`, chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListRecent: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListAll returns every message of a chat in commit order, for the REST list.
func (r *MessageRepository) ListAll(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAll", time.Now())()
	msgs, err := r.scanMessages(ctx,
		messageSelect+`
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC, m.seq ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListAll: %w", err)
	}
	return msgs, nil
}
