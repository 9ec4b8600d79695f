package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetByOwner(ctx context.Context, ownerID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByOwner", time.Now())()
	c := &model.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM chats WHERE owner_id = $1`, ownerID,
	).Scan(&c.ID, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByOwner: %w", err)
	}
	return c, nil
}

// GetOrCreate returns the owner's chat, creating it on first access. The unique
// index on owner_id plus ON CONFLICT DO NOTHING makes concurrent first-access
// races converge on a single row: the loser of the insert re-selects the
// winner's chat.
func (r *ChatRepository) GetOrCreate(ctx context.Context, ownerID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetOrCreate", time.Now())()
	c, err := r.GetByOwner(ctx, ownerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chats (id, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $3) ON CONFLICT (owner_id) DO NOTHING`,
		uuid.New().String(), ownerID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetOrCreate insert: %w", err)
	}
	return r.GetByOwner(ctx, ownerID)
}

// Touch bumps updated_at, e.g. when a message lands in the chat.
func (r *ChatRepository) Touch(ctx context.Context, id string, t time.Time) error {
	defer logger.DeferLogDuration("chat.Touch", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET updated_at = $1 WHERE id = $2`, t, id,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Touch: %w", err)
	}
	return nil
}
