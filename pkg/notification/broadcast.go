package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BroadcastStatus is the state of a ScheduledBroadcast.
type BroadcastStatus string

const (
	BroadcastPending   BroadcastStatus = "pending"
	BroadcastSent      BroadcastStatus = "sent"
	BroadcastFailed    BroadcastStatus = "failed"
	BroadcastCancelled BroadcastStatus = "cancelled"
)

// dismissalDelay is how long after seen_at a sent broadcast keeps showing
// up in get_scheduled_broadcasts(include_completed=true) before it's
// filtered out. Not formalized upstream; picked and documented here.
const dismissalDelay = 5 * time.Second

// ErrNotPending is returned by operations restricted to pending broadcasts.
var ErrNotPending = errors.New("notification: broadcast is not pending")

// ErrPending is returned by operations restricted to non-pending broadcasts.
var ErrPending = errors.New("notification: broadcast is still pending")

// ErrBroadcastNotFound is returned when no broadcast matches an ID.
var ErrBroadcastNotFound = errors.New("notification: broadcast not found")

// ScheduledBroadcast is an owner-authored message due to fan out to every
// member of a network at a given time.
type ScheduledBroadcast struct {
	ID           string          `json:"id"`
	NetworkID    string          `json:"network_id"`
	CreatedBy    string          `json:"created_by"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	EventType    string          `json:"event_type"`
	Priority     Priority        `json:"priority"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Status       BroadcastStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	SeenAt       *time.Time      `json:"seen_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BroadcastStore persists ScheduledBroadcasts.
type BroadcastStore struct {
	pool *pgxpool.Pool
}

// NewBroadcastStore wraps a connection pool.
func NewBroadcastStore(pool *pgxpool.Pool) *BroadcastStore {
	return &BroadcastStore{pool: pool}
}

func scanBroadcast(row pgx.Row) (*ScheduledBroadcast, error) {
	var b ScheduledBroadcast
	err := row.Scan(&b.ID, &b.NetworkID, &b.CreatedBy, &b.Title, &b.Message, &b.EventType,
		&b.Priority, &b.ScheduledFor, &b.Status, &b.ErrorMessage, &b.SeenAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBroadcastNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notification: scanning broadcast: %w", err)
	}
	return &b, nil
}

// Create inserts a new pending broadcast.
func (s *BroadcastStore) Create(ctx context.Context, b ScheduledBroadcast) (*ScheduledBroadcast, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_broadcasts
			(network_id, created_by, title, message, event_type, priority, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING id, network_id, created_by, title, message, event_type, priority, scheduled_for,
			status, error_message, seen_at, created_at, updated_at`,
		b.NetworkID, b.CreatedBy, b.Title, b.Message, b.EventType, int(b.Priority), b.ScheduledFor)
	return scanBroadcast(row)
}

// Get fetches one broadcast by ID.
func (s *BroadcastStore) Get(ctx context.Context, id string) (*ScheduledBroadcast, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, network_id, created_by, title, message, event_type, priority, scheduled_for,
			status, error_message, seen_at, created_at, updated_at
		FROM scheduled_broadcasts WHERE id = $1`, id)
	return scanBroadcast(row)
}

// ListDuePending returns every pending broadcast whose scheduled_for has
// arrived, for the scheduler loop to process.
func (s *BroadcastStore) ListDuePending(ctx context.Context, now time.Time) ([]ScheduledBroadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, network_id, created_by, title, message, event_type, priority, scheduled_for,
			status, error_message, seen_at, created_at, updated_at
		FROM scheduled_broadcasts WHERE status = 'pending' AND scheduled_for <= $1`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("notification: listing due broadcasts: %w", err)
	}
	defer rows.Close()

	var out []ScheduledBroadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListForNetwork returns broadcasts for a network. When includeCompleted
// is false only pending ones are returned; when true, sent broadcasts
// whose seen_at is older than dismissalDelay are filtered out so clients
// stop seeing acknowledged broadcasts.
func (s *BroadcastStore) ListForNetwork(ctx context.Context, networkID string, includeCompleted bool, now time.Time) ([]ScheduledBroadcast, error) {
	query := `
		SELECT id, network_id, created_by, title, message, event_type, priority, scheduled_for,
			status, error_message, seen_at, created_at, updated_at
		FROM scheduled_broadcasts WHERE network_id = $1`
	if !includeCompleted {
		query += ` AND status = 'pending'`
	}
	query += ` ORDER BY scheduled_for DESC`

	rows, err := s.pool.Query(ctx, query, networkID)
	if err != nil {
		return nil, fmt.Errorf("notification: listing broadcasts: %w", err)
	}
	defer rows.Close()

	var out []ScheduledBroadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		if includeCompleted && b.Status == BroadcastSent && b.SeenAt != nil && now.Sub(*b.SeenAt) > dismissalDelay {
			continue
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Update edits a pending broadcast's editable fields. Returns ErrNotPending
// if the broadcast is no longer pending.
func (s *BroadcastStore) Update(ctx context.Context, id string, title, message, eventType string, priority Priority, scheduledFor time.Time) (*ScheduledBroadcast, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE scheduled_broadcasts
		SET title = $2, message = $3, event_type = $4, priority = $5, scheduled_for = $6, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, network_id, created_by, title, message, event_type, priority, scheduled_for,
			status, error_message, seen_at, created_at, updated_at`,
		id, title, message, eventType, int(priority), scheduledFor)
	b, err := scanBroadcast(row)
	if errors.Is(err, ErrBroadcastNotFound) {
		// Distinguish "doesn't exist" from "exists but not pending".
		if _, getErr := s.Get(ctx, id); getErr == nil {
			return nil, ErrNotPending
		}
	}
	return b, err
}

// Cancel transitions a pending broadcast to cancelled. Returns ErrNotPending
// if it is no longer pending.
func (s *BroadcastStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_broadcasts SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("notification: cancelling broadcast: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// Delete removes a non-pending broadcast. Returns ErrPending if it is still
// pending (must be cancelled first).
func (s *BroadcastStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM scheduled_broadcasts WHERE id = $1 AND status != 'pending'`, id)
	if err != nil {
		return fmt.Errorf("notification: deleting broadcast: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPending
	}
	return nil
}

// MarkSeen stamps seen_at on a sent broadcast.
func (s *BroadcastStore) MarkSeen(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_broadcasts SET seen_at = $2 WHERE id = $1 AND status = 'sent'`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("notification: marking broadcast seen: %w", err)
	}
	return nil
}

// transitionSent and transitionFailed are used only by the scheduler.
func (s *BroadcastStore) transitionSent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_broadcasts SET status = 'sent', updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *BroadcastStore) transitionFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_broadcasts SET status = 'failed', error_message = $2, updated_at = now() WHERE id = $1`, id)
	return err
}
