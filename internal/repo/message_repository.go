package repo

import (
	"Roomchat/internal/model"
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrInvalidRoomID      = errors.New("invalid room ID: cannot be empty")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotAuthor          = errors.New("only the author may edit a message")
	ErrOperationTimeout   = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	// DefaultHistoryLimit is used when a caller asks for a non-positive page size
	DefaultHistoryLimit = 50
)

// MessageStore is the durable, append-only history of every room.
//
// Append assigns the next per-room sequence number. Implementations must
// never hand out the same number twice for a room and must not leave gaps
// when an append fails. History returns messages in ascending id order: the
// newest limit messages whose id is below before (before <= 0 means no bound).
type MessageStore interface {
	Append(ctx context.Context, in model.NewMessage) (model.Message, error)
	History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error)
	Get(ctx context.Context, roomID string, id int64) (*model.Message, error)
	Edit(ctx context.Context, roomID string, id int64, authorID, body string) (model.Message, error)
	AddReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error)
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

func validateNewMessage(in model.NewMessage) error {
	if in.RoomID == "" {
		return ErrInvalidRoomID
	}
	if in.AuthorID == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidMessage)
	}
	if !model.ValidKind(in.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, in.Kind)
	}
	if model.IsAttachment(in.Kind) {
		if in.File == nil || in.File.Name == "" {
			return fmt.Errorf("%w: %s message needs file metadata", ErrInvalidMessage, in.Kind)
		}
	} else if in.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	if !utf8.ValidString(in.Body) {
		return fmt.Errorf("%w: body is not valid UTF-8", ErrInvalidMessage)
	}
	return nil
}

func validateRoomID(roomID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// newMessage builds the stored form of in. Timestamps are kept in UTC at
// millisecond precision so every backend round-trips them unchanged.
func newMessage(in model.NewMessage, seq int64, now time.Time) model.Message {
	return model.Message{
		ID:        seq,
		RoomID:    in.RoomID,
		AuthorID:  in.AuthorID,
		Kind:      in.Kind,
		Body:      in.Body,
		File:      in.File,
		ReplyTo:   in.ReplyTo,
		Reactions: []model.Reaction{},
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Check for MongoDB transient errors
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}

	return false
}

// withReadRetry runs op up to maxRetries times while it fails with a transient error
func withReadRetry[T any](ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation or non-retryable errors
		if !isRetryableError(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

func translateContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	}
	return err
}
