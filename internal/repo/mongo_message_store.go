package repo

import (
	"Roomchat/internal/db"
	"Roomchat/internal/model"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type mongoMessageStore struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
	now       func() time.Time
}

// NewMongoMessageStore stores messages in collection, one document per
// message, unique on (room_id, seq).
func NewMongoMessageStore(ctx context.Context, con *mongo.Database, collection string, logger *zap.Logger) (MessageStore, error) {
	mongoRepo := db.NewRepository[model.Message](con, collection)

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := mongoRepo.EnsureUniqueIndex(ctx, bson.D{{Key: "room_id", Value: 1}, {Key: "seq", Value: 1}}); err != nil {
		return nil, fmt.Errorf("ensure message index: %w", err)
	}

	return &mongoMessageStore{
		mongoRepo: mongoRepo,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// -----------------------------------------------------------------------------
// Append
// -----------------------------------------------------------------------------

// Append reads the room's highest sequence and inserts the next one. The
// unique index rejects a concurrent writer that picked the same number, in
// which case the read is repeated. A failed insert consumes no number.
func (m *mongoMessageStore) Append(ctx context.Context, in model.NewMessage) (model.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return model.Message{}, err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		seq, err := m.lastSeq(ctx, in.RoomID)
		if err != nil {
			return model.Message{}, translateContextError(err)
		}

		msg := newMessage(in, seq+1, m.now())
		if _, err = m.mongoRepo.Create(ctx, msg); err == nil {
			m.logger.Debug("message appended",
				zap.String("room_id", msg.RoomID),
				zap.Int64("seq", msg.ID),
				zap.Int("attempt", attempt+1),
			)
			return msg, nil
		}

		lastErr = err
		if !mongo.IsDuplicateKeyError(err) {
			break
		}

		m.logger.Warn("sequence collision, retrying append",
			zap.String("room_id", in.RoomID),
			zap.Int64("seq", seq+1),
		)
	}

	m.logger.Error("failed to append message",
		zap.Error(lastErr),
		zap.String("room_id", in.RoomID),
	)
	return model.Message{}, fmt.Errorf("append message failed: %w", translateContextError(lastErr))
}

func (m *mongoMessageStore) lastSeq(ctx context.Context, roomID string) (int64, error) {
	filter := db.NewFilter().Eq("room_id", roomID).Build()
	last, err := m.mongoRepo.FindSorted(ctx, filter, bson.D{{Key: "seq", Value: -1}}, 1)
	if err != nil {
		return 0, err
	}
	if len(last) == 0 {
		return 0, nil
	}
	return last[0].ID, nil
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (m *mongoMessageStore) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("room_id", roomID).
		LtIf(before > 0, "seq", before).
		Build()

	msgs, err := withReadRetry(ctx, func(ctx context.Context) ([]model.Message, error) {
		return m.mongoRepo.FindSorted(ctx, filter, bson.D{{Key: "seq", Value: -1}}, int64(limit))
	})
	if err != nil {
		return nil, m.handleReadError(err, roomID)
	}

	// newest first from the query, oldest first for the caller
	slices.Reverse(msgs)
	for i := range msgs {
		normalizeReactions(&msgs[i])
	}

	m.logger.Debug("history loaded",
		zap.String("room_id", roomID),
		zap.Int64("before", before),
		zap.Int("count", len(msgs)),
	)
	return msgs, nil
}

func (m *mongoMessageStore) Get(ctx context.Context, roomID string, id int64) (*model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := withReadRetry(ctx, func(ctx context.Context) (*model.Message, error) {
		return m.mongoRepo.FindOne(ctx, messageKey(roomID, id))
	})
	if err != nil {
		return nil, m.handleReadError(err, roomID)
	}

	normalizeReactions(msg)
	return msg, nil
}

// -----------------------------------------------------------------------------
// Edit and reactions
// -----------------------------------------------------------------------------

func (m *mongoMessageStore) Edit(ctx context.Context, roomID string, id int64, authorID, body string) (model.Message, error) {
	if body == "" {
		return model.Message{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	existing, err := m.Get(ctx, roomID, id)
	if err != nil {
		return model.Message{}, err
	}
	if existing.AuthorID != authorID {
		return model.Message{}, ErrNotAuthor
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	editedAt := m.now().UTC().Truncate(time.Millisecond)
	updated, err := m.mongoRepo.FindOneAndSet(ctx, messageKey(roomID, id), bson.M{
		"body":      body,
		"edited":    true,
		"edited_at": editedAt,
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Message{}, ErrMessageNotFound
		}
		return model.Message{}, fmt.Errorf("edit message failed: %w", translateContextError(err))
	}

	normalizeReactions(updated)
	return *updated, nil
}

func (m *mongoMessageStore) AddReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	reaction := bson.M{"user_id": userID, "emoji": emoji}
	filter := db.NewFilter().
		Eq("room_id", roomID).
		Eq("seq", id).
		NotElemMatch("reactions", reaction).
		Build()

	result, err := m.mongoRepo.Update(ctx, filter, bson.M{"$push": bson.M{"reactions": reaction}})
	if err != nil {
		return false, fmt.Errorf("add reaction failed: %w", translateContextError(err))
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}

	// Nothing matched: either the reaction exists already or the message does not
	exists, err := m.mongoRepo.Exists(ctx, messageKey(roomID, id))
	if err != nil {
		return false, fmt.Errorf("add reaction failed: %w", translateContextError(err))
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}

func (m *mongoMessageStore) RemoveReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := m.mongoRepo.Update(ctx, messageKey(roomID, id), bson.M{
		"$pull": bson.M{"reactions": bson.M{"user_id": userID, "emoji": emoji}},
	})
	if err != nil {
		return false, fmt.Errorf("remove reaction failed: %w", translateContextError(err))
	}
	if result.MatchedCount == 0 {
		return false, ErrMessageNotFound
	}
	return result.ModifiedCount == 1, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func messageKey(roomID string, id int64) bson.M {
	return db.NewFilter().Eq("room_id", roomID).Eq("seq", id).Build()
}

func normalizeReactions(msg *model.Message) {
	if msg != nil && msg.Reactions == nil {
		msg.Reactions = []model.Reaction{}
	}
}

func (m *mongoMessageStore) handleReadError(err error, roomID string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrMessageNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("room_id", roomID))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("room_id", roomID))
		return err
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("room_id", roomID))
	return fmt.Errorf("read messages failed: %w", err)
}
