package repo

import (
	"Roomchat/internal/model"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

type sqliteMessageStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteMessageStore keeps messages and reactions in the tables created
// by db.OpenSQLite.
func NewSQLiteMessageStore(conn *sql.DB, logger *zap.Logger) MessageStore {
	return &sqliteMessageStore{
		db:     conn,
		logger: logger,
		now:    time.Now,
	}
}

const messageColumns = `seq, room_id, author_id, kind, body, file_name, file_path, file_size, mime_type, reply_to, edited, edited_at, created_at`

// Append picks the next sequence and inserts inside one transaction; the
// primary key (room_id, seq) rejects a duplicate number.
func (s *sqliteMessageStore) Append(ctx context.Context, in model.NewMessage) (model.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return model.Message{}, err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("append message failed: %w", translateContextError(err))
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE room_id = ?`, in.RoomID,
	).Scan(&last); err != nil {
		return model.Message{}, fmt.Errorf("append message failed: %w", translateContextError(err))
	}

	msg := newMessage(in, last+1, s.now())

	var fileName, filePath, mimeType sql.NullString
	var fileSize, replyTo sql.NullInt64
	if msg.File != nil {
		fileName = sql.NullString{String: msg.File.Name, Valid: true}
		filePath = sql.NullString{String: msg.File.Path, Valid: true}
		mimeType = sql.NullString{String: msg.File.MimeType, Valid: true}
		fileSize = sql.NullInt64{Int64: msg.File.Size, Valid: true}
	}
	if msg.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: *msg.ReplyTo, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Kind, msg.Body,
		fileName, filePath, fileSize, mimeType, replyTo, msg.CreatedAt,
	); err != nil {
		s.logger.Error("failed to insert message", zap.Error(err), zap.String("room_id", in.RoomID))
		return model.Message{}, fmt.Errorf("append message failed: %w", translateContextError(err))
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("append message failed: %w", translateContextError(err))
	}

	s.logger.Debug("message appended", zap.String("room_id", msg.RoomID), zap.Int64("seq", msg.ID))
	return msg, nil
}

func (s *sqliteMessageStore) History(ctx context.Context, roomID string, before int64, limit int) ([]model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ?`
	args := []any{roomID}
	if before > 0 {
		query += ` AND seq < ?`
		args = append(args, before)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read messages failed: %w", translateContextError(err))
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("read messages failed: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages failed: %w", translateContextError(err))
	}

	slices.Reverse(msgs)
	if err := s.attachReactions(ctx, roomID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *sqliteMessageStore) Get(ctx context.Context, roomID string, id int64) (*model.Message, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = ? AND seq = ?`, roomID, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("read message failed: %w", translateContextError(err))
	}

	msgs := []model.Message{msg}
	if err := s.attachReactions(ctx, roomID, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *sqliteMessageStore) Edit(ctx context.Context, roomID string, id int64, authorID, body string) (model.Message, error) {
	if body == "" {
		return model.Message{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	existing, err := s.Get(ctx, roomID, id)
	if err != nil {
		return model.Message{}, err
	}
	if existing.AuthorID != authorID {
		return model.Message{}, ErrNotAuthor
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	editedAt := s.now().UTC().Truncate(time.Millisecond)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET body = ?, edited = 1, edited_at = ? WHERE room_id = ? AND seq = ?`,
		body, editedAt, roomID, id,
	); err != nil {
		return model.Message{}, fmt.Errorf("edit message failed: %w", translateContextError(err))
	}

	existing.Body = body
	existing.Edited = true
	existing.EditedAt = &editedAt
	return *existing, nil
}

func (s *sqliteMessageStore) AddReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := s.requireMessage(ctx, roomID, id); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reactions (room_id, seq, user_id, emoji, created_at) VALUES (?, ?, ?, ?, ?)`,
		roomID, id, userID, emoji, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("add reaction failed: %w", translateContextError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add reaction failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteMessageStore) RemoveReaction(ctx context.Context, roomID string, id int64, userID, emoji string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := s.requireMessage(ctx, roomID, id); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE room_id = ? AND seq = ? AND user_id = ? AND emoji = ?`,
		roomID, id, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("remove reaction failed: %w", translateContextError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove reaction failed: %w", err)
	}
	return n == 1, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg                          model.Message
		fileName, filePath, mimeType sql.NullString
		fileSize, replyTo            sql.NullInt64
		editedAt                     sql.NullTime
	)

	if err := row.Scan(
		&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Kind, &msg.Body,
		&fileName, &filePath, &fileSize, &mimeType, &replyTo,
		&msg.Edited, &editedAt, &msg.CreatedAt,
	); err != nil {
		return model.Message{}, err
	}

	if fileName.Valid {
		msg.File = &model.FileInfo{
			Name:     fileName.String,
			Path:     filePath.String,
			Size:     fileSize.Int64,
			MimeType: mimeType.String,
		}
	}
	if replyTo.Valid {
		v := replyTo.Int64
		msg.ReplyTo = &v
	}
	if editedAt.Valid {
		t := editedAt.Time.UTC()
		msg.EditedAt = &t
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.Reactions = []model.Reaction{}
	return msg, nil
}

func (s *sqliteMessageStore) attachReactions(ctx context.Context, roomID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	index := make(map[int64]int, len(msgs))
	placeholders := make([]string, 0, len(msgs))
	args := []any{roomID}
	for i, msg := range msgs {
		index[msg.ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, msg.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, user_id, emoji FROM reactions WHERE room_id = ? AND seq IN (`+strings.Join(placeholders, ",")+`) ORDER BY created_at, rowid`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("read reactions failed: %w", translateContextError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq int64
			r   model.Reaction
		)
		if err := rows.Scan(&seq, &r.UserID, &r.Emoji); err != nil {
			return fmt.Errorf("read reactions failed: %w", err)
		}
		if i, ok := index[seq]; ok {
			msgs[i].Reactions = append(msgs[i].Reactions, r)
		}
	}
	return rows.Err()
}

func (s *sqliteMessageStore) requireMessage(ctx context.Context, roomID string, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE room_id = ? AND seq = ?`, roomID, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("read message failed: %w", translateContextError(err))
	}
	return nil
}
