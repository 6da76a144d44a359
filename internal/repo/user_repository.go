package repo

import (
	"Roomchat/internal/db"
	"Roomchat/internal/model"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var ErrInvalidUserID = errors.New("invalid user ID: cannot be empty")

// UserRepository looks up user records. GetUser returns nil without an
// error when the user does not exist.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	SaveUser(ctx context.Context, user model.User) error
}

type mongoUserRepository struct {
	mongoRepo *db.Repository[model.User]
	logger    *zap.Logger
}

func NewMongoUserRepository(con *mongo.Database, collection string, logger *zap.Logger) UserRepository {
	return &mongoUserRepository{
		mongoRepo: db.NewRepository[model.User](con, collection),
		logger:    logger,
	}
}

func (r *mongoUserRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	user, err := withReadRetry(ctx, func(ctx context.Context) (*model.User, error) {
		return r.mongoRepo.FindOne(ctx, db.NewFilter().Eq("user_id", userID).Build())
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Debug("user not found", zap.String("user_id", userID))
			return nil, nil
		}
		r.logger.Error("failed to fetch user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch user: %w", translateContextError(err))
	}
	return user, nil
}

func (r *mongoUserRepository) SaveUser(ctx context.Context, user model.User) error {
	if user.UserID == "" {
		return ErrInvalidUserID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := r.mongoRepo.Upsert(ctx, db.NewFilter().Eq("user_id", user.UserID).Build(), user); err != nil {
		return fmt.Errorf("save user: %w", translateContextError(err))
	}
	return nil
}

type sqliteUserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteUserRepository(conn *sql.DB, logger *zap.Logger) UserRepository {
	return &sqliteUserRepository{db: conn, logger: logger}
}

func (r *sqliteUserRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var user model.User
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, username, email, first_name, last_name, is_active, created_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&user.UserID, &user.Username, &user.Email, &user.FirstName, &user.LastName, &user.IsActive, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to fetch user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch user: %w", translateContextError(err))
	}
	return &user, nil
}

func (r *sqliteUserRepository) SaveUser(ctx context.Context, user model.User) error {
	if user.UserID == "" {
		return ErrInvalidUserID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, first_name, last_name, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, email = excluded.email,
			first_name = excluded.first_name, last_name = excluded.last_name, is_active = excluded.is_active`,
		user.UserID, user.Username, user.Email, user.FirstName, user.LastName, user.IsActive, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save user: %w", translateContextError(err))
	}
	return nil
}

// MemoryUserRepository keeps users in a map.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]model.User)}
}

func (r *MemoryUserRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *MemoryUserRepository) SaveUser(ctx context.Context, user model.User) error {
	if user.UserID == "" {
		return ErrInvalidUserID
	}

	r.mu.Lock()
	r.users[user.UserID] = user
	r.mu.Unlock()
	return nil
}
