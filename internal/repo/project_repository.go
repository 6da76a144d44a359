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

var ErrInvalidProjectID = errors.New("invalid project ID: cannot be empty")

// ProjectDirectory answers whether a user belongs to a project. It is the
// external authority behind project room access.
type ProjectDirectory interface {
	CanAccessProject(ctx context.Context, userID, projectID string) (bool, error)
	AddMember(ctx context.Context, member model.ProjectMember) error
}

// -----------------------------------------------------------------------------
// MongoDB
// -----------------------------------------------------------------------------

type mongoProjectDirectory struct {
	mongoRepo *db.Repository[model.ProjectMember]
	logger    *zap.Logger
}

func NewMongoProjectDirectory(con *mongo.Database, collection string, logger *zap.Logger) ProjectDirectory {
	return &mongoProjectDirectory{
		mongoRepo: db.NewRepository[model.ProjectMember](con, collection),
		logger:    logger,
	}
}

func (r *mongoProjectDirectory) CanAccessProject(ctx context.Context, userID, projectID string) (bool, error) {
	if projectID == "" {
		return false, ErrInvalidProjectID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("project_id", projectID).
		Eq("user_id", userID).
		Eq("is_active", true).
		Build()

	ok, err := withReadRetry(ctx, func(ctx context.Context) (bool, error) {
		return r.mongoRepo.Exists(ctx, filter)
	})
	if err != nil {
		r.logger.Error("failed to check project membership",
			zap.String("project_id", projectID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, fmt.Errorf("check project membership: %w", translateContextError(err))
	}

	r.logger.Debug("project membership checked",
		zap.String("project_id", projectID),
		zap.String("user_id", userID),
		zap.Bool("allowed", ok),
	)
	return ok, nil
}

func (r *mongoProjectDirectory) AddMember(ctx context.Context, member model.ProjectMember) error {
	if member.ProjectID == "" {
		return ErrInvalidProjectID
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("project_id", member.ProjectID).Eq("user_id", member.UserID).Build()
	if err := r.mongoRepo.Upsert(ctx, filter, member); err != nil {
		return fmt.Errorf("save project member: %w", translateContextError(err))
	}
	return nil
}

// -----------------------------------------------------------------------------
// SQLite
// -----------------------------------------------------------------------------

type sqliteProjectDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteProjectDirectory(conn *sql.DB, logger *zap.Logger) ProjectDirectory {
	return &sqliteProjectDirectory{db: conn, logger: logger}
}

func (r *sqliteProjectDirectory) CanAccessProject(ctx context.Context, userID, projectID string) (bool, error) {
	if projectID == "" {
		return false, ErrInvalidProjectID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ? AND is_active = 1`,
		projectID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("failed to check project membership",
			zap.String("project_id", projectID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, fmt.Errorf("check project membership: %w", translateContextError(err))
	}
	return true, nil
}

func (r *sqliteProjectDirectory) AddMember(ctx context.Context, member model.ProjectMember) error {
	if member.ProjectID == "" {
		return ErrInvalidProjectID
	}
	if member.Role == "" {
		member.Role = "member"
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role, is_active = excluded.is_active`,
		member.ProjectID, member.UserID, member.Role, member.IsActive, member.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("save project member: %w", translateContextError(err))
	}
	return nil
}

// -----------------------------------------------------------------------------
// In memory
// -----------------------------------------------------------------------------

// MemoryProjectDirectory is a fixed membership table for development and tests.
type MemoryProjectDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]bool
	err     error
}

func NewMemoryProjectDirectory() *MemoryProjectDirectory {
	return &MemoryProjectDirectory{members: make(map[string]map[string]bool)}
}

// Grant is a shorthand for AddMember with an active member.
func (d *MemoryProjectDirectory) Grant(projectID string, userIDs ...string) {
	for _, userID := range userIDs {
		_ = d.AddMember(context.Background(), model.ProjectMember{ProjectID: projectID, UserID: userID, IsActive: true})
	}
}

// FailWith makes every membership check fail with err until it is reset with nil.
func (d *MemoryProjectDirectory) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *MemoryProjectDirectory) CanAccessProject(ctx context.Context, userID, projectID string) (bool, error) {
	if projectID == "" {
		return false, ErrInvalidProjectID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return false, d.err
	}
	return d.members[projectID][userID], nil
}

func (d *MemoryProjectDirectory) AddMember(ctx context.Context, member model.ProjectMember) error {
	if member.ProjectID == "" {
		return ErrInvalidProjectID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	users, ok := d.members[member.ProjectID]
	if !ok {
		users = make(map[string]bool)
		d.members[member.ProjectID] = users
	}
	users[member.UserID] = member.IsActive
	return nil
}
