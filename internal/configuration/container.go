package configuration

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/db"
	"Roomchat/internal/handler"
	"Roomchat/internal/hub"
	"Roomchat/internal/repo"
	"Roomchat/internal/service"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Container struct {
	MonitorHandler handler.MonitorHandler
	RoomHandler    handler.RoomHandler
	Hub            *hub.Hub
	Users          repo.UserRepository
	Directory      repo.ProjectDirectory
	Identity       auth.IdentityProvider
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	sqliteConn  *sql.DB
}

// NewLogger builds the zap logger described by the log section.
func NewLogger(config LogConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if config.Level != "" {
		level, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	return zapConfig.Build()
}

// BuildStorage opens the configured backend and returns the container with
// its repositories set but no hub. Administrative commands stop here.
func BuildStorage(config *Config, logger *zap.Logger) (*Container, repo.MessageStore, error) {
	c := &Container{Config: *config, Logger: logger}

	var store repo.MessageStore
	switch config.Store.Driver {
	case "mongo":
		mc := config.Store.Mongo
		con, err := db.OpenConnection(mc.Uri, mc.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		c.mongoClient = con

		store, err = repo.NewMongoMessageStore(context.Background(), con, mc.MessagesCollection, logger)
		if err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		c.Directory = repo.NewMongoProjectDirectory(con, mc.MembersCollection, logger)
		c.Users = repo.NewMongoUserRepository(con, mc.UsersCollection, logger)

	case "sqlite":
		conn, err := db.OpenSQLite(config.Store.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.sqliteConn = conn

		store = repo.NewSQLiteMessageStore(conn, logger)
		c.Directory = repo.NewSQLiteProjectDirectory(conn, logger)
		c.Users = repo.NewSQLiteUserRepository(conn, logger)

	case "memory":
		logger.Warn("memory store selected, history is lost on restart")
		store = repo.NewMemoryMessageStore()
		c.Directory = repo.NewMemoryProjectDirectory()
		c.Users = repo.NewMemoryUserRepository()

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}

	if config.Store.CacheSize > 0 {
		store = repo.NewCachedStore(store, config.Store.CacheSize, logger)
	}

	return c, store, nil
}

func BuildContainer(config *Config, logger *zap.Logger) (*Container, error) {
	c, store, err := BuildStorage(config, logger)
	if err != nil {
		return nil, err
	}

	switch config.Auth.Mode {
	case "jwt":
		c.Identity = auth.NewJWTProvider(auth.JWTConfig{
			Secret:        config.Auth.JWT.Secret,
			Issuer:        config.Auth.JWT.Issuer,
			TokenDuration: config.Auth.JWT.TokenDuration,
		})
	default:
		c.Identity = auth.NewDirectoryProvider(c.Users)
	}

	chat := config.Chat
	c.Hub = hub.NewHub(hub.Options{
		AuthTimeout:            config.Auth.Timeout,
		HistoryLimit:           chat.HistoryLimit,
		MaxHistoryLimit:        chat.MaxHistoryLimit,
		TypingTTL:              chat.TypingTTL,
		TypingSweep:            chat.TypingSweep,
		MaxMessageLength:       chat.MaxMessageLength,
		SupportRoomName:        chat.SupportRoomName,
		SupportRoomDescription: chat.SupportRoomDescription,
		AllowedOrigins:         config.Server.AllowedOrigins,
		SendBuffer:             chat.SendBuffer,
	}, store, c.Directory, c.Identity, logger)

	roomService := service.NewRoomService(store, c.Directory, chat.HistoryLimit, chat.MaxHistoryLimit)
	c.RoomHandler = handler.NewRoomHandler(roomService, c.Identity, logger)
	c.MonitorHandler = handler.NewMonitorHandler(hub.NewMonitorService(c.Hub))

	logger.Info("container built",
		zap.String("store", config.Store.Driver),
		zap.Int("cache_size", config.Store.CacheSize),
		zap.String("auth", config.Auth.Mode),
	)
	return c, nil
}

// Close releases the storage connections. The hub is stopped by the server
// shutdown sequence before this runs.
func (c *Container) Close() error {
	var errs []error

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB connection: %w", err))
		}
	}

	if c.sqliteConn != nil {
		if err := c.sqliteConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SQLite database: %w", err))
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	return errors.Join(errs...)
}
