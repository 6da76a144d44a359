package configuration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)

	config, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.AppPort)
	assert.Equal(t, 8081, config.Server.SocketPort)
	assert.Equal(t, "ws", config.Server.SocketRoute)
	assert.Equal(t, "sqlite", config.Store.Driver)
	assert.Equal(t, 200, config.Store.CacheSize)
	assert.Equal(t, "directory", config.Auth.Mode)
	assert.Equal(t, 10*time.Second, config.Auth.Timeout)
	assert.Equal(t, 3*time.Second, config.Chat.TypingTTL)
	assert.Equal(t, 500*time.Millisecond, config.Chat.TypingSweep)
	assert.Equal(t, 50, config.Chat.HistoryLimit)
	assert.Equal(t, "Support", config.Chat.SupportRoomName)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"app_port": 9000, "socket_port": 9001, "allowed_origins": ["https://chat.example.com"]},
		"store": {"driver": "memory", "cache_size": 0},
		"auth": {"mode": "jwt", "timeout": "5s", "jwt": {"secret": "from-file"}},
		"chat": {"typing_ttl": "2s"}
	}`)
	t.Setenv("ROOMCHAT_AUTH_JWT_SECRET", "from-env")
	t.Setenv("ROOMCHAT_CHAT_HISTORY_LIMIT", "20")

	v, err := NewViper(path)
	require.NoError(t, err)
	config, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.AppPort)
	assert.Equal(t, []string{"https://chat.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, "memory", config.Store.Driver)
	assert.Equal(t, 0, config.Store.CacheSize)
	assert.Equal(t, "jwt", config.Auth.Mode)
	assert.Equal(t, 5*time.Second, config.Auth.Timeout)
	assert.Equal(t, "from-env", config.Auth.JWT.Secret)
	assert.Equal(t, 20, config.Chat.HistoryLimit)
	assert.Equal(t, 2*time.Second, config.Chat.TypingTTL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"app_port": 8080, "socket_port": 8080},
		"store": {"driver": "postgres"},
		"auth": {"mode": "jwt"},
		"chat": {"history_limit": 500, "max_history_limit": 100}
	}`)

	v, err := NewViper(path)
	require.NoError(t, err)
	_, err = LoadConfig(v)
	require.Error(t, err)

	for _, fragment := range []string{"store.driver", "auth.jwt.secret", "server.app_port", "chat.history_limit"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestBuildContainer_MemoryStore(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)
	v.Set("store.driver", "memory")

	config, err := LoadConfig(v)
	require.NoError(t, err)

	container, err := BuildContainer(config, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, container.Hub)
	require.NotNil(t, container.RoomHandler)
	require.NotNil(t, container.MonitorHandler)
	assert.NotNil(t, container.Users)
	assert.NotNil(t, container.Directory)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, container.Hub.Stop(ctx))
	assert.NoError(t, container.Close())
}

func TestBuildContainer_SQLiteStore(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)
	v.Set("store.sqlite.path", filepath.Join(t.TempDir(), "chat.db"))

	config, err := LoadConfig(v)
	require.NoError(t, err)

	container, _, err := BuildStorage(config, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, container.Users)
	assert.Nil(t, container.Hub)
	assert.NoError(t, container.Close())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
