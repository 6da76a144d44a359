package configuration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ROOMCHAT"

type MongoConfig struct {
	Uri                string `mapstructure:"uri"`
	Database           string `mapstructure:"database"`
	MessagesCollection string `mapstructure:"messages_collection"`
	MembersCollection  string `mapstructure:"members_collection"`
	UsersCollection    string `mapstructure:"users_collection"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type StoreConfig struct {
	Driver    string       `mapstructure:"driver"` // mongo, sqlite or memory
	CacheSize int          `mapstructure:"cache_size"`
	Mongo     MongoConfig  `mapstructure:"mongo"`
	SQLite    SQLiteConfig `mapstructure:"sqlite"`
}

type ServerConfig struct {
	AppPort         int           `mapstructure:"app_port"`
	SocketPort      int           `mapstructure:"socket_port"`
	SocketRoute     string        `mapstructure:"socket_route"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`
	Issuer        string        `mapstructure:"issuer"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

type AuthConfig struct {
	Mode    string        `mapstructure:"mode"` // jwt or directory
	Timeout time.Duration `mapstructure:"timeout"`
	JWT     JWTConfig     `mapstructure:"jwt"`
}

type ChatConfig struct {
	HistoryLimit           int           `mapstructure:"history_limit"`
	MaxHistoryLimit        int           `mapstructure:"max_history_limit"`
	TypingTTL              time.Duration `mapstructure:"typing_ttl"`
	TypingSweep            time.Duration `mapstructure:"typing_sweep"`
	MaxMessageLength       int           `mapstructure:"max_message_length"`
	SendBuffer             int           `mapstructure:"send_buffer"`
	SupportRoomName        string        `mapstructure:"support_room_name"`
	SupportRoomDescription string        `mapstructure:"support_room_description"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Log    LogConfig    `mapstructure:"log"`
}

// SetDefaults registers a default for every key so environment overrides
// work even when the key is missing from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.app_port", 8080)
	v.SetDefault("server.socket_port", 8081)
	v.SetDefault("server.socket_route", "ws")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:4200"})
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.cache_size", 200)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "roomchat")
	v.SetDefault("store.mongo.messages_collection", "messages")
	v.SetDefault("store.mongo.members_collection", "project_members")
	v.SetDefault("store.mongo.users_collection", "users")
	v.SetDefault("store.sqlite.path", "roomchat.db")

	v.SetDefault("auth.mode", "directory")
	v.SetDefault("auth.timeout", "10s")
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "roomchat")
	v.SetDefault("auth.jwt.token_duration", "1h")

	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_history_limit", 100)
	v.SetDefault("chat.typing_ttl", "3s")
	v.SetDefault("chat.typing_sweep", "500ms")
	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.send_buffer", 256)
	v.SetDefault("chat.support_room_name", "Support")
	v.SetDefault("chat.support_room_description", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// NewViper returns a viper instance with defaults and ROOMCHAT_ environment
// overrides. When configPath is set the file must exist.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	return v, nil
}

// LoadConfig decodes and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "mongo", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want mongo, sqlite or memory", c.Store.Driver))
	}

	switch c.Auth.Mode {
	case "directory":
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			errs = append(errs, errors.New("auth.jwt.secret is required in jwt mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q: want jwt or directory", c.Auth.Mode))
	}

	if c.Server.AppPort == c.Server.SocketPort {
		errs = append(errs, errors.New("server.app_port and server.socket_port must differ"))
	}
	if c.Chat.HistoryLimit > c.Chat.MaxHistoryLimit {
		errs = append(errs, errors.New("chat.history_limit exceeds chat.max_history_limit"))
	}

	return errors.Join(errs...)
}
