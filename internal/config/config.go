package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Backend  BackendConfig   `mapstructure:"backend"`
	Database DatabaseConfig  `mapstructure:"database"`
	Stream   StreamConfig    `mapstructure:"stream"`
	Kafka    KafkaConfig     `mapstructure:"kafka"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Keycloak KeycloakConfig  `mapstructure:"keycloak"`
	Channels map[string]bool `mapstructure:"channels"`

	v *viper.Viper
}

// ServerConfig configures the local surface panel.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type BackendConfig struct {
	// Kind selects the history/mutation backend: "rest" or "postgres".
	Kind     string        `mapstructure:"kind"`
	BaseURL  string        `mapstructure:"base_url"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// TenantKey is sent as X-Tenant-Key and scopes the database source.
	// Empty means the realm of the credential.
	TenantKey string `mapstructure:"tenant_key"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// UserID scopes the direct database source to one inbox. Empty means
	// the subject of the credential.
	UserID string `mapstructure:"user_id"`
}

type StreamConfig struct {
	// Transport selects the live stream: "sse", "websocket" or "kafka".
	Transport   string        `mapstructure:"transport"`
	URL         string        `mapstructure:"url"`
	MaxRetries  uint64        `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	// Token is a static bearer credential. Leave empty to use Keycloak.
	Token string `mapstructure:"token"`
}

type KeycloakConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: ARDA_NOTIF_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8091")
	v.SetDefault("server.env", "development")
	v.SetDefault("backend.kind", "rest")
	v.SetDefault("backend.base_url", "http://localhost:8090")
	v.SetDefault("backend.page_size", 20)
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "arda_notification")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("stream.transport", "sse")
	v.SetDefault("stream.url", "http://localhost:8090/notifications/stream")
	v.SetDefault("stream.max_retries", 8)
	v.SetDefault("stream.base_backoff", time.Second)
	v.SetDefault("stream.max_backoff", 30*time.Second)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "notification-events")
	v.SetDefault("keycloak.base_url", "http://localhost:8081")
	v.SetDefault("keycloak.realm", "master")
	v.SetDefault("keycloak.client_id", "arda-notification-engine")
	v.SetDefault("channels", map[string]bool{"liveEnabled": true})

	// Environment variables (e.g. ARDA_NOTIF_STREAM_URL -> stream.url)
	v.SetEnvPrefix("ARDA_NOTIF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("backend.base_url", "NOTIFICATION_API_URL")
	v.BindEnv("stream.url", "NOTIFICATION_STREAM_URL")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("auth.token", "NOTIFICATION_TOKEN")
	v.BindEnv("keycloak.base_url", "KEYCLOAK_URL")
	v.BindEnv("keycloak.realm", "KEYCLOAK_REALM")
	v.BindEnv("keycloak.client_id", "KEYCLOAK_CLIENT_ID")
	v.BindEnv("keycloak.client_secret", "KEYCLOAK_CLIENT_SECRET")
	v.BindEnv("backend.tenant_key", "TENANT_KEY")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.v = v

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
