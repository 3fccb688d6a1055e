package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/driftlabs/chatrelay/pkg/config"
	"github.com/driftlabs/chatrelay/pkg/log"
	"github.com/driftlabs/chatrelay/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Room      RoomConfig
	AI        AIConfig
	Database  DatabaseConfig
	Bridge    pubsub.Config
	Registry  RegistryConfig
	Cache     CacheConfig
	ID        IDConfig
	Log       log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

type RoomConfig struct {
	AssistantName   string        `mapstructure:"assistant_name"`
	Placeholder     string        `mapstructure:"placeholder"`
	TypingIndicator string        `mapstructure:"typing_indicator"`
	ErrorNotice     string        `mapstructure:"error_notice"`
	QueueSize       int           `mapstructure:"queue_size"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	EvictInterval   time.Duration `mapstructure:"evict_interval"`
}

type AIConfig struct {
	Model          string
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Driver          string // sqlite, mysql, postgres, cassandra
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"db_name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // minutes
	Cassandra       CassandraConfig
}

type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	Consistency       string
	ReplicationFactor int           `mapstructure:"replication_factor"`
	Timeout           time.Duration
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

type RegistryConfig struct {
	Enabled           bool
	Address           string
	Password          string
	DB                int
	KeyPrefix         string        `mapstructure:"key_prefix"`
	AdvertiseAddress  string        `mapstructure:"advertise_address"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type CacheConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration
}

type IDConfig struct {
	Strategy string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("room.assistant_name", "assistant")
	v.SetDefault("room.placeholder", "...")
	v.SetDefault("room.typing_indicator", "…")
	v.SetDefault("room.error_notice", "[the assistant could not answer]")
	v.SetDefault("room.queue_size", 256)
	v.SetDefault("room.idle_timeout", "10m")
	v.SetDefault("room.evict_interval", "1m")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.system_prompt", "")
	v.SetDefault("ai.request_timeout", "120s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chatrelay")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "chatrelay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.file_path", "chatrelay.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.cassandra.hosts", []string{"127.0.0.1"})
	v.SetDefault("database.cassandra.keyspace", "chatrelay")
	v.SetDefault("database.cassandra.consistency", "quorum")
	v.SetDefault("database.cassandra.replication_factor", 1)
	v.SetDefault("database.cassandra.timeout", "5s")
	v.SetDefault("database.cassandra.connect_timeout", "5s")
	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.driver", "redis")
	v.SetDefault("bridge.redis.address", "localhost:6379")
	v.SetDefault("bridge.redis.password", "")
	v.SetDefault("bridge.redis.db", 0)
	v.SetDefault("bridge.redis.pool_size", 10)
	v.SetDefault("bridge.redis.read_timeout", "3s")
	v.SetDefault("bridge.redis.write_timeout", "3s")
	v.SetDefault("bridge.kafka.brokers", "localhost:9092")
	v.SetDefault("bridge.kafka.group_id", "chatrelay")
	v.SetDefault("bridge.kafka.partitions", 4)
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.address", "localhost:6379")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.db", 0)
	v.SetDefault("registry.key_prefix", "relay:registry")
	v.SetDefault("registry.advertise_address", "localhost:8090")
	v.SetDefault("registry.heartbeat_interval", "10s")
	v.SetDefault("registry.key_ttl", "30s")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key_prefix", "relay:history")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("id.strategy", "uuid")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chatrelay")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ai.model", "OPENAI_MODEL")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("bridge.enabled", "BRIDGE_ENABLED")
	v.BindEnv("bridge.driver", "BRIDGE_DRIVER")
	v.BindEnv("bridge.redis.address", "REDIS_ADDRESS")
	v.BindEnv("bridge.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("registry.enabled", "REGISTRY_ENABLED")
	v.BindEnv("registry.address", "REDIS_ADDRESS")
	v.BindEnv("registry.advertise_address", "ADVERTISE_ADDRESS")
	v.BindEnv("cache.enabled", "CACHE_ENABLED")
	v.BindEnv("cache.address", "REDIS_ADDRESS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Room.IdleTimeout = parseDuration(v, "room.idle_timeout", 10*time.Minute)
	cfg.Room.EvictInterval = parseDuration(v, "room.evict_interval", time.Minute)
	cfg.AI.RequestTimeout = parseDuration(v, "ai.request_timeout", 120*time.Second)
	cfg.Registry.HeartbeatInterval = parseDuration(v, "registry.heartbeat_interval", 10*time.Second)
	cfg.Registry.KeyTTL = parseDuration(v, "registry.key_ttl", 30*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 5*time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
