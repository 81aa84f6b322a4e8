package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Node      NodeConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Discovery DiscoveryConfig
	WebSocket WebSocketConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type NodeConfig struct {
	ID         string
	PeerSecret string
}

type SyncConfig struct {
	Interval         time.Duration
	MaxRetries       int
	Timeout          time.Duration
	CleanupOlderThan time.Duration
	MaxSnapshots     int
	SubscriberBuffer int
	Resolution       string
}

type StorageConfig struct {
	// Backend selects the persistence adapter: bolt, couch or memory.
	Backend  string
	BoltPath string
	Couch    CouchConfig
}

type CouchConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type DiscoveryConfig struct {
	Enabled   bool
	Endpoints []string
	Prefix    string
	PeerURL   string
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	syncTimeout, err := time.ParseDuration(getEnv("SYNC_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_TIMEOUT: %w", err)
	}

	cleanupOlderThan, err := time.ParseDuration(getEnv("CHANGE_RETENTION", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHANGE_RETENTION: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Node: NodeConfig{
			ID:         getEnv("NODE_ID", ""),
			PeerSecret: getEnv("PEER_SECRET", "dev-secret-change-in-production"),
		},
		Sync: SyncConfig{
			Interval:         syncInterval,
			MaxRetries:       getEnvAsInt("SYNC_MAX_RETRIES", 3),
			Timeout:          syncTimeout,
			CleanupOlderThan: cleanupOlderThan,
			MaxSnapshots:     getEnvAsInt("MAX_SNAPSHOTS", 10),
			SubscriberBuffer: getEnvAsInt("SUBSCRIBER_BUFFER", 64),
			Resolution:       getEnv("CONFLICT_RESOLUTION", "keep_latest"),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "bolt"),
			BoltPath: getEnv("BOLT_PATH", "context-sync.db"),
			Couch: CouchConfig{
				Host:     getEnv("COUCH_HOST", "localhost"),
				Port:     getEnv("COUCH_PORT", "5984"),
				User:     getEnv("COUCH_USER", "admin"),
				Password: getEnv("COUCH_PASSWORD", "password"),
				Name:     getEnv("COUCH_DB", "context-sync"),
			},
		},
		Discovery: DiscoveryConfig{
			Enabled:   getEnvAsBool("DISCOVERY_ENABLED", false),
			Endpoints: splitEnv("ETCD_ENDPOINTS", "localhost:2379"),
			Prefix:    getEnv("DISCOVERY_PREFIX", "/context-sync/nodes/"),
			PeerURL:   getEnv("PEER_URL", ""),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 524288)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
