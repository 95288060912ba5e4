package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Bridge BridgeConfig
	Kit    KitConfig
	Cmbc   CmbcConfig
	Redis  RedisConfig
}

type ServerConfig struct {
	Port            int
	Env             string // "development", "production"
	ShutdownTimeout time.Duration
}

// BridgeConfig describes how to reach the signing bridge. With EtcdEndpoints set,
// bridges are discovered in etcd; otherwise Host:Port is used.
type BridgeConfig struct {
	Service        string
	Host           string
	Port           int
	EtcdEndpoints  []string
	Codec          string // "binary" or "json"
	Balancer       string // "round_robin", "weighted_random", "consistent_hash"
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CallTimeout    time.Duration // 0 disables
	MaxRetries     int           // connect failures only, 0 disables
	RateLimit      float64       // calls per second, 0 disables
	RateBurst      int
	ListenAddr     string // loopbridge only
}

type KitConfig struct {
	Class              string
	PrivateKeyPath     string
	PrivateKeyPassword string
	PublicKeyPath      string
	ErrorMarker        string
}

type CmbcConfig struct {
	Mode      string
	JumpURL   string
	CorpID    string
	NotifyURL string
}

type RedisConfig struct {
	Addr     string // empty keeps callback de-duplication in memory
	Pass     string
	DB       int
	DedupTTL time.Duration
}

// IsDevelopment reports whether APP_ENV selects development logging.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("BRIDGE_SERVICE", "cmbc-bridge")
	v.SetDefault("BRIDGE_HOST", "127.0.0.1")
	v.SetDefault("BRIDGE_PORT", 21230)
	v.SetDefault("BRIDGE_CODEC", "binary")
	v.SetDefault("BRIDGE_BALANCER", "round_robin")
	v.SetDefault("BRIDGE_CONNECT_TIMEOUT", "3s")
	v.SetDefault("BRIDGE_READ_TIMEOUT", "10s")
	v.SetDefault("BRIDGE_WRITE_TIMEOUT", "5s")
	v.SetDefault("BRIDGE_CALL_TIMEOUT", "15s")
	v.SetDefault("BRIDGE_MAX_RETRIES", 0)
	v.SetDefault("BRIDGE_RATE_LIMIT", 0)
	v.SetDefault("BRIDGE_RATE_BURST", 10)
	v.SetDefault("BRIDGE_LISTEN", ":21230")
	v.SetDefault("KIT_CLASS", "cfca.sadk.cmbc.patch.tools.php.PHPDecryptKitAllInOne")
	v.SetDefault("KIT_ERROR_MARKER", "ERROR")
	v.SetDefault("CMBC_MODE", "normal")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEDUP_TTL", "24h")

	durations := map[string]*time.Duration{}
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("APP_PORT"),
			Env:  v.GetString("APP_ENV"),
		},
		Bridge: BridgeConfig{
			Service:       v.GetString("BRIDGE_SERVICE"),
			Host:          v.GetString("BRIDGE_HOST"),
			Port:          v.GetInt("BRIDGE_PORT"),
			EtcdEndpoints: splitList(v.GetString("BRIDGE_ETCD_ENDPOINTS")),
			Codec:         v.GetString("BRIDGE_CODEC"),
			Balancer:      v.GetString("BRIDGE_BALANCER"),
			MaxRetries:    v.GetInt("BRIDGE_MAX_RETRIES"),
			RateLimit:     v.GetFloat64("BRIDGE_RATE_LIMIT"),
			RateBurst:     v.GetInt("BRIDGE_RATE_BURST"),
			ListenAddr:    v.GetString("BRIDGE_LISTEN"),
		},
		Kit: KitConfig{
			Class:              v.GetString("KIT_CLASS"),
			PrivateKeyPath:     v.GetString("KIT_PRIVATE_PATH"),
			PrivateKeyPassword: v.GetString("KIT_PRIVATE_PASSWORD"),
			PublicKeyPath:      v.GetString("KIT_PUBLIC_PATH"),
			ErrorMarker:        v.GetString("KIT_ERROR_MARKER"),
		},
		Cmbc: CmbcConfig{
			Mode:      v.GetString("CMBC_MODE"),
			JumpURL:   v.GetString("CMBC_JUMP_URL"),
			CorpID:    v.GetString("CMBC_CORP_ID"),
			NotifyURL: v.GetString("CMBC_NOTIFY_URL"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("REDIS_ADDR"),
			Pass: v.GetString("REDIS_PASS"),
			DB:   v.GetInt("REDIS_DB"),
		},
	}
	durations["SHUTDOWN_TIMEOUT"] = &cfg.Server.ShutdownTimeout
	durations["BRIDGE_CONNECT_TIMEOUT"] = &cfg.Bridge.ConnectTimeout
	durations["BRIDGE_READ_TIMEOUT"] = &cfg.Bridge.ReadTimeout
	durations["BRIDGE_WRITE_TIMEOUT"] = &cfg.Bridge.WriteTimeout
	durations["BRIDGE_CALL_TIMEOUT"] = &cfg.Bridge.CallTimeout
	durations["DEDUP_TTL"] = &cfg.Redis.DedupTTL

	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}

	if cfg.Bridge.Port <= 0 || cfg.Bridge.Port > 65535 {
		return nil, fmt.Errorf("config: BRIDGE_PORT %d out of range", cfg.Bridge.Port)
	}

	return cfg, nil
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
