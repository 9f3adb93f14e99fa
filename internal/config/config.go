package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MLLPListener binds one listen address to the subscriber whose messages it
// receives. Format in MLLP_LISTEN_ADDRESSES: "subscriber@host:port", comma
// separated.
type MLLPListener struct {
	SubscriberRef string
	Addr          string
}

// FileEndpoint describes one polled inbox directory. Format in FILE_ENDPOINTS:
// "subscriber@directory@poll_seconds@ext1;ext2", comma separated.
type FileEndpoint struct {
	SubscriberRef string
	Directory     string
	PollInterval  time.Duration
	Extensions    []string
}

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// StrictPAMFR globally disables A08 generation and acceptance.
	StrictPAMFR bool `mapstructure:"STRICT_PAM_FR"`

	MLLPListenAddresses string `mapstructure:"MLLP_LISTEN_ADDRESSES"`
	FileEndpointSpec    string `mapstructure:"FILE_ENDPOINTS"`

	EmissionConcurrency int `mapstructure:"EMISSION_CONCURRENCY"`
	AckTimeoutSeconds   int `mapstructure:"ACK_TIMEOUT_SECONDS"`
	SocketIdleSeconds   int `mapstructure:"SOCKET_IDLE_TIMEOUT_SECONDS"`
	SequenceCacheSize   int `mapstructure:"SEQUENCE_CACHE_SIZE"`
	MaxFrameBytes       int `mapstructure:"MAX_FRAME_BYTES"`

	// MLLP server circuit breaker: consecutive parse errors before the
	// listener refuses new frames, and the cooldown before it re-arms.
	BreakerErrorThreshold int `mapstructure:"BREAKER_ERROR_THRESHOLD"`
	BreakerCooldownSecs   int `mapstructure:"BREAKER_COOLDOWN_SECONDS"`

	SendingApp      string `mapstructure:"SENDING_APP"`
	SendingFacility string `mapstructure:"SENDING_FACILITY"`

	// Assigning authority stamped on generated movement ids (ZBE-1).
	MovementAuthorityName string `mapstructure:"MOVEMENT_AUTHORITY_NAME"`
	MovementAuthorityOID  string `mapstructure:"MOVEMENT_AUTHORITY_OID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STRICT_PAM_FR", false)
	v.SetDefault("EMISSION_CONCURRENCY", 5)
	v.SetDefault("ACK_TIMEOUT_SECONDS", 30)
	v.SetDefault("SOCKET_IDLE_TIMEOUT_SECONDS", 60)
	v.SetDefault("SEQUENCE_CACHE_SIZE", 100)
	v.SetDefault("MAX_FRAME_BYTES", 1<<20)
	v.SetDefault("BREAKER_ERROR_THRESHOLD", 20)
	v.SetDefault("BREAKER_COOLDOWN_SECONDS", 60)
	v.SetDefault("SENDING_APP", "PAMGW")
	v.SetDefault("SENDING_FACILITY", "GHT")
	v.SetDefault("MOVEMENT_AUTHORITY_NAME", "PAMGW")
	v.SetDefault("MOVEMENT_AUTHORITY_OID", "1.2.250.1.211.10")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"STRICT_PAM_FR", "MLLP_LISTEN_ADDRESSES", "FILE_ENDPOINTS",
		"EMISSION_CONCURRENCY", "ACK_TIMEOUT_SECONDS", "SOCKET_IDLE_TIMEOUT_SECONDS",
		"SEQUENCE_CACHE_SIZE", "MAX_FRAME_BYTES",
		"BREAKER_ERROR_THRESHOLD", "BREAKER_COOLDOWN_SECONDS",
		"SENDING_APP", "SENDING_FACILITY",
		"MOVEMENT_AUTHORITY_NAME", "MOVEMENT_AUTHORITY_OID",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks option coherence before startup.
func (c *Config) Validate() error {
	if c.EmissionConcurrency < 1 {
		return fmt.Errorf("EMISSION_CONCURRENCY must be at least 1, got %d", c.EmissionConcurrency)
	}
	if c.AckTimeoutSeconds < 1 {
		return fmt.Errorf("ACK_TIMEOUT_SECONDS must be at least 1, got %d", c.AckTimeoutSeconds)
	}
	if c.SequenceCacheSize < 1 {
		return fmt.Errorf("SEQUENCE_CACHE_SIZE must be at least 1, got %d", c.SequenceCacheSize)
	}
	if _, err := c.MLLPListeners(); err != nil {
		return err
	}
	if _, err := c.FileEndpoints(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSeconds) * time.Second
}

func (c *Config) SocketIdleTimeout() time.Duration {
	return time.Duration(c.SocketIdleSeconds) * time.Second
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSecs) * time.Second
}

// MLLPListeners parses MLLP_LISTEN_ADDRESSES.
func (c *Config) MLLPListeners() ([]MLLPListener, error) {
	if strings.TrimSpace(c.MLLPListenAddresses) == "" {
		return nil, nil
	}
	var out []MLLPListener
	for _, entry := range strings.Split(c.MLLPListenAddresses, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "@", 2)
		if len(parts) != 2 || parts[0] == "" || !strings.Contains(parts[1], ":") {
			return nil, fmt.Errorf("MLLP_LISTEN_ADDRESSES entry %q: want subscriber@host:port", entry)
		}
		out = append(out, MLLPListener{SubscriberRef: parts[0], Addr: parts[1]})
	}
	return out, nil
}

// FileEndpoints parses FILE_ENDPOINTS.
func (c *Config) FileEndpoints() ([]FileEndpoint, error) {
	if strings.TrimSpace(c.FileEndpointSpec) == "" {
		return nil, nil
	}
	var out []FileEndpoint
	for _, entry := range strings.Split(c.FileEndpointSpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "@")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("FILE_ENDPOINTS entry %q: want subscriber@dir[@poll_seconds[@ext;ext]]", entry)
		}
		ep := FileEndpoint{
			SubscriberRef: parts[0],
			Directory:     parts[1],
			PollInterval:  5 * time.Second,
			Extensions:    []string{".hl7", ".txt"},
		}
		if len(parts) > 2 && parts[2] != "" {
			secs, err := strconv.Atoi(parts[2])
			if err != nil || secs < 1 {
				return nil, fmt.Errorf("FILE_ENDPOINTS entry %q: bad poll interval %q", entry, parts[2])
			}
			ep.PollInterval = time.Duration(secs) * time.Second
		}
		if len(parts) > 3 && parts[3] != "" {
			ep.Extensions = nil
			for _, ext := range strings.Split(parts[3], ";") {
				ext = strings.TrimSpace(ext)
				if ext == "" {
					continue
				}
				if !strings.HasPrefix(ext, ".") {
					ext = "." + ext
				}
				ep.Extensions = append(ep.Extensions, ext)
			}
		}
		out = append(out, ep)
	}
	return out, nil
}
