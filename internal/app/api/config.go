package api

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.temporal.io/sdk/client"

	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	platformconfig "github.com/Apurer/go-catalog-pipeline/internal/platform/config"
)

// Config carries environment-driven settings shared by the catalog processes.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	TemporalAddress   string `env:"TEMPORAL_ADDRESS"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE"`
	TemporalDisabled  bool   `env:"TEMPORAL_DISABLED"`

	LogPartitions  int      `env:"LOG_PARTITIONS" envDefault:"8"`
	ConsumerGroups []string `env:"CONSUMER_GROUPS" envDefault:"search-index,graph-index,aspect-cache"`

	ApplyMaxRetries        int           `env:"APPLY_MAX_RETRIES" envDefault:"3"`
	ConsumerMaxAttempts    int           `env:"CONSUMER_MAX_ATTEMPTS" envDefault:"5"`
	ConsumerBackoffInitial time.Duration `env:"CONSUMER_BACKOFF_INITIAL" envDefault:"100ms"`
	ConsumerBackoffMax     time.Duration `env:"CONSUMER_BACKOFF_MAX" envDefault:"5s"`
	StorageTimeout         time.Duration `env:"STORAGE_TIMEOUT" envDefault:"5s"`
	// IdempotencyRetention bounds how long an Idempotency-Key replays its first outcome.
	IdempotencyRetention time.Duration `env:"IDEMPOTENCY_RETENTION" envDefault:"24h"`

	OutboxSweepInterval time.Duration `env:"OUTBOX_SWEEP_INTERVAL" envDefault:"10s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxRatePerSecond float64       `env:"OUTBOX_RATE_PER_SECOND" envDefault:"200"`

	// ProducerID stamps versions written by this process; the hostname when empty.
	ProducerID string `env:"PRODUCER_ID"`

	PolicyFile    string `env:"POLICY_FILE"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	// CheckpointDir switches consumer checkpoints and dead letters to a local badger store.
	CheckpointDir string `env:"CHECKPOINT_DIR"`
}

// LoadConfig reads environment variables, applies defaults, and validates basic constraints.
func LoadConfig() (Config, error) {
	cfg, err := platformconfig.Parse[Config]()
	if err != nil {
		return Config{}, err
	}
	if cfg.TemporalAddress == "" {
		cfg.TemporalAddress = client.DefaultHostPort
	}
	if cfg.TemporalNamespace == "" {
		cfg.TemporalNamespace = client.DefaultNamespace
	}
	return cfg, nil
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	var errs []error
	if c.LogPartitions <= 0 {
		errs = append(errs, errors.New("LOG_PARTITIONS must be positive"))
	}
	if c.ApplyMaxRetries < 0 {
		errs = append(errs, errors.New("APPLY_MAX_RETRIES must not be negative"))
	}
	if c.ConsumerMaxAttempts < 0 {
		errs = append(errs, errors.New("CONSUMER_MAX_ATTEMPTS must not be negative"))
	}
	if c.ConsumerBackoffInitial <= 0 || c.ConsumerBackoffMax < c.ConsumerBackoffInitial {
		errs = append(errs, errors.New("CONSUMER_BACKOFF_INITIAL must be positive and not above CONSUMER_BACKOFF_MAX"))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.IdempotencyRetention < 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_RETENTION must not be negative"))
	}
	if c.OutboxSweepInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxRatePerSecond <= 0 {
		errs = append(errs, errors.New("OUTBOX_SWEEP_INTERVAL, OUTBOX_BATCH_SIZE and OUTBOX_RATE_PER_SECOND must be positive"))
	}
	if err := c.checkStorage(); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]bool{}
	for i, g := range c.ConsumerGroups {
		g = strings.TrimSpace(g)
		c.ConsumerGroups[i] = g
		switch g {
		case viewsdomain.ViewSearch, viewsdomain.ViewGraph, viewsdomain.ViewAspectCache:
		default:
			errs = append(errs, fmt.Errorf("CONSUMER_GROUPS: unknown group %q", g))
		}
		if seen[g] {
			errs = append(errs, fmt.Errorf("CONSUMER_GROUPS: duplicate group %q", g))
		}
		seen[g] = true
	}
	return errors.Join(errs...)
}

// checkStorage rejects combinations where consumer progress outlives the log
// it points into.
func (c Config) checkStorage() error {
	if strings.TrimSpace(c.CheckpointDir) != "" && !c.Durable() {
		return errors.New("CHECKPOINT_DIR requires POSTGRES_DSN: checkpoints would outlive the in-memory log")
	}
	return nil
}

func (c Config) producerID() string {
	if id := strings.TrimSpace(c.ProducerID); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "catalog"
	}
	return host
}

// Durable reports whether state survives a restart.
func (c Config) Durable() bool {
	return strings.TrimSpace(c.PostgresDSN) != ""
}
