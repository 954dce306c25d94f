package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	// Logger is used by the transactional maps. nil means the global logger.
	Logger *zap.Logger `toml:"-"`

	// Number of latch stripes, the one reserved for internal keys included.
	MutexStripes int `toml:"mutex-stripes"`
	// MutexFactory makes the mutex of each stripe. nil means latches.NewUpgradeableMutex.
	MutexFactory func() latches.Mutex `toml:"-"`

	// How long a pessimistic transaction waits for a latch before it fails. Zero means it never waits.
	LockTimeout Duration `toml:"lock-timeout"`

	// How many versions of a key the optimistic map keeps once garbage collection caught up.
	QueueDepth int `toml:"queue-depth"`

	// How many times the retry driver runs a region before it gives up. Zero means no limit.
	RetryMaxAttempts int `toml:"retry-max-attempts"`
}

func (c *Config) Validate() error {
	if c.MutexStripes <= 0 {
		return fmt.Errorf("mutex stripes must be greater than 0")
	}
	if c.MutexStripes == 1 {
		log.Warn("a single mutex stripe serializes every transaction on the internal keys")
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative")
	}
	return nil
}

func (c *Config) ValidatePessimistic() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LockTimeout.Duration < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}
	return nil
}

func (c *Config) ValidateOptimistic() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue depth must be greater than 0")
	}
	return nil
}

// NewMutex makes a stripe mutex with the configured factory.
func (c *Config) NewMutex() latches.Mutex {
	if c.MutexFactory != nil {
		return c.MutexFactory()
	}
	return latches.NewUpgradeableMutex()
}

// GetLogger returns the configured logger, or the global one.
func (c *Config) GetLogger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.L()
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:     getLogLevel(),
		MutexStripes: 1024,
		LockTimeout:  NewDuration(10 * time.Millisecond),
		QueueDepth:   4,
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:     getLogLevel(),
		MutexStripes: 16,
		LockTimeout:  NewDuration(10 * time.Millisecond),
		QueueDepth:   1,
	}
}

// LoadFile overlays the TOML file at path on c.
func (c *Config) LoadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WithStack(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("config file %s contains unknown keys %v", path, undecoded)
	}
	return nil
}

// InitLogger replaces the global logger with one writing text at level.
func InitLogger(level string) error {
	lg, props, err := log.InitLogger(&log.Config{Level: level, Format: "text"})
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// Duration is a time.Duration which reads and writes as a string such as "10ms" in config files.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}
