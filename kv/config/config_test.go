package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/txnkv/kv/transaction/latches"
	. "github.com/pingcap/check"
)

func Test(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testConfigSuite{})

type testConfigSuite struct{}

func (s *testConfigSuite) TestValidate(c *C) {
	cfg := NewTestConfig()
	c.Assert(cfg.ValidatePessimistic(), IsNil)
	c.Assert(cfg.ValidateOptimistic(), IsNil)

	cfg.MutexStripes = 0
	c.Assert(cfg.Validate(), NotNil)
	c.Assert(cfg.ValidatePessimistic(), NotNil)
	c.Assert(cfg.ValidateOptimistic(), NotNil)

	cfg = NewTestConfig()
	cfg.LockTimeout = NewDuration(-time.Millisecond)
	c.Assert(cfg.ValidatePessimistic(), NotNil)
	// The optimistic map never looks at the lock timeout.
	c.Assert(cfg.ValidateOptimistic(), IsNil)

	cfg = NewTestConfig()
	cfg.LockTimeout = NewDuration(0)
	c.Assert(cfg.ValidatePessimistic(), IsNil)
	cfg.QueueDepth = 0
	c.Assert(cfg.ValidateOptimistic(), NotNil)
	c.Assert(cfg.ValidatePessimistic(), IsNil)

	cfg = NewTestConfig()
	cfg.RetryMaxAttempts = -1
	c.Assert(cfg.Validate(), NotNil)
}

func (s *testConfigSuite) TestMutexFactory(c *C) {
	cfg := NewTestConfig()
	_, ok := cfg.NewMutex().(*latches.UpgradeableMutex)
	c.Assert(ok, IsTrue)

	calls := 0
	cfg.MutexFactory = func() latches.Mutex {
		calls++
		return latches.NewUpgradeableMutex()
	}
	cfg.NewMutex()
	c.Assert(calls, Equals, 1)
}

func (s *testConfigSuite) TestLogLevelFromEnv(c *C) {
	old, had := os.LookupEnv("LOG_LEVEL")
	defer func() {
		if had {
			os.Setenv("LOG_LEVEL", old)
		} else {
			os.Unsetenv("LOG_LEVEL")
		}
	}()
	os.Setenv("LOG_LEVEL", "debug")
	c.Assert(NewDefaultConfig().LogLevel, Equals, "debug")
	os.Unsetenv("LOG_LEVEL")
	c.Assert(NewDefaultConfig().LogLevel, Equals, "info")
}

func (s *testConfigSuite) TestDecode(c *C) {
	cfgData := `
log-level = "warn"
mutex-stripes = 64
lock-timeout = "250ms"
queue-depth = 8
`
	cfg := NewDefaultConfig()
	_, err := toml.Decode(cfgData, cfg)
	c.Assert(err, IsNil)
	c.Assert(cfg.LogLevel, Equals, "warn")
	c.Assert(cfg.MutexStripes, Equals, 64)
	c.Assert(cfg.LockTimeout.Duration, Equals, 250*time.Millisecond)
	c.Assert(cfg.QueueDepth, Equals, 8)
	// Untouched keys keep their defaults.
	c.Assert(cfg.RetryMaxAttempts, Equals, 0)

	_, err = toml.Decode(`lock-timeout = "soon"`, cfg)
	c.Assert(err, NotNil)
}

func (s *testConfigSuite) TestLoadFile(c *C) {
	dir, err := ioutil.TempDir("", "txnkv-config")
	c.Assert(err, IsNil)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "txnkv.toml")
	c.Assert(ioutil.WriteFile(path, []byte("queue-depth = 3\nretry-max-attempts = 5\n"), 0644), IsNil)
	cfg := NewTestConfig()
	c.Assert(cfg.LoadFile(path), IsNil)
	c.Assert(cfg.QueueDepth, Equals, 3)
	c.Assert(cfg.RetryMaxAttempts, Equals, 5)

	c.Assert(ioutil.WriteFile(path, []byte("queue-dept = 3\n"), 0644), IsNil)
	c.Assert(cfg.LoadFile(path), ErrorMatches, ".*unknown keys.*")

	c.Assert(cfg.LoadFile(filepath.Join(dir, "missing.toml")), NotNil)
}

func (s *testConfigSuite) TestDurationText(c *C) {
	d := NewDuration(1500 * time.Millisecond)
	text, err := d.MarshalText()
	c.Assert(err, IsNil)
	c.Assert(string(text), Equals, "1.5s")

	var back Duration
	c.Assert(back.UnmarshalText(text), IsNil)
	c.Assert(back, Equals, d)
}
