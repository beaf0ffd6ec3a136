package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Port       int           `env:"CHITCHAT_TEST_PORT,default=8081"`
	LogLevel   string        `env:"CHITCHAT_TEST_LOG_LEVEL,default=info"`
	TypingTTL  time.Duration `env:"CHITCHAT_TEST_TYPING_TTL,default=3s"`
	ScyllaHost string        `env:"CHITCHAT_TEST_SCYLLA_HOSTS"`
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHITCHAT_TEST_PORT", "9000")
	t.Setenv("CHITCHAT_TEST_SCYLLA_HOSTS", "a:9042, b:9042")

	var cfg sample
	req.NoError(Load(&cfg, filepath.Join(t.TempDir(), "missing.env")))
	req.Equal(9000, cfg.Port)
	req.Equal("info", cfg.LogLevel)
	req.Equal(3*time.Second, cfg.TypingTTL)
	req.Equal([]string{"a:9042", "b:9042"}, List(cfg.ScyllaHost))
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "test.env")
	req.NoError(os.WriteFile(path, []byte("CHITCHAT_TEST_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHITCHAT_TEST_LOG_LEVEL") })

	var cfg sample
	req.NoError(Load(&cfg, path))
	req.Equal("debug", cfg.LogLevel)
}

func TestList(t *testing.T) {
	require.Empty(t, List(""))
	require.Equal(t, []string{"x"}, List(" x ,,"))
}
