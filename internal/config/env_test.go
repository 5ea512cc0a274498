package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type envTestConfig struct {
	Addr    string        `env:"RELAY_TEST_ADDR" envDefault:":8000"`
	Timeout time.Duration `env:"RELAY_TEST_TIMEOUT" envDefault:"250ms"`
	Origins []string      `env:"RELAY_TEST_ORIGINS" envDefault:"*" envSeparator:","`
}

func TestParseEnv_defaults(t *testing.T) {
	var cfg envTestConfig

	require.NoError(t, ParseEnv(&cfg))
	require.Equal(t, envTestConfig{Addr: ":8000", Timeout: 250 * time.Millisecond, Origins: []string{"*"}}, cfg)
}

func TestParseEnv_overrides(t *testing.T) {
	t.Setenv("RELAY_TEST_ADDR", "127.0.0.1:9000")
	t.Setenv("RELAY_TEST_ORIGINS", "https://a.example,https://b.example")

	var cfg envTestConfig

	require.NoError(t, ParseEnv(&cfg))
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins)
}

func TestParseEnv_error(t *testing.T) {
	t.Setenv("RELAY_TEST_TIMEOUT", "soon")

	var cfg envTestConfig

	err := ParseEnv(&cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse env:")
}
