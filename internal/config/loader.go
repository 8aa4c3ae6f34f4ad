package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, overlays a .env file (if present) and
// process environment variables for secrets, and applies production
// defaults. An empty path loads defaults only, which is how tests and
// single-binary demos run the gateway against in-memory backends.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	_ = godotenv.Load() // best-effort; absence is not an error

	overlayEnv(&cfg)
	cfg.applyDefaults()

	log.Info().Str("default_provider", cfg.DefaultProvider).Int("providers", len(cfg.Providers)).Msg("config_loaded")
	return &cfg, nil
}

// overlayEnv lets deployment secrets (API keys, DSNs) come from the
// environment rather than the checked-in YAML file, following the
// teacher's layered "file then env" precedence.
func overlayEnv(cfg *Config) {
	if v := os.Getenv("RELAYCORE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("RELAYCORE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("RELAYCORE_VECTOR_DSN"); v != "" {
		cfg.Vector.DSN = v
	}
	if v := os.Getenv("RELAYCORE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	for i := range cfg.Providers {
		envKey := "RELAYCORE_PROVIDER_" + sanitizeEnvName(cfg.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}

func sanitizeEnvName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnvInt reads an integer environment variable, returning def if unset or
// unparsable.
func EnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
