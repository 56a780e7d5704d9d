// Package config parses the fixed set of environment variables the gateway
// recognizes into a single immutable record, validated once at startup. This
// replaces ad-hoc, looked-up-anywhere os.Getenv calls with one explicit
// struct every component is handed by reference.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

// Config is the fully validated, process-wide configuration record. It is
// constructed once in main and passed by dependency injection; the keys it
// holds are read nowhere else. The only other environment reads are DEBUG
// (logger), DEV_AUTH (main) and the HOME/PATH passed through to PTY
// children (session).
type Config struct {
	Host string
	Port int
	Env  Env

	RepoRoots       []string
	AllowlistEmails map[string]struct{}
	AdminEmails     map[string]struct{}

	CFAccessTeamDomain string
	CFAccessAudience   string

	MaxSessionsPerUser     int
	MaxTotalSessions       int
	DisconnectedTTLMinutes int
	MaxFileSizeBytes       int64
	TasksEnabled           bool
	ClaudePath             string

	DataDir string // holds settings.json and audit logs
}

// Load reads environment variables and validates them. In production, a
// missing CF_ACCESS_AUD or CF_ACCESS_TEAM_DOMAIN is a fatal startup error
// (spec §6.1): the process must not start serving requests it cannot
// authenticate.
func Load() (*Config, error) {
	c := &Config{
		Host:                   getEnv("HOST", "127.0.0.1"),
		Env:                    Env(getEnv("NODE_ENV", "development")),
		RepoRoots:              splitCSV(os.Getenv("REPO_ROOTS")),
		AllowlistEmails:        toSet(splitCSV(os.Getenv("ALLOWLIST_EMAILS"))),
		AdminEmails:            toSet(splitCSV(os.Getenv("ADMIN_EMAILS"))),
		CFAccessTeamDomain:     os.Getenv("CF_ACCESS_TEAM_DOMAIN"),
		CFAccessAudience:       os.Getenv("CF_ACCESS_AUD"),
		MaxSessionsPerUser:     getEnvInt("MAX_SESSIONS_PER_USER", 3),
		MaxTotalSessions:       getEnvInt("MAX_TOTAL_SESSIONS", 20),
		DisconnectedTTLMinutes: getEnvInt("DISCONNECTED_TTL_MINUTES", 20),
		MaxFileSizeBytes:       int64(getEnvInt("MAX_FILE_SIZE_BYTES", 2_000_000)),
		TasksEnabled:           getEnvBool("TASKS_ENABLED", true),
		ClaudePath:             getEnv("CLAUDE_PATH", "claude"),
		DataDir:                getEnv("GATEWAY_DATA_DIR", "./data"),
	}

	port, err := strconv.Atoi(getEnv("PORT", "3000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	c.Port = port

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.IsProduction() {
		if c.CFAccessAudience == "" || c.CFAccessTeamDomain == "" {
			return fmt.Errorf("config_error: CF_ACCESS_AUD and CF_ACCESS_TEAM_DOMAIN are required in production")
		}
	}
	if len(c.RepoRoots) == 0 {
		return fmt.Errorf("config_error: REPO_ROOTS must name at least one directory")
	}
	if c.MaxSessionsPerUser <= 0 || c.MaxTotalSessions <= 0 {
		return fmt.Errorf("config_error: session limits must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(strings.TrimSpace(it))] = struct{}{}
	}
	return set
}
