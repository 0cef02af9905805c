package config

// loader.go - configuration overlay from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults  (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix starts every supported environment variable.  Booleans
// accept "1", "true" and "yes" in any case; durations accept Go
// duration strings ("1500ms") or plain seconds ("2").
const EnvPrefix = "WSPROXY_"

// LoadFromEnv overlays the set environment variables onto cfg.  Call it
// before applying CLI flags so that flags win.
func LoadFromEnv(cfg *Config) {
	// Listener
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("PORT"); v > 0 {
		cfg.Port = v
	}
	if d := envDuration("CLOSE_TIMEOUT"); d > 0 {
		cfg.CloseTimeout = d
	}
	if d := envDuration("HANDSHAKE_TIMEOUT"); d > 0 {
		cfg.HandshakeTimeout = d
	}
	if v := envInt("READ_LIMIT"); v > 0 {
		cfg.ReadLimit = int64(v)
	}
	if v := env("ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	// Session handler
	if v := env("UPSTREAM"); v != "" {
		cfg.Upstream = v
	}
	if envBool("PATH_TARGET") {
		cfg.PathTarget = true
	}
	if envBool("ECHO") {
		cfg.Echo = true
	}
	if v := env("EXEC"); v != "" {
		cfg.Execute = v
	}
	if v := env("COMMAND"); v != "" {
		cfg.Command = v
	}
	if d := envDuration("DIAL_TIMEOUT"); d > 0 {
		cfg.DialTimeout = d
	}
	if v := envInt("DIAL_ATTEMPTS"); v > 0 {
		cfg.DialAttempts = v
	}

	// SSH tunnel
	if v := env("TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("STATS") {
		cfg.Stats = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string { return strings.TrimSpace(os.Getenv(EnvPrefix + key)) }

func envInt(key string) int {
	n, err := strconv.Atoi(env(key))
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(env(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envDuration(key string) time.Duration {
	v := env(key)
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
