package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate performs fail-fast validation of the whole configuration.
// Returns the first error encountered, wrapped around a sentinel so callers
// can branch with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateOTP()
}

// validateAI checks provider, model, and agent loop settings.
func (c *Config) validateAI() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.ContainsAny(c.ModelName, " \t\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidModelName, c.ModelName)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}

	if c.Provider == ProviderOllama {
		u, err := url.Parse(c.OllamaHost)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q (expected http(s)://host:port)", ErrInvalidOllamaHost, c.OllamaHost)
		}
	}

	if c.Provider == ProviderGemini && os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the gemini provider", ErrInvalidProvider)
	}

	if c.MaxTurns < 1 || c.MaxTurns > MaxAllowedTurns {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidMaxTurns, c.MaxTurns, MaxAllowedTurns)
	}
	if c.MemoryLimit < 1 || c.MemoryLimit > MaxMemoryLimit {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidMemoryLimit, c.MemoryLimit, MaxMemoryLimit)
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be >= 0, got %d", c.RequestsPerMinute)
	}

	return nil
}

// validatePostgres checks the PostgreSQL connection settings.
func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}

// validateServer checks the HTTP server settings.
func (c *Config) validateServer() error {
	// ":8080" and "127.0.0.1:8080" are both valid.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidListenAddr, c.ListenAddr, err)
	}
	return nil
}

// validateOTP checks the OTP issuance settings.
func (c *Config) validateOTP() error {
	if c.OTP.CodeTTLSeconds < 30 || c.OTP.CodeTTLSeconds > 3600 {
		return fmt.Errorf("%w: code_ttl_seconds %d (must be 30-3600)", ErrInvalidOTPSettings, c.OTP.CodeTTLSeconds)
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 20 {
		return fmt.Errorf("%w: max_attempts %d (must be 1-20)", ErrInvalidOTPSettings, c.OTP.MaxAttempts)
	}
	return nil
}

// ValidateServe performs additional checks required only by the serve command.
// Bearer tokens must be configured, otherwise every request would be rejected.
func (c *Config) ValidateServe() error {
	if len(c.AuthTokens) == 0 {
		return fmt.Errorf("%w: configure auth_tokens in config.yaml", ErrMissingAuthTokens)
	}
	for tok, user := range c.AuthTokens {
		if len(tok) < 16 {
			return fmt.Errorf("%w: token for user %q is shorter than 16 characters", ErrMissingAuthTokens, user.UserID)
		}
		if user.UserID == "" {
			return fmt.Errorf("%w: token %s has no user_id", ErrMissingAuthTokens, maskSecret(tok))
		}
	}
	return nil
}
