package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/nutria0/nutria/internal/cache"
)

// OTP sentinel errors.
var (
	// ErrCodeExpired indicates no live code exists for the address.
	ErrCodeExpired = errors.New("code expired or not issued")

	// ErrCodeMismatch indicates the presented code does not match.
	ErrCodeMismatch = errors.New("code mismatch")

	// ErrTooManyAttempts indicates the attempt budget for the code is spent.
	ErrTooManyAttempts = errors.New("too many attempts")
)

const otpCodeLength = 6

// Mailer delivers a one-time code to an email address.
// Real delivery lives behind this interface; tests inject a recorder.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

// otpState is the per-address issuance state held in the cache.
type otpState struct {
	code     string
	attempts int
}

// OTPIssuer issues and verifies one-time passwords.
// State lives in an injected TTL cache keyed by email address, so codes
// expire on their own and a second Issue overwrites the first.
type OTPIssuer struct {
	codes       *cache.TTL[string, otpState]
	mailer      Mailer
	logger      *slog.Logger
	codeTTL     time.Duration
	maxAttempts int
}

// OTPConfig configures an OTPIssuer.
type OTPConfig struct {
	Mailer      Mailer
	Logger      *slog.Logger
	CodeTTL     time.Duration // default 5m
	MaxAttempts int           // default 5
}

// NewOTPIssuer creates an OTPIssuer with its own TTL cache.
// Call Close() to stop the cache sweep goroutine.
func NewOTPIssuer(cfg OTPConfig) (*OTPIssuer, error) {
	if cfg.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codeTTL := cfg.CodeTTL
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OTPIssuer{
		codes:       cache.NewTTL[string, otpState](cache.DefaultSweepInterval),
		mailer:      cfg.Mailer,
		logger:      logger,
		codeTTL:     codeTTL,
		maxAttempts: maxAttempts,
	}, nil
}

// Close stops the underlying cache sweep goroutine.
func (o *OTPIssuer) Close() {
	o.codes.Stop()
}

// Issue generates a fresh code for the address, stores it with the configured
// TTL, and hands it to the mailer. Re-issuing replaces any outstanding code
// and resets the attempt counter.
func (o *OTPIssuer) Issue(ctx context.Context, email string) error {
	if email == "" {
		return errors.New("email is required")
	}

	code, err := generateCode(otpCodeLength)
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	if err := o.mailer.SendCode(ctx, email, code); err != nil {
		return fmt.Errorf("sending code: %w", err)
	}

	o.codes.Set(email, otpState{code: code}, o.codeTTL)
	o.logger.Debug("issued one-time code", "email", email, "ttl", o.codeTTL)
	return nil
}

// Verify checks the presented code against the outstanding one.
// A successful verification consumes the code. Each failed attempt counts
// against the budget; exceeding it invalidates the code.
func (o *OTPIssuer) Verify(_ context.Context, email, code string) error {
	state, ok := o.codes.Get(email)
	if !ok {
		return ErrCodeExpired
	}

	if state.attempts >= o.maxAttempts {
		o.codes.Delete(email)
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(state.code), []byte(code)) != 1 {
		state.attempts++
		if state.attempts >= o.maxAttempts {
			o.codes.Delete(email)
			return ErrTooManyAttempts
		}
		o.codes.Set(email, state, o.codeTTL)
		return ErrCodeMismatch
	}

	o.codes.Delete(email)
	return nil
}

// generateCode returns n random decimal digits.
func generateCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("reading random digit: %w", err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
