package app

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nutria0/nutria/internal/config"
	"github.com/nutria0/nutria/internal/log"
	"github.com/nutria0/nutria/internal/memory"
)

type fakeSearcher struct {
	records   []*memory.Record
	err       error
	lastQuery string
	lastLimit int
}

func (f *fakeSearcher) Search(_ context.Context, _, query string, limit int) ([]*memory.Record, error) {
	f.lastQuery = query
	f.lastLimit = limit
	return f.records, f.err
}

func TestMemoryRetrieverMapsRecords(t *testing.T) {
	searcher := &fakeSearcher{records: []*memory.Record{
		{OwnerID: "u1", Content: "vegetarian", Context: "diet"},
		{OwnerID: "u1", Content: "trains at 6am"},
	}}
	retriever := memoryRetriever{store: searcher}

	got, err := retriever.Relevant(context.Background(), "u1", "breakfast", 5)
	require.NoError(t, err)
	require.Equal(t, "breakfast", searcher.lastQuery)
	require.Equal(t, 5, searcher.lastLimit)

	require.Len(t, got, 2)
	require.Equal(t, "vegetarian", got[0].Content)
	require.Equal(t, "diet", got[0].Context)
	require.Empty(t, got[1].Context)
}

func TestMemoryRetrieverPropagatesError(t *testing.T) {
	wantErr := errors.New("search down")
	retriever := memoryRetriever{store: &fakeSearcher{err: wantErr}}

	_, err := retriever.Relevant(context.Background(), "u1", "q", 1)
	require.ErrorIs(t, err, wantErr)
}

func TestProvideAuth(t *testing.T) {
	cfg := &config.Config{AuthTokens: map[string]config.AuthUser{
		"token-1234567890": {UserID: "u1", Email: "u1@example.com"},
	}}
	authenticator := provideAuth(cfg)

	identity, err := authenticator.Authenticate(context.Background(), "token-1234567890")
	require.NoError(t, err)
	require.Equal(t, "u1", identity.UserID)
	require.Equal(t, "u1@example.com", identity.Email)

	_, err = authenticator.Authenticate(context.Background(), "wrong")
	require.Error(t, err, "unknown token should fail")
}

func TestProvideOTP(t *testing.T) {
	cfg := &config.Config{OTP: config.OTPConfig{CodeTTLSeconds: 60, MaxAttempts: 3}}

	issuer, err := provideOTP(cfg, log.NewNop())
	require.NoError(t, err)
	require.NotNil(t, issuer)
	defer issuer.Close()

	// The log mailer is the delivery backend: issuing must succeed without
	// any SMTP configuration.
	require.NoError(t, issuer.Issue(context.Background(), "u1@example.com"))
}

func TestLogMailerWritesCode(t *testing.T) {
	var buf bytes.Buffer
	mailer := logMailer{logger: log.NewWithWriter(&buf, log.Config{})}

	require.NoError(t, mailer.SendCode(context.Background(), "u1@example.com", "482913"))
	require.Contains(t, buf.String(), "482913")
	require.Contains(t, buf.String(), "u1@example.com")
}
