package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutria0/nutria/db"
	"github.com/nutria0/nutria/internal/agent"
	"github.com/nutria0/nutria/internal/agent/tools"
	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/config"
	"github.com/nutria0/nutria/internal/intake"
	"github.com/nutria0/nutria/internal/log"
	"github.com/nutria0/nutria/internal/memory"
	"github.com/nutria0/nutria/internal/observability"
	"github.com/nutria0/nutria/internal/provider"
	"github.com/nutria0/nutria/internal/thread"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Threads = thread.NewStore(pool, logger)
	a.Intake = intake.NewStore(pool, logger)

	memories, err := memory.NewStore(pool, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	a.Memories = memories

	registry, err := tools.NewRegistry(memories, a.Intake, logger)
	if err != nil {
		return nil, fmt.Errorf("creating tool registry: %w", err)
	}
	a.Tools = registry
	toolDefs := tools.Register(g, registry)

	model, err := provider.New(provider.Config{
		Genkit:            g,
		ModelName:         cfg.FullModelName(),
		Tools:             toolDefs,
		Logger:            logger,
		Retry:             provider.DefaultRetryConfig(),
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.Model = model

	loop, err := agent.New(agent.Config{
		Model:       model,
		Checkpoints: a.Threads,
		Memories:    memoryRetriever{store: memories},
		Tools:       registry,
		Logger:      logger,
		MaxTurns:    cfg.MaxTurns,
		MemoryLimit: cfg.MemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent loop: %w", err)
	}
	a.Agent = loop

	a.Auth = provideAuth(cfg)

	otp, err := provideOTP(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating OTP issuer: %w", err)
	}
	a.OTP = otp

	// Set up lifecycle management
	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing before Genkit initialization.
// Must be called before provideGenkit so the TracerProvider is ready when
// Genkit starts creating spans.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		AgentHost:   cfg.Tracing.AgentHost,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		logger.Warn("setting up tracing, continuing without it", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Debug("database pool ready",
		"host", cfg.PostgresHost, "database", cfg.PostgresDBName)

	cleanup := func() {
		pool.Close()
		logger.Info("database pool closed")
	}
	return pool, cleanup, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and ollama. Call ordering in Setup ensures
// tracing is set up first.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch providerName {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		// Register embedder for memory search
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)

	default:
		return nil, fmt.Errorf("unsupported provider %q", providerName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	if cfg.Provider == config.ProviderOllama {
		return ollama.Embedder(g, cfg.OllamaHost)
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// provideAuth builds the token authenticator from configuration.
func provideAuth(cfg *config.Config) auth.Authenticator {
	identities := make(map[string]auth.Identity, len(cfg.AuthTokens))
	for token, user := range cfg.AuthTokens {
		identities[token] = auth.Identity{UserID: user.UserID, Email: user.Email}
	}
	return auth.NewStaticTokens(identities)
}

// provideOTP builds the one-time-code issuer from configuration.
func provideOTP(cfg *config.Config, logger log.Logger) (*auth.OTPIssuer, error) {
	return auth.NewOTPIssuer(auth.OTPConfig{
		Mailer:      logMailer{logger: logger},
		Logger:      logger,
		CodeTTL:     time.Duration(cfg.OTP.CodeTTLSeconds) * time.Second,
		MaxAttempts: cfg.OTP.MaxAttempts,
	})
}

// logMailer writes issued codes to the log instead of sending mail. It is
// the delivery backend until an SMTP mailer is configured; suitable for
// development and single-operator deployments, not for real mailboxes.
type logMailer struct {
	logger log.Logger
}

func (m logMailer) SendCode(_ context.Context, email, code string) error {
	m.logger.Info("one-time code issued", "email", email, "code", code)
	return nil
}

// memorySearcher is the slice of memory.Store the retriever needs.
type memorySearcher interface {
	Search(ctx context.Context, ownerID, query string, limit int) ([]*memory.Record, error)
}

// memoryRetriever adapts the memory store's vector search to the shape the
// agent loop consumes.
type memoryRetriever struct {
	store memorySearcher
}

func (m memoryRetriever) Relevant(ctx context.Context, ownerID, query string, limit int) ([]agent.MemoryRecord, error) {
	records, err := m.store.Search(ctx, ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]agent.MemoryRecord, 0, len(records))
	for _, r := range records {
		out = append(out, agent.MemoryRecord{Content: r.Content, Context: r.Context})
	}
	return out, nil
}
