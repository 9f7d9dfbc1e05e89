// Package app provides application initialization and dependency injection.
//
// App is the core container that wires all components together: Genkit, the
// database pool, the persistence stores, the tool registry, the model client
// and the agent loop. Construction happens in Setup; Close releases every
// resource in reverse order.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutria0/nutria/internal/agent"
	"github.com/nutria0/nutria/internal/agent/tools"
	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/config"
	"github.com/nutria0/nutria/internal/intake"
	"github.com/nutria0/nutria/internal/log"
	"github.com/nutria0/nutria/internal/memory"
	"github.com/nutria0/nutria/internal/provider"
	"github.com/nutria0/nutria/internal/thread"
)

// App is the core application container.
type App struct {
	// Configuration
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Persistence
	Threads  *thread.Store
	Memories *memory.Store
	Intake   *intake.Store

	// Agent
	Tools *tools.Registry
	Model *provider.Client
	Agent *agent.Loop

	// Auth
	Auth auth.Authenticator
	OTP  *auth.OTPIssuer

	// Lifecycle management
	cancel      context.CancelFunc
	dbCleanup   func()
	otelCleanup func()
}

// Close gracefully shuts down all resources.
// Safe to call on a partially initialized App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	// 1. Cancel the application context
	if a.cancel != nil {
		a.cancel()
	}

	// 2. Stop the OTP cache sweeper
	if a.OTP != nil {
		a.OTP.Close()
	}

	// 3. Close the database pool
	if a.dbCleanup != nil {
		a.dbCleanup()
	}

	// 4. Flush pending trace spans last, so teardown is still traced
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
