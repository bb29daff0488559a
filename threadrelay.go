// Package threadrelay is the top-level entry point for the ThreadRelay
// bridge.
//
// Use the Builder to compose an application:
//
//	app, err := threadrelay.NewBuilder().
//	    WithConfig(cfg).
//	    WithGateway(slackBot).
//	    WithTransport(slackBot).
//	    Build()
//	app.Start(ctx)
//
// Missing components are filled with defaults: a REST backend client, file
// stores under the data directory, and a SQLite turn archive.
package threadrelay

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/threadrelay/threadrelay/agent"
	"github.com/threadrelay/threadrelay/engine"
	"github.com/threadrelay/threadrelay/gateway"
	"github.com/threadrelay/threadrelay/httpapi"
	"github.com/threadrelay/threadrelay/store"
)

// Config holds top-level configuration for a ThreadRelay application.
type Config struct {
	// ServerAddr is the address the action API listens on (default ":7600").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.threadrelay").
	DataDir string

	// SessionsDir holds per-conversation session files (default
	// DataDir/sessions).
	SessionsDir string

	// SettingsPath is the workspace settings file (default
	// DataDir/settings.json).
	SettingsPath string

	// ArchivePath is the SQLite turn archive (default
	// DataDir/threadrelay.db).
	ArchivePath string

	// BackendURL is the agent backend base URL (default
	// "http://localhost:4096").
	BackendURL string

	// ActionToken, when non-empty, gates the action API.
	ActionToken string

	// DefaultWorkingDir is the working directory for new backend sessions
	// when a channel has no override.
	DefaultWorkingDir string

	// ActiveThreadWindow is how long a thread stays active after a mention
	// (default 24h).
	ActiveThreadWindow time.Duration
}

// Builder constructs a ThreadRelay App.
type Builder struct {
	config        Config
	gw            gateway.Gateway
	sessions      store.SessionStore
	settingsStore store.SettingsStore
	archive       store.TurnArchive
	backend       agent.Client
	transports    []gateway.Transport
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithGateway sets the outbound chat surface.
func (b *Builder) WithGateway(gw gateway.Gateway) *Builder {
	b.gw = gw
	return b
}

// WithSessionStore sets the conversation session store implementation.
func (b *Builder) WithSessionStore(s store.SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithSettingsStore sets the workspace settings store implementation.
func (b *Builder) WithSettingsStore(s store.SettingsStore) *Builder {
	b.settingsStore = s
	return b
}

// WithArchive sets the turn archive implementation.
func (b *Builder) WithArchive(a store.TurnArchive) *Builder {
	b.archive = a
	return b
}

// WithBackend sets the agent backend client.
func (b *Builder) WithBackend(c agent.Client) *Builder {
	b.backend = c
	return b
}

// WithTransport adds an inbound transport (Slack Socket Mode, Telegram long
// polling). Transports that also implement SetHandler are wired to the
// orchestrator during Build.
func (b *Builder) WithTransport(t gateway.Transport) *Builder {
	b.transports = append(b.transports, t)
	return b
}

type handlerSetter interface {
	SetHandler(gateway.Handler)
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	agents := agent.NewManager(b.backend)

	eng := engine.New(
		engine.Config{
			ActiveThreadWindow: b.config.ActiveThreadWindow,
			DefaultWorkingDir:  b.config.DefaultWorkingDir,
		},
		b.gw,
		b.sessions,
		b.settingsStore,
		b.archive,
		agents,
	)

	for _, t := range b.transports {
		if hs, ok := t.(handlerSetter); ok {
			hs.SetHandler(eng)
		}
	}

	handler := httpapi.New(b.gw, b.config.ActionToken)

	return &App{
		config:     b.config,
		engine:     eng,
		archive:    b.archive,
		handler:    handler,
		transports: b.transports,
	}, nil
}

// App is a running ThreadRelay application.
type App struct {
	config     Config
	engine     *engine.Engine
	archive    store.TurnArchive
	handler    *httpapi.Handler
	transports []gateway.Transport
}

// Engine returns the underlying orchestrator for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Start starts the orchestrator, all transports and the action API server.
// Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	for _, t := range a.transports {
		t := t
		go func() {
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s transport error: %v", t.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("threadrelay: action API listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	if a.archive != nil {
		return a.archive.Close()
	}
	return nil
}
