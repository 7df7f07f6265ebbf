// Package main is the entry point of the application
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/duel-server/internal/auth"
	"github.com/tecu23/duel-server/pkg/archive"
	"github.com/tecu23/duel-server/pkg/config"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/lobby"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/server"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

// App encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Store     store.Gateway
	Archive   *archive.Archive
	Janitor   *lobby.Janitor
	Manager   *manager.Manager
	Hub       *server.Hub
	Server    *http.Server
	Upgrader  websocket.Upgrader

	closers   []func() error
	StartTime time.Time
}

func main() {
	envFile := flag.String("env", "", "optional .env file (defaults to ./.env)")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("startup error", zap.Error(err))
	}

	go app.Hub.Run()
	app.Janitor.Start()

	err = app.serve()
	if err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:    logger,
		Config:    cfg,
		Publisher: events.NewPublisher(),
		StartTime: time.Now(),
	}

	if !app.Auth.Enabled() {
		logger.Warn("API_KEYS is empty, websocket endpoint is unauthenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize session store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := store.DialRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		app.Store = rdb
		app.closers = append(app.closers, rdb.Close)
	default:
		app.Store = store.NewMemory(logger)
	}

	// Initialize archive of finished sessions
	if cfg.DatabaseURL != "" {
		a, err := archive.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.Attach(app.Publisher)
		app.Archive = a
		app.closers = append(app.closers, a.Close)
		logger.Info("archive enabled")
	}

	machine := session.NewMachine(rules.NewChess())
	l := lobby.New(app.Store, machine, logger, app.Publisher)

	janitor, err := lobby.NewJanitor(l, cfg.LobbyJanitorSchedule, cfg.LobbyStaleAfter)
	if err != nil {
		return nil, err
	}
	app.Janitor = janitor

	app.Manager = manager.NewManager(app.Store, machine, l, logger, app.Publisher,
		game.WithPolicy(game.WritePolicy(cfg.WritePolicy)),
		game.WithRetries(cfg.CASRetries),
		game.WithTick(cfg.ClockTick),
	)
	app.Hub = server.NewHub(app.Manager, app.Publisher, logger)

	app.Upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     app.checkOrigin,
	}

	return app, nil
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	if app.Janitor != nil {
		app.Janitor.Stop()
	}

	// Shut down hub
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if app.Manager != nil {
		app.Manager.Shutdown()
	}

	app.Publisher.Wait()

	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			app.Logger.Error("close error", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}
