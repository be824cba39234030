// Package app builds the object graph shared by the server and the job
// commands: stores, directory client, reconciler, lifecycle engine, archive
// mover and the HTTP-facing services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vestfoldfylke/azf-nettsperre/internal/archive"
	"github.com/vestfoldfylke/azf-nettsperre/internal/blocktype"
	"github.com/vestfoldfylke/azf-nettsperre/internal/clock"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/database"
	"github.com/vestfoldfylke/azf-nettsperre/internal/graph"
	"github.com/vestfoldfylke/azf-nettsperre/internal/lifecycle"
	"github.com/vestfoldfylke/azf-nettsperre/internal/logging"
	"github.com/vestfoldfylke/azf-nettsperre/internal/metrics"
	"github.com/vestfoldfylke/azf-nettsperre/internal/reconciler"
	"github.com/vestfoldfylke/azf-nettsperre/internal/scheduler"
	"github.com/vestfoldfylke/azf-nettsperre/internal/services"
	"github.com/vestfoldfylke/azf-nettsperre/internal/stats"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/gormstore"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/mongostore"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Job names accepted by RunJob.
const (
	JobActivate   = "activate"
	JobDeactivate = "deactivate"
	JobArchive    = "archive"
)

var ErrUnknownJob = errors.New("unknown job")

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// DB is set for the relational backends, Mongo for the document backend.
	DB    *gorm.DB
	Mongo *mongo.Client

	Active  store.BlockStore
	History store.BlockStore

	BlockTypes *blocktype.Registry
	Directory  *graph.Client
	Reconciler *reconciler.Reconciler
	Engine     *lifecycle.Engine
	Mover      *archive.Mover
	Blocks     *services.BlockService
	Users      *services.DirectoryService

	logHandler  *logging.DBHandler
	cleanupDone chan struct{}
}

// New connects the configured store and wires every component. base is the
// handler console logs go to; with a relational store ERROR records are also
// written to system_logs and the process default logger is replaced.
func New(ctx context.Context, cfg *config.Config, base slog.Handler) (*App, error) {
	a := &App{Config: cfg, Logger: slog.New(base)}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if a.DB != nil {
		a.logHandler = logging.NewDBHandler(a.DB, 5*time.Second)
		a.Logger = slog.New(logging.NewMultiHandler(base, a.logHandler))
		slog.SetDefault(a.Logger)
		a.cleanupDone = make(chan struct{})
		logging.StartCleanup(a.DB, cfg.LogRetention, a.cleanupDone)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.BlockTypes = blocktype.FromMap(cfg.BlockGroups())
	if cfg.BlockTypesFile != "" {
		if err := a.BlockTypes.LoadFile(cfg.BlockTypesFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Logger.Info("block types loaded", "types", a.BlockTypes.Types())

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid TIME_ZONE: %w", err)
	}
	policy, err := lifecycle.ParsePolicy(cfg.StatusPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := graph.NewClientCredentialsHTTPClient(context.WithoutCancel(ctx), cfg.TokenURL(), cfg.ClientID, cfg.ClientSecret, cfg.Scope)
	a.Directory = graph.New(httpClient, graph.Options{
		BaseURL:       cfg.GraphBaseURL,
		PageSize:      cfg.GraphPageSize,
		StudentSuffix: cfg.StudentUPNSuffix(),
		Timeout:       cfg.GraphTimeout,
		Logger:        a.Logger,
	})
	a.Reconciler = reconciler.New(a.Directory, reconciler.Options{
		MaxRetries: cfg.ReconcileMaxRetries,
		RetryDelay: cfg.ReconcileRetryDelay,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	})

	a.Engine = lifecycle.New(a.Active, a.Reconciler, lifecycle.Options{
		Location:        loc,
		InterBlockDelay: cfg.InterBlockDelay,
		Policy:          policy,
		Clock:           clock.Real(),
		Stats:           stats.New(cfg.StatisticsURL, cfg.StatisticsKey, a.Directory, a.Logger),
		Metrics:         a.Metrics,
		Logger:          a.Logger,
	})
	a.Mover = archive.New(a.Active, a.History, a.Reconciler, a.Metrics, a.Logger)
	a.Blocks = services.NewBlockService(a.Active, a.History, a.Reconciler, a.BlockTypes, a.Logger)
	a.Users = services.NewDirectoryService(a.Directory, cfg.AllowedCompanies, a.Logger)

	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		client, err := database.ConnectMongo(ctx, cfg)
		if err != nil {
			return err
		}
		mdb := client.Database(cfg.MongoDBName)
		active := mongostore.New(mdb.Collection(cfg.BlocksCollection))
		history := mongostore.New(mdb.Collection(cfg.HistoryCollection))
		for _, s := range []*mongostore.Store{active, history} {
			if err := s.EnsureIndexes(ctx); err != nil {
				_ = client.Disconnect(context.Background())
				return err
			}
		}
		a.Mongo, a.Active, a.History = client, active, history
	default:
		db, err := database.Connect(cfg)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			_ = database.Close(db)
			return fmt.Errorf("migration failed: %w", err)
		}
		a.DB = db
		a.Active = gormstore.New(db, gormstore.ActiveTable)
		a.History = gormstore.New(db, gormstore.HistoryTable)
	}
	return nil
}

// Ping checks the store connection.
func (a *App) Ping() error {
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Mongo.Ping(ctx, nil)
	}
	return database.Ping(a.DB)
}

// RunJob runs one lifecycle or archive pass and returns its result.
func (a *App) RunJob(ctx context.Context, name string) (any, error) {
	switch name {
	case JobActivate:
		return a.Engine.RunCycle(ctx, lifecycle.Activate)
	case JobDeactivate:
		return a.Engine.RunCycle(ctx, lifecycle.Deactivate)
	case JobArchive:
		return a.Mover.Archive(ctx, archive.Filter{}, a.Config.ArchiveLimit)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

// Jobs returns the scheduled jobs with their configured intervals.
func (a *App) Jobs() []scheduler.Job {
	job := func(name string, interval time.Duration) scheduler.Job {
		return scheduler.Job{Name: name, Interval: interval, Run: func(ctx context.Context) error {
			_, err := a.RunJob(ctx, name)
			return err
		}}
	}
	return []scheduler.Job{
		job(JobActivate, a.Config.ActivateInterval),
		job(JobDeactivate, a.Config.DeactivateInterval),
		job(JobArchive, a.Config.ArchiveInterval),
	}
}

// Close flushes buffered logs and closes the store connections.
func (a *App) Close() {
	if a.cleanupDone != nil {
		close(a.cleanupDone)
		a.cleanupDone = nil
	}
	if a.logHandler != nil {
		a.logHandler.Stop()
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			a.Logger.Warn("database close error", "error", err)
		}
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Mongo.Disconnect(ctx); err != nil {
			a.Logger.Warn("mongodb disconnect error", "error", err)
		}
	}
}
