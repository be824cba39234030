package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/gormstore"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the relational database selected by STORE_BACKEND.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		return connectPostgres(cfg)
	case config.StoreBackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("store backend %q is not relational", cfg.StoreBackend)
	}
}

func connectPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected", "backend", config.StoreBackendPostgres)
	return db, nil
}

// OpenSQLite opens a SQLite database. A dsn like "file:name?mode=memory&cache=shared"
// gives an in-memory database shared by the pool.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	slog.Info("database connected", "backend", config.StoreBackendSQLite)
	return db, nil
}

// Migrate creates the active and history block tables and the system log.
func Migrate(db *gorm.DB) error {
	for _, table := range []string{gormstore.ActiveTable, gormstore.HistoryTable} {
		if err := gormstore.Migrate(db, table); err != nil {
			return err
		}
	}
	return db.AutoMigrate(&models.SystemLog{})
}

func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConnectMongo connects and pings the document store.
func ConnectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	slog.Info("database connected", "backend", config.StoreBackendMongo, "db", cfg.MongoDBName)
	return client, nil
}
