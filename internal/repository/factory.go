package repository

import (
	"fmt"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/pkg/database"
)

// New builds the message repository selected by database.driver.
func New(cfg config.DatabaseConfig) (MessageRepository, error) {
	switch cfg.Driver {
	case "cassandra":
		if err := EnsureKeyspace(cfg.Cassandra); err != nil {
			return nil, err
		}
		return NewCassandraMessageRepository(cfg.Cassandra)

	case "sqlite", "mysql", "postgres":
		db, err := database.New(&database.Config{
			Driver:          cfg.Driver,
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			DBName:          cfg.DBName,
			SSLMode:         cfg.SSLMode,
			FilePath:        cfg.FilePath,
			MaxIdleConns:    cfg.MaxIdleConns,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return NewGormMessageRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
