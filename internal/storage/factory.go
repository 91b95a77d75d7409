// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/fieldops/storealert/pkg/utils"
)

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStorage(cfg), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}

	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
	}

	supportedTypes := []string{"sqlite", "postgres", "postgresql"}
	for _, t := range supportedTypes {
		if strings.ToLower(cfg.Type) == t {
			return nil
		}
	}

	return utils.NewAppError(utils.ErrCodeConfiguration,
		"Unsupported storage type",
		"Supported types: "+strings.Join(supportedTypes, ", "))
}
