package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/pkg/database"
	"dosimetry-platform/pkg/logging"
)

// Settings keys
const settingEnvironmentSource = "environment_source"

// SettingsRepository provides access to admin-editable application settings
type SettingsRepository interface {
	GetEnvironmentSource(ctx context.Context) (models.EnvironmentSource, error)
	SetEnvironmentSource(ctx context.Context, source models.EnvironmentSource) error
}

// settingsRepository implements SettingsRepository
type settingsRepository struct {
	db     *database.PostgresDB
	logger *logging.StructuredLogger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *database.PostgresDB, logger *logging.StructuredLogger) SettingsRepository {
	return &settingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetEnvironmentSource reads the configured environmental source mode.
// Defaults to dataset mode when the setting has never been written.
func (r *settingsRepository) GetEnvironmentSource(ctx context.Context) (models.EnvironmentSource, error) {
	value, err := r.get(ctx, settingEnvironmentSource)
	if err == sql.ErrNoRows {
		return models.SourceDataset, nil
	}
	if err != nil {
		return "", err
	}

	source, ok := models.ParseEnvironmentSource(value)
	if !ok {
		return "", fmt.Errorf("stored environment source %q is not recognized", value)
	}

	return source, nil
}

// SetEnvironmentSource persists the environmental source mode
func (r *settingsRepository) SetEnvironmentSource(ctx context.Context, source models.EnvironmentSource) error {
	if err := r.set(ctx, settingEnvironmentSource, string(source)); err != nil {
		return err
	}

	r.logger.Info(ctx, "[REPO_SET_SETTING] Environment source updated", logging.Fields{
		"source": source,
	})

	return nil
}

func (r *settingsRepository) get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM app_settings WHERE key = $1`

	var value string
	err := r.db.GetContext(ctx, "get_setting", &value, query, key)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	return value, err
}

func (r *settingsRepository) set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, "set_setting", query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	return nil
}
