package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/benjamonnguyen/focuslog"
)

const (
	SelectAllSettings = "SELECT key, value FROM settings"
	UpsertSetting     = "INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
)

// SettingsRepo is a small key/value store for user preferences.
type SettingsRepo struct {
	*Repository
	l *log.Logger
}

var _ focuslog.SettingsRepository = (*SettingsRepo)(nil)

func NewSettingsRepo(repo *Repository, l *log.Logger) *SettingsRepo {
	if l == nil {
		l = repo.l
	}
	return &SettingsRepo{Repository: repo, l: l}
}

func (r *SettingsRepo) GetSetting(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("provide key")
	}
	var value string
	err := r.QueryRow(ctx, "getting setting",
		Stmt(fmt.Sprintf("%s WHERE key = ?", SelectAllSettings), key),
		func(row Scannable) error {
			var k string
			if err := row.Scan(&k, &value); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return focuslog.ErrNotFound
				}
				return err
			}
			return nil
		})
	return value, err
}

func (r *SettingsRepo) LoadSettings(ctx context.Context) (map[string]string, error) {
	settings := make(map[string]string)
	err := r.Query(ctx, "loading settings", Stmt(SelectAllSettings), func(row Scannable) error {
		var k, v string
		if err := row.Scan(&k, &v); err != nil {
			return err
		}
		settings[k] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings upserts every pair in one transaction.
func (r *SettingsRepo) SaveSettings(ctx context.Context, settings map[string]string) error {
	now := formatTime(time.Now())
	ops := make([]Statement, 0, len(settings))
	for k, v := range settings {
		if k == "" {
			return fmt.Errorf("provide key")
		}
		ops = append(ops, Stmt(UpsertSetting, k, v, now))
	}
	_, err := r.RunTransaction(ctx, "saving settings", ops)
	return err
}

func (r *SettingsRepo) SaveSetting(ctx context.Context, key, value string) error {
	return r.SaveSettings(ctx, map[string]string{key: value})
}

func (r *SettingsRepo) DeleteSetting(ctx context.Context, key string) error {
	res, err := r.RunStatement(ctx, "deleting setting", Stmt("DELETE FROM settings WHERE key = ?", key))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return focuslog.ErrNotFound
	}
	return nil
}
