package sqlite

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/benjamonnguyen/focuslog"
)

// Storage bundles the pool and the repositories sharing it.
type Storage struct {
	Pool     *Pool
	Repo     *Repository
	Sessions *SessionRepo
	Events   *EventRepo
	Settings *SettingsRepo
}

// Open opens the pool described by cfg and builds the repositories. Call
// InitializeStorage before first use of a new file.
func Open(ctx context.Context, cfg focuslog.Config, l *log.Logger) (*Storage, error) {
	return OpenWithOptions(ctx, PoolOptionsFromConfig(cfg), l)
}

func OpenWithOptions(ctx context.Context, opts PoolOptions, l *log.Logger) (*Storage, error) {
	if l == nil {
		l = log.Default()
	}
	pool, err := OpenPool(ctx, opts, l)
	if err != nil {
		return nil, err
	}
	repo := NewRepository(pool, l)
	return &Storage{
		Pool:     pool,
		Repo:     repo,
		Sessions: NewSessionRepo(repo, l.WithPrefix("sessions")),
		Events:   NewEventRepo(repo, l.WithPrefix("events")),
		Settings: NewSettingsRepo(repo, l.WithPrefix("settings")),
	}, nil
}

// InitializeStorage creates or upgrades the schema. Safe to call repeatedly.
func (s *Storage) InitializeStorage(ctx context.Context) error {
	return s.Pool.Migrate(ctx)
}

// PurgeSession deletes a session together with all of its events.
func (s *Storage) PurgeSession(ctx context.Context, id focuslog.SessionID) (int64, error) {
	var purged int64
	err := s.Repo.WithinTransaction(ctx, func(ctx context.Context) error {
		stats, err := s.Events.GetEventStatistics(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.Sessions.DeleteSession(ctx, id); err != nil {
			return err
		}
		purged = int64(stats.Total)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Repo.l.Info("purged session", "id", id, "events", purged)
	return purged, nil
}

func (s *Storage) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	return s.Repo.WithinTransaction(ctx, fn)
}

func (s *Storage) Close() error {
	return s.Pool.Close()
}

// Store wires the repositories and a into the flat facade.
func (s *Storage) Store(a focuslog.Analytics) *focuslog.Store {
	return &focuslog.Store{
		Sessions:    s.Sessions,
		Events:      s.Events,
		Analytics:   a,
		Settings:    s.Settings,
		Maintenance: s,
	}
}
