package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"kepler-linecount-go/internal/geometry"
	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists crossing events in SQLite so counters survive restarts
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single writer; modernc sqlite serializes anyway
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logging.NewServiceLogger("store")}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	version, _, _ := s.MigrateVersion()
	s.logger.Info().Str("path", path).Uint("schema_version", version).Msg("Crossing store ready")
	return s, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: s.logger}
	return m, nil
}

// migrateUp runs all pending migrations. The migrate instance is not closed
// because that would close the shared *sql.DB.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version; 0 when nothing is applied
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// RecordCrossing stores one event; recording the same id twice is a no-op
func (s *Store) RecordCrossing(ctx context.Context, ev models.CrossingEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crossings (
			id, camera_id, track_id, label, direction, counted,
			from_x, from_y, to_x, to_y, occurred_unix_ms,
			count_in, count_out, actual_count_out
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.CameraID, ev.TrackID, ev.Label, string(ev.Direction), ev.Counted,
		ev.From.X, ev.From.Y, ev.To.X, ev.To.Y, ev.Occurred.UnixMilli(),
		ev.Counters.CountIn, ev.Counters.CountOut, ev.Counters.ActualCountOut,
	)
	if err != nil {
		return fmt.Errorf("record crossing %s: %w", ev.ID, err)
	}
	return nil
}

// HandleCrossing lets the store act as a counting event sink
func (s *Store) HandleCrossing(ev models.CrossingEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.RecordCrossing(ctx, ev)
}

// LoadCounters rebuilds the counters of a camera from its stored events
func (s *Store) LoadCounters(ctx context.Context, cameraID string) (models.Counters, error) {
	var c models.Counters
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'in' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'out' AND counted THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'out' THEN 1 ELSE 0 END), 0)
		FROM crossings WHERE camera_id = ?`, cameraID,
	).Scan(&c.CountIn, &c.CountOut, &c.ActualCountOut)
	if err != nil {
		return models.Counters{}, fmt.Errorf("load counters for %s: %w", cameraID, err)
	}
	return c, nil
}

// RecentCrossings returns up to limit events of a camera, newest first
func (s *Store) RecentCrossings(ctx context.Context, cameraID string, limit int) ([]models.CrossingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, camera_id, track_id, label, direction, counted,
		       from_x, from_y, to_x, to_y, occurred_unix_ms,
		       count_in, count_out, actual_count_out
		FROM crossings
		WHERE camera_id = ?
		ORDER BY occurred_unix_ms DESC, rowid DESC
		LIMIT ?`, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("query crossings for %s: %w", cameraID, err)
	}
	defer rows.Close()

	var events []models.CrossingEvent
	for rows.Next() {
		var (
			ev         models.CrossingEvent
			direction  string
			occurredMs int64
			from, to   geometry.Point
		)
		if err := rows.Scan(
			&ev.ID, &ev.CameraID, &ev.TrackID, &ev.Label, &direction, &ev.Counted,
			&from.X, &from.Y, &to.X, &to.Y, &occurredMs,
			&ev.Counters.CountIn, &ev.Counters.CountOut, &ev.Counters.ActualCountOut,
		); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		ev.Direction = models.Direction(direction)
		ev.From, ev.To = from, to
		ev.Occurred = time.UnixMilli(occurredMs).UTC()
		ev.Occupancy = ev.Counters.Occupancy()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migrateLogger struct {
	logger zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf("[migrate] "+format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
