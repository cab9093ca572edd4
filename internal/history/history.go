// Package history persists usage snapshots to a local SQLite database so
// utilization can be read over time, not only at the latest point.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/constants"
	"ccwatch/internal/events"
	"ccwatch/internal/migrations"
	"ccwatch/internal/monitoring"
	"ccwatch/internal/usage"

	_ "modernc.org/sqlite"
)

// Point is one recorded snapshot row. Window fields are nil when the
// upstream response omitted that window.
type Point struct {
	ID                  int64      `json:"id"`
	FetchedAt           time.Time  `json:"fetched_at"`
	FiveHourUtilization *float64   `json:"five_hour_utilization,omitempty"`
	FiveHourResetsAt    *time.Time `json:"five_hour_resets_at,omitempty"`
	SevenDayUtilization *float64   `json:"seven_day_utilization,omitempty"`
	SevenDayResetsAt    *time.Time `json:"seven_day_resets_at,omitempty"`
}

// Store owns the history database handle. Recording is decoupled from the
// event publisher through a bounded queue so a slow disk never blocks a
// refresh commit.
type Store struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
	queue     chan *usage.Snapshot
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations. retention <= 0 selects the default.
func Open(path string, retention time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between the recorder and the sweeper.
	db.SetMaxOpenConns(1)

	if err := migrations.SqliteUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	if retention <= 0 {
		retention = constants.HistoryRetentionDefault
	}
	return &Store{
		db:        db,
		retention: retention,
		now:       time.Now,
		queue:     make(chan *usage.Snapshot, constants.HistoryQueueDepth),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one snapshot row.
func (s *Store) Record(ctx context.Context, snap *usage.Snapshot) error {
	if snap == nil {
		return nil
	}
	fhU, fhReset := windowColumns(snap.FiveHour)
	sdU, sdReset := windowColumns(snap.SevenDay)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_history
			(fetched_at, five_hour_utilization, five_hour_resets_at,
			 seven_day_utilization, seven_day_resets_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.FetchedAt.UnixMilli(), fhU, fhReset, sdU, sdReset)
	if err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	monitoring.HistoryInsertsTotal.Inc()
	return nil
}

// Query returns rows with fetched_at >= since, newest first. limit <= 0 or
// above the cap selects the cap.
func (s *Store) Query(ctx context.Context, since time.Time, limit int) ([]Point, error) {
	if limit <= 0 || limit > constants.HistoryQueryMaxRows {
		limit = constants.HistoryQueryMaxRows
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fetched_at, five_hour_utilization, five_hour_resets_at,
		       seven_day_utilization, seven_day_resets_at
		FROM usage_history
		WHERE fetched_at >= ?
		ORDER BY fetched_at DESC
		LIMIT ?`,
		since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var fetched int64
		var fhU, sdU sql.NullFloat64
		var fhRs, sdRs sql.NullInt64
		if err := rows.Scan(&p.ID, &fetched, &fhU, &fhRs, &sdU, &sdRs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		p.FetchedAt = time.UnixMilli(fetched).UTC()
		if fhU.Valid {
			v := fhU.Float64
			p.FiveHourUtilization = &v
		}
		if fhRs.Valid {
			t := time.UnixMilli(fhRs.Int64).UTC()
			p.FiveHourResetsAt = &t
		}
		if sdU.Valid {
			v := sdU.Float64
			p.SevenDayUtilization = &v
		}
		if sdRs.Valid {
			t := time.UnixMilli(sdRs.Int64).UTC()
			p.SevenDayResetsAt = &t
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Prune deletes rows older than the retention window and reports how many
// were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_history WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		monitoring.HistoryPrunedTotal.Add(float64(n))
		log.WithField("rows", n).Debug("pruned expired history rows")
	}
	return n, nil
}

// Subscribe queues snapshot events for recording and returns the
// unsubscribe function. The handler never blocks the publisher; a full
// queue drops the point.
func (s *Store) Subscribe(hub *events.Hub) func() {
	return hub.Subscribe(events.TopicSnapshotUpdated, func(_ context.Context, ev events.Event) {
		snap, ok := ev.Payload.(*usage.Snapshot)
		if !ok {
			return
		}
		select {
		case s.queue <- snap:
		default:
			log.Warn("history queue full, dropping snapshot")
		}
	})
}

// Run drains the record queue until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case snap := <-s.queue:
			if err := s.Record(ctx, snap); err != nil {
				log.WithError(err).Warn("failed to record usage snapshot")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func windowColumns(w *usage.Window) (any, any) {
	if w == nil {
		return nil, nil
	}
	return w.Utilization, w.ResetsAt.UnixMilli()
}
