/*

Event journal sinks. Every mutating ledger operation emits a structured
event; the journal makes that stream durable (Postgres) or inspectable
(in-memory ring) for external indexers. Ledger state itself is never
persisted here.

*/

package state

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"

	"github.com/dragonfarm/farmd/internal/logger"
	"github.com/dragonfarm/farmd/internal/types"
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// MemJournal keeps the most recent events in a fixed-size ring.
type MemJournal struct {
	mu     sync.RWMutex
	ring   []types.Event
	next   int
	filled bool
}

// NewMemJournal creates a ring holding up to size events.
func NewMemJournal(size int) *MemJournal {
	if size <= 0 {
		size = 1024
	}
	return &MemJournal{ring: make([]types.Event, size)}
}

func (j *MemJournal) Record(ev types.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ring[j.next] = ev
	j.next++
	if j.next == len(j.ring) {
		j.next = 0
		j.filled = true
	}
}

// Recent returns up to n events, newest first.
func (j *MemJournal) Recent(n int) []types.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := j.next
	if j.filled {
		count = len(j.ring)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]types.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.ring)) % len(j.ring)
		out = append(out, j.ring[idx])
	}
	return out
}

// PGJournal appends events to a Postgres table. Recording never fails the
// emitting operation; insert errors are logged and dropped.
type PGJournal struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenPGJournal connects to Postgres and ensures the journal schema.
func OpenPGJournal(cfg DBConfig) (*PGJournal, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &PGJournal{db: db, log: logger.GetForComponent("journal")}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	j.log.Info().Msg("Event journal connected to PostgreSQL")
	return j, nil
}

func (j *PGJournal) ensureSchema() error {
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS engine_events (
			seq BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL,
			kind VARCHAR(40) NOT NULL,
			at_counter BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			pool_id BIGINT,
			token_id BIGINT,
			account VARCHAR(255),
			asset VARCHAR(255),
			amount VARCHAR(80),
			shares VARCHAR(80),
			weight BIGINT,
			fee_bps INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_engine_events_kind ON engine_events(kind);
		CREATE INDEX IF NOT EXISTS idx_engine_events_pool ON engine_events(pool_id);
		CREATE INDEX IF NOT EXISTS idx_engine_events_account ON engine_events(account);
	`
	if _, err := j.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute journal schema DDL: %w", err)
	}
	return nil
}

func (j *PGJournal) Record(ev types.Event) {
	_, err := j.db.Exec(`
		INSERT INTO engine_events
			(event_id, kind, at_counter, pool_id, token_id, account, asset, amount, shares, weight, fee_bps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, string(ev.Kind), int64(ev.At), int64(ev.Pool), int64(ev.Token),
		string(ev.Account), string(ev.Asset), ev.Amount, ev.Shares, int64(ev.Weight), int32(ev.FeeBps),
	)
	if err != nil {
		j.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to journal event")
	}
}

// Close closes the underlying connection pool.
func (j *PGJournal) Close() {
	if j.db != nil {
		if err := j.db.Close(); err != nil {
			j.log.Error().Err(err).Msg("Error closing journal database")
		}
	}
}

// TeeSink fans one event out to several sinks.
type TeeSink []types.EventSink

func (t TeeSink) Record(ev types.Event) {
	for _, s := range t {
		s.Record(ev)
	}
}

// LogSink writes events to the component logger, the default observable
// surface when no journal is configured.
type LogSink struct {
	Log zerolog.Logger
}

func NewLogSink() LogSink {
	return LogSink{Log: logger.GetForComponent("events")}
}

func (s LogSink) Record(ev types.Event) {
	s.Log.Info().
		Str("event", string(ev.Kind)).
		Str("id", ev.ID).
		Uint64("pool", uint64(ev.Pool)).
		Str("account", string(ev.Account)).
		Str("amount", ev.Amount).
		Msg("Ledger event")
}
