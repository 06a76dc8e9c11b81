package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/kbanc85/claudia-sub002/internal/config"
	"github.com/kbanc85/claudia-sub002/internal/embedding"
)

// Store is the SQLite-backed memory store. One process owns one store file;
// the handle is explicit so tests can open isolated stores in temp dirs.
type Store struct {
	db      *sql.DB
	cfg     *config.Config
	embed   *embedding.Resilient
	entropy *rand.Rand

	// SQLite supports one writer at a time; serializing write transactions
	// here keeps concurrent readers (WAL) from ever seeing SQLITE_BUSY.
	writeMu sync.Mutex
	idMu    sync.Mutex
}

// Open opens or creates the store at cfg.DBPath and applies pending
// migrations. A migration that cannot apply cleanly returns ErrIntegrity
// and the caller must refuse to serve.
func Open(cfg *config.Config, embed *embedding.Resilient) (*Store, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if embed == nil {
		embed = embedding.NewResilient(nil, cfg.Embedder.Timeout, cfg.Embedder.Retries)
	}

	s := &Store{
		db:      db,
		cfg:     cfg,
		embed:   embed,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the store file location.
func (s *Store) DBPath() string { return s.cfg.DBPath }

// Embedder exposes the resilient embedder for status reporting.
func (s *Store) Embedder() *embedding.Resilient { return s.embed }

func (s *Store) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// withTx runs fn inside a single write transaction. Every logical write
// (mutation plus its audit entry) goes through here so the two commit or
// roll back together.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// migrations apply at startup in fixed order. Each runs in its own
// transaction and is recorded in schema_migrations.
var migrations = []string{
	// v1: core tables
	`
	CREATE TABLE IF NOT EXISTS entities (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		type             TEXT NOT NULL DEFAULT 'person',
		aliases          TEXT,
		attributes       TEXT,
		attention_tier   TEXT NOT NULL DEFAULT 'active',
		contact_velocity TEXT NOT NULL DEFAULT 'stable',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		last_seen_at     TEXT,
		deleted_at       TEXT,
		delete_reason    TEXT,
		merged_into      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_entities_deleted ON entities(deleted_at);

	CREATE TABLE IF NOT EXISTS memories (
		id                  TEXT PRIMARY KEY,
		content             TEXT NOT NULL,
		type                TEXT NOT NULL DEFAULT 'fact',
		importance          REAL NOT NULL DEFAULT 0.5,
		base_importance     REAL NOT NULL DEFAULT 0.5,
		confidence          REAL NOT NULL DEFAULT 1.0,
		embedding           BLOB,
		content_hash        TEXT,
		origin_type         TEXT NOT NULL DEFAULT 'user_stated',
		source_channel      TEXT,
		verification_status TEXT NOT NULL DEFAULT 'pending',
		prior_content       TEXT,
		deadline_at         TEXT,
		created_at          TEXT NOT NULL,
		last_accessed_at    TEXT,
		access_count        INTEGER NOT NULL DEFAULT 0,
		merge_count         INTEGER NOT NULL DEFAULT 0,
		invalidated_at      TEXT,
		invalidation_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_invalidated ON memories(invalidated_at);
	CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash);

	CREATE TABLE IF NOT EXISTS memory_entities (
		memory_id TEXT NOT NULL REFERENCES memories(id),
		entity_id TEXT NOT NULL REFERENCES entities(id),
		PRIMARY KEY (memory_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_me_entity ON memory_entities(entity_id);

	CREATE TABLE IF NOT EXISTS relationships (
		id          TEXT PRIMARY KEY,
		from_entity TEXT NOT NULL REFERENCES entities(id),
		to_entity   TEXT NOT NULL REFERENCES entities(id),
		type        TEXT NOT NULL,
		directed    INTEGER NOT NULL DEFAULT 0,
		strength    REAL NOT NULL DEFAULT 0.3,
		valid_at    TEXT NOT NULL,
		invalid_at  TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_entity);
	CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_entity);

	CREATE TABLE IF NOT EXISTS audit_log (
		id         TEXT PRIMARY KEY,
		actor      TEXT NOT NULL,
		operation  TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		details    TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

	CREATE TABLE IF NOT EXISTS consolidation_runs (
		id          TEXT PRIMARY KEY,
		job         TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		touched     INTEGER NOT NULL DEFAULT 0,
		merged      INTEGER NOT NULL DEFAULT 0,
		flagged     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON consolidation_runs(job, started_at DESC);
	`,
	// v2: full-text index over memory content, kept in sync by triggers
	`
	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content=memories,
		content_rowid=rowid
	);
	CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF content ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	`,
}

func (s *Store) migrate() error {
	if err := s.quickCheck(); err != nil {
		return err
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", ErrIntegrity, err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrIntegrity, err)
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: store schema v%d is newer than this binary (v%d)", ErrIntegrity, current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin migration %d: %v", ErrIntegrity, v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: apply migration %d: %v", ErrIntegrity, v+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			v+1, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: record migration %d: %v", ErrIntegrity, v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit migration %d: %v", ErrIntegrity, v+1, err)
		}
	}

	return s.quickCheck()
}

func (s *Store) quickCheck() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return fmt.Errorf("%w: quick_check: %v", ErrIntegrity, err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("%w: quick_check reported %q", ErrIntegrity, result)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
