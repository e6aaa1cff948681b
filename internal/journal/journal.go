// Package journal keeps a SQLite record of finished relay runs: identifiers,
// outcome and timing only. Transcripts, replies and audio are never stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "log/slog"

	_ "modernc.org/sqlite"

	"voxrelay/internal/config"
	"voxrelay/internal/relay"
)

type Entry struct {
	RunID           string
	ConversationID  string
	Outcome         string // delivered or failed
	Stage           string // failed stage, "" on success
	ErrorKind       string
	Duration        time.Duration
	ArtifactsLeaked int
	NoticeSent      bool
	CreatedAt       time.Time
}

// Journal is a relay.Observer. In ephemeral mode it has no database and
// every method is a no-op.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *log.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Default()
	}
	j := &Journal{cfg: cfg, log: logger.With("component", "journal"), clock: time.Now}
	if cfg.RetentionMode == "ephemeral" {
		return j, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	j.db = db

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := j.Prune(ctx); err != nil {
		j.log.Warn("Journal prune on start failed", "err", err)
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    stage TEXT,
    error_kind TEXT,
    duration_ms INTEGER NOT NULL,
    artifacts_leaked INTEGER NOT NULL DEFAULT 0,
    notice_sent INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// ObserveRun records rep; failures are logged, never returned to the pipeline.
func (j *Journal) ObserveRun(ctx context.Context, rep relay.Report) {
	if err := j.Record(ctx, rep); err != nil {
		j.log.Warn("Failed to record run", "run_id", rep.RunID, "err", err)
	}
}

func (j *Journal) Record(ctx context.Context, rep relay.Report) error {
	if j.db == nil {
		return nil
	}
	e := Entry{
		RunID:           rep.RunID,
		ConversationID:  rep.ConversationID,
		Outcome:         "delivered",
		Duration:        rep.Duration(),
		ArtifactsLeaked: rep.ArtifactsLeaked,
		NoticeSent:      rep.NoticeSent,
		CreatedAt:       rep.Finished,
	}
	if stage, failed := rep.FailedStage(); failed {
		e.Outcome = "failed"
		e.Stage = stage.String()
		e.ErrorKind = relay.KindName(rep.Err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, conversation_id, outcome, stage, error_kind, duration_ms, artifacts_leaked, notice_sent, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.ConversationID, e.Outcome, e.Stage, e.ErrorKind,
		e.Duration.Milliseconds(), e.ArtifactsLeaked, e.NoticeSent, e.CreatedAt.UnixNano())
	return err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, conversation_id, outcome, stage, error_kind, duration_ms, artifacts_leaked, notice_sent, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			stage   sql.NullString
			kind    sql.NullString
			ms      int64
			created int64
		)
		if err := rows.Scan(&e.RunID, &e.ConversationID, &e.Outcome, &stage, &kind, &ms, &e.ArtifactsLeaked, &e.NoticeSent, &created); err != nil {
			return nil, err
		}
		e.Stage = stage.String
		e.ErrorKind = kind.String
		e.Duration = time.Duration(ms) * time.Millisecond
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune drops entries older than retention_days (0 keeps everything).
func (j *Journal) Prune(ctx context.Context) error {
	if j.db == nil || j.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
	res, err := j.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.log.Debug("Pruned journal", "rows", n)
	}
	return nil
}
