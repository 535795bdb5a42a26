package checkpoint

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/meidoworks/nekoq-syncany/internal/iface"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	replication_id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

var _ iface.CheckpointStore = new(SQLiteStore)

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return errors.Wrap(err, "enable wal")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "init schema")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, replicationId string) (iface.SequenceNumber, error) {
	if replicationId == "" {
		return 0, ErrMissingReplicationId
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM checkpoints WHERE replication_id = ?`, replicationId).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return iface.LowestSequence, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "query checkpoint")
	}
	return iface.SequenceNumber(seq), nil
}

func (s *SQLiteStore) WriteCheckpoint(ctx context.Context, cp iface.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (replication_id, seq, session_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(replication_id) DO UPDATE SET
			seq = MAX(checkpoints.seq, excluded.seq),
			session_id = CASE WHEN excluded.seq >= checkpoints.seq THEN excluded.session_id ELSE checkpoints.session_id END,
			updated_at = excluded.updated_at
	`, cp.ReplicationId, int64(cp.Sequence), cp.SessionId, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "upsert checkpoint")
	}
	return nil
}
