package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id  TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	blueprint_id  TEXT NOT NULL,
	source_uri    TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT 'submitted',
	failure_cause TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_tasks (
	task_id       TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	execution_id  TEXT NOT NULL REFERENCES executions(execution_id),
	flagged_paths TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS objects (
	path       TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_executions_document_id ON executions(document_id);
CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);
CREATE INDEX IF NOT EXISTS idx_review_tasks_execution ON review_tasks(execution_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution inserts the execution record. A replayed insert for an
// execution that already exists is a no-op, so duplicate arrival events for
// the same execution are harmless.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	now := time.Now().UTC()
	state := exec.State
	if state == "" {
		state = model.StateSubmitted
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, document_id, blueprint_id, source_uri, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO NOTHING`,
		exec.ExecutionID, exec.DocumentID, exec.BlueprintID, exec.SourceURI, string(state), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert execution %s", exec.ExecutionID)
}

func (s *SQLiteStore) UpdateExecutionState(ctx context.Context, executionID string, state model.ExecutionState, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET state = ?, failure_cause = ?, updated_at = ? WHERE execution_id = ?`,
		string(state), cause, time.Now().UTC(), executionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution state %s", executionID)
	}
	return checkRowsAffected(res, "execution", executionID)
}

func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at
		 FROM executions WHERE execution_id = ?`,
		executionID,
	)
	return scanExecution(row)
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at
	          FROM executions WHERE 1=1`
	var args []any

	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

func (s *SQLiteStore) CreateReviewTask(ctx context.Context, task model.ReviewTask) error {
	pathsJSON, err := json.Marshal(task.FlaggedPaths)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flagged paths")
	}
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_tasks (task_id, document_id, execution_id, flagged_paths, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.DocumentID, task.ExecutionID, string(pathsJSON), string(task.Status), createdAt,
	)
	return eris.Wrapf(err, "sqlite: insert review task %s", task.TaskID)
}

func (s *SQLiteStore) GetPendingReviewTask(ctx context.Context, documentID, executionID string) (*model.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, document_id, execution_id, flagged_paths, status, created_at
		 FROM review_tasks
		 WHERE document_id = ? AND execution_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		documentID, executionID, string(model.ReviewPending),
	)
	task, err := scanReviewTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get pending review task")
	}
	return task, nil
}

func (s *SQLiteStore) CompleteReviewTask(ctx context.Context, taskID string, status model.ReviewTaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_tasks SET status = ? WHERE task_id = ?`,
		string(status), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete review task %s", taskID)
	}
	return checkRowsAffected(res, "review task", taskID)
}

func (s *SQLiteStore) ExpireReviewTasks(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_tasks SET status = ? WHERE status = ? AND created_at < ?`,
		string(model.ReviewExpired), string(model.ReviewPending), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire review tasks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// PutIfAbsent is first-writer-wins: a path that already holds an object is
// left untouched and created=false is returned.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, path string, body []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (path, body, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO NOTHING`,
		path, body, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: put object %s", path)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM objects WHERE path = ?`, path,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get object %s", path)
	}
	return body, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE path = ?`, path,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: stat object %s", path)
	}
	return true, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM objects WHERE path LIKE ? || '%' ORDER BY path`, prefix,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list objects %s", prefix)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan object path")
		}
		paths = append(paths, p)
	}
	return paths, eris.Wrap(rows.Err(), "sqlite: list objects iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanExecution(row scannable) (*model.Execution, error) {
	var e model.Execution
	var state string
	err := row.Scan(&e.ExecutionID, &e.DocumentID, &e.BlueprintID, &e.SourceURI, &state, &e.FailureCause, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("execution not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan execution")
	}
	e.State = model.ExecutionState(state)
	return &e, nil
}

func scanReviewTask(row scannable) (*model.ReviewTask, error) {
	var t model.ReviewTask
	var pathsJSON, status string
	err := row.Scan(&t.TaskID, &t.DocumentID, &t.ExecutionID, &pathsJSON, &status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pathsJSON), &t.FlaggedPaths); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal flagged paths")
	}
	t.Status = model.ReviewTaskStatus(status)
	return &t, nil
}
