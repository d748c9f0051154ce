package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// Pool abstracts the pgxpool.Pool surface the store needs, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot paths: state transitions and object writes happen on every pipeline run.
var preparedStatements = map[string]string{
	"insert_execution":       `INSERT INTO executions (execution_id, document_id, blueprint_id, source_uri, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (execution_id) DO NOTHING`,
	"update_execution_state": `UPDATE executions SET state = $1, failure_cause = $2, updated_at = $3 WHERE execution_id = $4`,
	"get_execution":          `SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at FROM executions WHERE execution_id = $1`,
	"insert_review_task":     `INSERT INTO review_tasks (task_id, document_id, execution_id, flagged_paths, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_pending_task":       `SELECT task_id, document_id, execution_id, flagged_paths, status, created_at FROM review_tasks WHERE document_id = $1 AND execution_id = $2 AND status = $3 ORDER BY created_at DESC LIMIT 1`,
	"complete_review_task":   `UPDATE review_tasks SET status = $1 WHERE task_id = $2`,
	"put_object":             `INSERT INTO objects (path, body, created_at) VALUES ($1, $2, $3) ON CONFLICT (path) DO NOTHING`,
	"get_object":             `SELECT body FROM objects WHERE path = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id  TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	blueprint_id  TEXT NOT NULL,
	source_uri    TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT 'submitted',
	failure_cause TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_tasks (
	task_id       TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	execution_id  TEXT NOT NULL REFERENCES executions(execution_id),
	flagged_paths JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS objects (
	path       TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_executions_document_id ON executions(document_id);
CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);
CREATE INDEX IF NOT EXISTS idx_review_tasks_execution ON review_tasks(execution_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	now := time.Now().UTC()
	state := exec.State
	if state == "" {
		state = model.StateSubmitted
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (execution_id, document_id, blueprint_id, source_uri, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (execution_id) DO NOTHING`,
		exec.ExecutionID, exec.DocumentID, exec.BlueprintID, exec.SourceURI, string(state), now, now,
	)
	return eris.Wrapf(err, "postgres: insert execution %s", exec.ExecutionID)
}

func (s *PostgresStore) UpdateExecutionState(ctx context.Context, executionID string, state model.ExecutionState, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET state = $1, failure_cause = $2, updated_at = $3 WHERE execution_id = $4`,
		string(state), cause, time.Now().UTC(), executionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update execution state %s", executionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("execution not found: %s", executionID)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*model.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at FROM executions WHERE execution_id = $1`,
		executionID,
	)
	var e model.Execution
	var state string
	err := row.Scan(&e.ExecutionID, &e.DocumentID, &e.BlueprintID, &e.SourceURI, &state, &e.FailureCause, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: get execution: not found: %s", executionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get execution")
	}
	e.State = model.ExecutionState(state)
	return &e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error) {
	query := `SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at FROM executions WHERE 1=1`
	var args []any

	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += ` AND document_id = $` + strconv.Itoa(len(args))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += ` AND state = $` + strconv.Itoa(len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		query += ` AND created_at > $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		var e model.Execution
		var state string
		if err := rows.Scan(&e.ExecutionID, &e.DocumentID, &e.BlueprintID, &e.SourceURI, &state, &e.FailureCause, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		e.State = model.ExecutionState(state)
		execs = append(execs, e)
	}
	return execs, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func (s *PostgresStore) CreateReviewTask(ctx context.Context, task model.ReviewTask) error {
	pathsJSON, err := json.Marshal(task.FlaggedPaths)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flagged paths")
	}
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_tasks (task_id, document_id, execution_id, flagged_paths, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		task.TaskID, task.DocumentID, task.ExecutionID, pathsJSON, string(task.Status), createdAt,
	)
	return eris.Wrapf(err, "postgres: insert review task %s", task.TaskID)
}

func (s *PostgresStore) GetPendingReviewTask(ctx context.Context, documentID, executionID string) (*model.ReviewTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, document_id, execution_id, flagged_paths, status, created_at FROM review_tasks WHERE document_id = $1 AND execution_id = $2 AND status = $3 ORDER BY created_at DESC LIMIT 1`,
		documentID, executionID, string(model.ReviewPending),
	)
	var t model.ReviewTask
	var pathsJSON []byte
	var status string
	err := row.Scan(&t.TaskID, &t.DocumentID, &t.ExecutionID, &pathsJSON, &status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get pending review task")
	}
	if err := json.Unmarshal(pathsJSON, &t.FlaggedPaths); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flagged paths")
	}
	t.Status = model.ReviewTaskStatus(status)
	return &t, nil
}

func (s *PostgresStore) CompleteReviewTask(ctx context.Context, taskID string, status model.ReviewTaskStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET status = $1 WHERE task_id = $2`,
		string(status), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete review task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) ExpireReviewTasks(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET status = $1 WHERE status = $2 AND created_at < $3`,
		string(model.ReviewExpired), string(model.ReviewPending), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire review tasks")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, path string, body []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO objects (path, body, created_at) VALUES ($1, $2, $3) ON CONFLICT (path) DO NOTHING`,
		path, body, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: put object %s", path)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM objects WHERE path = $1`, path).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get object %s", path)
	}
	return body, nil
}

func (s *PostgresStore) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM objects WHERE path = $1`, path).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: stat object %s", path)
	}
	return true, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path FROM objects WHERE path LIKE $1 || '%' ORDER BY path`, prefix,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list objects %s", prefix)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan object path")
		}
		paths = append(paths, p)
	}
	return paths, eris.Wrap(rows.Err(), "postgres: list objects iterate")
}

