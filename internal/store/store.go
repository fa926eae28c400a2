package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used for agents and jobs.
type Store struct {
	DB *sql.DB
}

// Job lifecycle states. Every job starts in prepared; completed and failed
// are terminal. payment_pending is reachable only through the legacy agent
// prepare flow.
const (
	JobStatePrepared       = "prepared"
	JobStatePaymentPending = "payment_pending"
	JobStateCompleted      = "completed"
	JobStateFailed         = "failed"
)

// IsValidJobState reports whether state is a known lifecycle state.
func IsValidJobState(state string) bool {
	switch state {
	case JobStatePrepared, JobStatePaymentPending, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// ErrWorkflowExists is returned by InsertWorkflow when the parent insert hits
// the (requester_addr, job_input_hash) uniqueness constraint, i.e. an
// identical workflow was created concurrently.
var ErrWorkflowExists = errors.New("workflow already exists")

// Agent is a registered remote HTTP service. Records are read-only from the
// orchestrator's point of view; onboarding happens elsewhere.
type Agent struct {
	ID           string    `json:"id"`
	Subdomain    string    `json:"subdomain"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Tags         []string  `json:"tags"`
	ExampleInput string    `json:"example_input"`
	Price        int64     `json:"price"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job is one unit of trackable work. A parent workflow job has no agent and
// carries the whole plan as job_input; each child job references one agent
// and carries {step, agent_id}.
type Job struct {
	JobID         string          `json:"job_id"`
	ParentJobID   string          `json:"parent_job_id,omitempty"`
	AgentID       string          `json:"agent_id,omitempty"`
	RequesterAddr string          `json:"requester_addr"`
	JobInput      json.RawMessage `json:"job_input"`
	JobInputHash  string          `json:"job_input_hash"`
	State         string          `json:"state"`
	JobOutput     json.RawMessage `json:"job_output,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JobWithAgent is a job joined with its agent record, when one is bound.
type JobWithAgent struct {
	Job
	Agent *Agent `json:"agent,omitempty"`
}

// New connects using DATABASE_URL or the POSTGRES_* environment variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

const agentColumns = `id, subdomain, name, COALESCE(description,''), COALESCE(category,''), tags, COALESCE(example_input,''), price, created_at`

// ListAgents returns every registered agent in insertion order.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+agentColumns+`
FROM agents
ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var tags pq.StringArray
		if err := rows.Scan(&a.ID, &a.Subdomain, &a.Name, &a.Description, &a.Category, &tags, &a.ExampleInput, &a.Price, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Tags = []string(tags)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (Agent, bool, error) {
	if strings.TrimSpace(id) == "" {
		return Agent{}, false, fmt.Errorf("agent id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT `+agentColumns+`
FROM agents
WHERE id=$1
`, id)
	var a Agent
	var tags pq.StringArray
	if err := row.Scan(&a.ID, &a.Subdomain, &a.Name, &a.Description, &a.Category, &tags, &a.ExampleInput, &a.Price, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, false, nil
		}
		return Agent{}, false, err
	}
	a.Tags = []string(tags)
	return a, true, nil
}

// GetJobWithAgent returns the job left-joined with its agent record.
func (s *Store) GetJobWithAgent(ctx context.Context, jobID string) (JobWithAgent, bool, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobWithAgent{}, false, fmt.Errorf("job id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT j.job_id, j.parent_job_id, j.agent_id, j.requester_addr, j.job_input, j.job_input_hash, j.state, j.job_output, j.created_at, j.updated_at,
       a.id, a.subdomain, a.name, COALESCE(a.description,''), COALESCE(a.category,''), a.tags, COALESCE(a.example_input,''), a.price, a.created_at
FROM jobs j
LEFT JOIN agents a ON a.id = j.agent_id
WHERE j.job_id=$1
`, jobID)

	var rec JobWithAgent
	var parentID, agentID sql.NullString
	var output []byte
	var aID, aSub, aName, aDesc, aCat, aExample sql.NullString
	var aTags pq.StringArray
	var aPrice sql.NullInt64
	var aCreated sql.NullTime
	err := row.Scan(&rec.JobID, &parentID, &agentID, &rec.RequesterAddr, &rec.JobInput, &rec.JobInputHash, &rec.State, &output, &rec.CreatedAt, &rec.UpdatedAt,
		&aID, &aSub, &aName, &aDesc, &aCat, &aTags, &aExample, &aPrice, &aCreated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobWithAgent{}, false, nil
		}
		return JobWithAgent{}, false, err
	}
	if parentID.Valid {
		rec.ParentJobID = parentID.String
	}
	if agentID.Valid {
		rec.AgentID = agentID.String
	}
	if len(output) > 0 {
		rec.JobOutput = json.RawMessage(output)
	}
	if aID.Valid {
		rec.Agent = &Agent{
			ID:           aID.String,
			Subdomain:    aSub.String,
			Name:         aName.String,
			Description:  aDesc.String,
			Category:     aCat.String,
			Tags:         []string(aTags),
			ExampleInput: aExample.String,
			Price:        aPrice.Int64,
			CreatedAt:    aCreated.Time,
		}
	}
	return rec, true, nil
}

// FindWorkflowByHash looks up a parent workflow job by its idempotency key.
func (s *Store) FindWorkflowByHash(ctx context.Context, requesterAddr, inputHash string) (string, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT job_id
FROM jobs
WHERE job_input_hash=$1 AND requester_addr=$2 AND parent_job_id IS NULL
LIMIT 1
`, inputHash, requesterAddr)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// InsertWorkflow writes the parent job and all child jobs in one transaction,
// so a crash mid-way can never leave a short workflow behind. A concurrent
// duplicate submission surfaces as ErrWorkflowExists via the partial unique
// index on (requester_addr, job_input_hash).
func (s *Store) InsertWorkflow(ctx context.Context, parent Job, children []Job) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertJobTx(ctx, tx, parent); err != nil {
		if isUniqueViolation(err) {
			return ErrWorkflowExists
		}
		return err
	}
	for _, child := range children {
		if err = insertJobTx(ctx, tx, child); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// InsertJobs appends jobs outside a workflow transaction. Used by the repair
// pass to fill in a missing child suffix.
func (s *Store) InsertJobs(ctx context.Context, jobs []Job) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, j := range jobs {
		if err = insertJobTx(ctx, tx, j); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func insertJobTx(ctx context.Context, tx *sql.Tx, j Job) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO jobs (job_id, parent_job_id, agent_id, requester_addr, job_input, job_input_hash, state)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, j.JobID, nullableString(j.ParentJobID), nullableString(j.AgentID), j.RequesterAddr, []byte(j.JobInput), j.JobInputHash, j.State)
	return err
}

// UpdateJobResult transitions a job and records its output atomically.
func (s *Store) UpdateJobResult(ctx context.Context, jobID, state string, output json.RawMessage) error {
	if !IsValidJobState(state) {
		return fmt.Errorf("invalid job state: %s", state)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs
SET state=$1, job_output=$2, updated_at=NOW()
WHERE job_id=$3
`, state, []byte(output), jobID)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

// UpdateJobState transitions a job without touching its output.
func (s *Store) UpdateJobState(ctx context.Context, jobID, state string) error {
	if !IsValidJobState(state) {
		return fmt.Errorf("invalid job state: %s", state)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE jobs
SET state=$1, updated_at=NOW()
WHERE job_id=$2
`, state, jobID)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

// ListIncompleteWorkflows returns parent jobs whose persisted child count is
// shorter than the plan they carry. With transactional creation this should
// stay empty; the repair pass covers stores that relaxed that guarantee.
func (s *Store) ListIncompleteWorkflows(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.job_id, p.requester_addr, p.job_input, p.job_input_hash, p.state, p.created_at, p.updated_at
FROM jobs p
WHERE p.parent_job_id IS NULL
  AND jsonb_typeof(p.job_input->'plan') = 'array'
  AND (SELECT COUNT(*) FROM jobs c WHERE c.parent_job_id = p.job_id) < jsonb_array_length(p.job_input->'plan')
ORDER BY p.created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.JobID, &j.RequesterAddr, &j.JobInput, &j.JobInputHash, &j.State, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListWorkflowChildren returns a workflow's child jobs ordered by step.
func (s *Store) ListWorkflowChildren(ctx context.Context, parentJobID string) ([]Job, error) {
	if strings.TrimSpace(parentJobID) == "" {
		return nil, fmt.Errorf("parent job id required")
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT job_id, parent_job_id, agent_id, requester_addr, job_input, job_input_hash, state, job_output, created_at, updated_at
FROM jobs
WHERE parent_job_id=$1
ORDER BY (job_input->>'step')::int ASC
`, parentJobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var parentID, agentID sql.NullString
		var output []byte
		if err := rows.Scan(&j.JobID, &parentID, &agentID, &j.RequesterAddr, &j.JobInput, &j.JobInputHash, &j.State, &output, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			j.ParentJobID = parentID.String
		}
		if agentID.Valid {
			j.AgentID = agentID.String
		}
		if len(output) > 0 {
			j.JobOutput = json.RawMessage(output)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func requireOneRow(res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
