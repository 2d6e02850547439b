package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/petledger/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Submission statuses. The first four mirror the confirmation outcomes the
// ledger reports; expired is written when durable confirmation gives up.
const (
	StatusConfirmed           = "confirmed"
	StatusPendingConfirmation = "pending_confirmation"
	StatusFailed              = "failed"
	StatusSkipped             = "skipped"
	StatusExpired             = "expired"
)

var (
	// ErrSubmissionNotFound is returned when no submission has the signature.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrDuplicateSubmission is returned when the signature is already journaled.
	ErrDuplicateSubmission = errors.New("submission already exists")
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics makes the store record query durations.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate applies the journal schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Submission is a journaled transaction.
type Submission struct {
	Signature   string
	Kind        string
	Signer      string
	Mint        *string
	Destination *string
	Amount      uint64
	Decimals    int16
	Status      string
	Error       *string
	WorkflowID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// CreateSubmissionParams contains the parameters for journaling a submission.
type CreateSubmissionParams struct {
	Signature   string
	Kind        string
	Signer      string
	Mint        *string
	Destination *string
	Amount      uint64
	Decimals    int16
	Status      string
	Error       *string
}

// UpdateSubmissionStatusParams changes a submission's status. A nil
// WorkflowID keeps the stored one.
type UpdateSubmissionStatusParams struct {
	Signature  string
	Status     string
	Error      *string
	WorkflowID *string
}

// ListSubmissionsParams filters and paginates submissions. Empty filters match all.
type ListSubmissionsParams struct {
	Signer string
	Mint   string
	Limit  int32
	Offset int32
}

const submissionColumns = `signature, kind, signer, mint, destination, amount::text, decimals,
	status, error, workflow_id, created_at, updated_at, confirmed_at`

// CreateSubmission inserts a new submission.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, error) {
	start := time.Now()
	confirmedAt := pgtype.Timestamptz{}
	if params.Status == StatusConfirmed {
		confirmedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (signature, kind, signer, mint, destination, amount, decimals, status, error, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		RETURNING `+submissionColumns,
		params.Signature,
		params.Kind,
		params.Signer,
		pgtextFromStringPtr(params.Mint),
		pgtextFromStringPtr(params.Destination),
		strconv.FormatUint(params.Amount, 10),
		params.Decimals,
		params.Status,
		pgtextFromStringPtr(params.Error),
		confirmedAt,
	)
	sub, err := scanSubmission(row)
	s.observe("create_submission", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubmission, params.Signature)
		}
		return nil, err
	}
	return sub, nil
}

// UpdateSubmissionStatus sets a submission's status and error. Moving to
// confirmed stamps confirmed_at.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, params UpdateSubmissionStatusParams) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET status = $2,
			error = $3,
			workflow_id = COALESCE($4, workflow_id),
			updated_at = now(),
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN COALESCE(confirmed_at, now()) ELSE confirmed_at END
		WHERE signature = $1
		RETURNING `+submissionColumns,
		params.Signature,
		params.Status,
		pgtextFromStringPtr(params.Error),
		pgtextFromStringPtr(params.WorkflowID),
	)
	sub, err := scanSubmission(row)
	s.observe("update_submission_status", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, params.Signature)
		}
		return nil, err
	}
	return sub, nil
}

// GetSubmission retrieves a submission by signature.
func (s *Store) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE signature = $1`, signature)
	sub, err := scanSubmission(row)
	s.observe("get_submission", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, signature)
		}
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) ([]*Submission, error) {
	start := time.Now()
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE ($1 = '' OR signer = $1)
		  AND ($2 = '' OR mint = $2)
		ORDER BY created_at DESC, signature
		LIMIT $3 OFFSET $4`,
		params.Signer, params.Mint, limit, params.Offset,
	)
	if err != nil {
		s.observe("list_submissions", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			s.observe("list_submissions", start, err)
			return nil, err
		}
		out = append(out, sub)
	}
	err = rows.Err()
	s.observe("list_submissions", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPendingSubmissions returns submissions still awaiting confirmation,
// oldest first.
func (s *Store) ListPendingSubmissions(ctx context.Context, limit int32) ([]*Submission, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`,
		StatusPendingConfirmation, limit,
	)
	if err != nil {
		s.observe("list_pending_submissions", start, err)
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Submission, error) {
		return scanSubmission(row)
	})
	s.observe("list_pending_submissions", start, err)
	return out, err
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "submissions", time.Since(start).Seconds(), err)
	}
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		sub         Submission
		mint        pgtype.Text
		destination pgtype.Text
		amount      string
		errText     pgtype.Text
		workflowID  pgtype.Text
		confirmedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&sub.Signature,
		&sub.Kind,
		&sub.Signer,
		&mint,
		&destination,
		&amount,
		&sub.Decimals,
		&sub.Status,
		&errText,
		&workflowID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&confirmedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	sub.Amount = parsed
	sub.Mint = stringPtrFromPgtext(mint)
	sub.Destination = stringPtrFromPgtext(destination)
	sub.Error = stringPtrFromPgtext(errText)
	sub.WorkflowID = stringPtrFromPgtext(workflowID)
	sub.ConfirmedAt = timePtrFromPgTimestamptz(confirmedAt)
	return &sub, nil
}

// isDuplicateKeyError reports a unique_violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
