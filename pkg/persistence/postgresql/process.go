package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

const (
	uniqueViolation = "23505"

	pendingReferenceIndex = "idx_processes_pending_reference"
	publicIDConstraint    = "processes_public_id_key"
)

const processColumns = `
	p.id
  , p.public_id
  , p.type
  , p.description
  , p.state
  , p.channel
  , p.expiry
  , p.external_reference
  , p.integrator_reference
  , p.created_at
  , p.updated_at
`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ProcessRepository handles process-related database operations.
type ProcessRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProcessRepository creates a new process repository.
func NewProcessRepository(db *sql.DB, logger *slog.Logger) *ProcessRepository {
	return &ProcessRepository{db: db, logger: logger}
}

// Create inserts the process, its requests and its transitions in one transaction.
func (r *ProcessRepository) Create(ctx context.Context, process *models.Process) error {
	now := time.Now().UTC()
	if process.CreatedAt.IsZero() {
		process.CreatedAt = now
	}

	process.UpdatedAt = process.CreatedAt

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	err = transaction.QueryRowContext(ctx, `
		INSERT INTO processes (
			public_id, type, description, state, channel, expiry,
			external_reference, integrator_reference, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		process.PublicID,
		process.Type,
		process.Description,
		process.State,
		process.Channel,
		process.Expiry,
		nullString(process.ExternalReference),
		nullString(process.IntegratorReference),
		process.CreatedAt,
		process.UpdatedAt,
	).Scan(&process.ID)
	if err != nil {
		return r.createError(process, err)
	}

	for _, request := range process.Requests {
		if request.CreatedAt.IsZero() {
			request.CreatedAt = process.CreatedAt
		}

		err = r.insertRequest(ctx, transaction, process.ID, request)
		if err != nil {
			return err
		}
	}

	for _, transition := range process.Transitions {
		if transition.CreatedAt.IsZero() {
			transition.CreatedAt = process.CreatedAt
		}

		err = r.insertTransition(ctx, transaction, process.ID, transition)
		if err != nil {
			return err
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit process creation: %w", err)
	}

	return nil
}

func (r *ProcessRepository) createError(process *models.Process, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case pendingReferenceIndex:
			return persistence.NewProcessReferenceError("CreateProcess", process.ExternalReference, persistence.ErrDuplicatePendingProcess)
		case publicIDConstraint:
			return persistence.NewProcessError("CreateProcess", process.PublicID, persistence.ErrProcessAlreadyExists)
		}
	}

	return fmt.Errorf("failed to insert process: %w", err)
}

func (r *ProcessRepository) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	processes, err := r.selectProcesses(ctx, r.db, "p.public_id = $1", []any{publicID}, newestFirst)
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessError("ProcessByPublicID", publicID, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}

func (r *ProcessRepository) GetByPublicIDAndState(
	ctx context.Context,
	publicID uuid.UUID,
	state models.ProcessState,
) (*models.Process, error) {
	processes, err := r.selectProcesses(ctx, r.db, "p.public_id = $1 AND p.state = $2", []any{publicID, state}, newestFirst)
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessError("ProcessByPublicIDAndState", publicID, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}

// GetByExternalReference returns the newest process holding the reference, optionally in the given state.
func (r *ProcessRepository) GetByExternalReference(
	ctx context.Context,
	reference string,
	state models.ProcessState,
) (*models.Process, error) {
	if reference == "" {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReference", reference, persistence.ErrProcessNotFound)
	}

	processes, err := r.Find(ctx, persistence.ProcessQuery{ExternalReference: reference, State: state, Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, persistence.NewProcessReferenceError("ProcessByExternalReference", reference, persistence.ErrProcessNotFound)
	}

	return processes[0], nil
}

// Find returns hydrated processes matching the query, newest first.
func (r *ProcessRepository) Find(ctx context.Context, query persistence.ProcessQuery) ([]*models.Process, error) {
	where, args := buildWhere(query)

	suffix := newestFirst
	if query.OldestExpiryFirst {
		suffix = oldestExpiryFirst
	}

	if query.Limit > 0 {
		args = append(args, query.Limit)
		suffix += " LIMIT $" + strconv.Itoa(len(args))
	}

	if query.Offset > 0 {
		args = append(args, query.Offset)
		suffix += " OFFSET $" + strconv.Itoa(len(args))
	}

	return r.selectProcesses(ctx, r.db, where, args, suffix)
}

func (r *ProcessRepository) Exists(ctx context.Context, query persistence.ProcessQuery) (bool, error) {
	where, args := buildWhere(query)

	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM processes p WHERE "+where+")", args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query process existence: %w", err)
	}

	return exists, nil
}

// Transitions returns the history of a process ordered by timestamp ascending.
func (r *ProcessRepository) Transitions(ctx context.Context, publicID uuid.UUID) ([]*models.Transition, error) {
	processID, err := r.processID(ctx, r.db, publicID)
	if err != nil {
		return nil, err
	}

	byProcess, err := r.loadTransitions(ctx, r.db, []int64{processID})
	if err != nil {
		return nil, err
	}

	transitions := byProcess[processID]
	if transitions == nil {
		transitions = make([]*models.Transition, 0)
	}

	return transitions, nil
}

func (r *ProcessRepository) AppendRequest(ctx context.Context, publicID uuid.UUID, request *models.ProcessRequest) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	processID, err := r.processID(ctx, transaction, publicID)
	if err != nil {
		return err
	}

	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}

	err = r.insertRequest(ctx, transaction, processID, request)
	if err != nil {
		return err
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit request: %w", err)
	}

	return nil
}

// SetRequestData upserts one tagged value on a request of the process.
func (r *ProcessRepository) SetRequestData(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO process_request_data (request_id, name, value)
		SELECT r.id, $3, $4
		FROM process_requests r
		JOIN processes p ON p.id = r.process_id
		WHERE r.id = $1 AND p.public_id = $2
		ON CONFLICT (request_id, name) DO UPDATE SET value = EXCLUDED.value
	`, requestID, publicID, name, value)
	if err != nil {
		return fmt.Errorf("failed to set request data: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		_, err := r.processID(ctx, r.db, publicID)
		if err != nil {
			return err
		}

		return persistence.NewProcessError("SetRequestData", publicID, persistence.ErrRequestNotFound)
	}

	return nil
}

// ApplyTransition performs the conditional state change and records it.
// The process row update is the arbiter: concurrent writers expecting the
// same state block on the row lock and then match zero rows.
func (r *ProcessRepository) ApplyTransition(ctx context.Context, command persistence.TransitionCommand) (bool, error) {
	at := command.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	var processID int64

	err = transaction.QueryRowContext(ctx, `
		UPDATE processes
		SET state = $1, updated_at = $2
		WHERE public_id = $3 AND state = $4
		RETURNING id
	`, command.Next, at, command.PublicID, command.Expected).Scan(&processID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to update process state: %w", err)
	}

	if command.RequestID != 0 {
		result, err := transaction.ExecContext(ctx, `
			UPDATE process_requests
			SET state = $1, updated_at = $2
			WHERE id = $3 AND process_id = $4
		`, command.Next, at, command.RequestID, processID)
		if err != nil {
			return false, fmt.Errorf("failed to update request state: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected == 0 {
			return false, persistence.NewProcessError("ApplyTransition", command.PublicID, persistence.ErrRequestNotFound)
		}
	}

	err = r.insertTransition(ctx, transaction, processID, &models.Transition{
		Event:     command.Event,
		UserID:    command.UserID,
		OldState:  command.Expected,
		NewState:  command.Next,
		CreatedAt: at,
	})
	if err != nil {
		return false, err
	}

	err = transaction.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	return true, nil
}

func (r *ProcessRepository) processID(ctx context.Context, q querier, publicID uuid.UUID) (int64, error) {
	var id int64

	err := q.QueryRowContext(ctx, "SELECT id FROM processes WHERE public_id = $1", publicID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, persistence.NewProcessError("ProcessByPublicID", publicID, persistence.ErrProcessNotFound)
	}

	if err != nil {
		return 0, fmt.Errorf("failed to query process id: %w", err)
	}

	return id, nil
}

func (r *ProcessRepository) insertRequest(ctx context.Context, q querier, processID int64, request *models.ProcessRequest) error {
	request.UpdatedAt = request.CreatedAt

	err := q.QueryRowContext(ctx, `
		INSERT INTO process_requests (process_id, user_id, type, state, channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		processID,
		request.UserID,
		request.Type,
		request.State,
		request.Channel,
		request.CreatedAt,
		request.UpdatedAt,
	).Scan(&request.ID)
	if err != nil {
		return fmt.Errorf("failed to insert process request: %w", err)
	}

	for name, value := range request.Data {
		_, err = q.ExecContext(ctx, `
			INSERT INTO process_request_data (request_id, name, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (request_id, name) DO UPDATE SET value = EXCLUDED.value
		`, request.ID, name, value)
		if err != nil {
			return fmt.Errorf("failed to insert request data %s: %w", name, err)
		}
	}

	for _, stakeholder := range request.Stakeholders {
		_, err = q.ExecContext(ctx, `
			INSERT INTO process_stakeholders (request_id, stakeholder_id, type)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, request.ID, stakeholder.StakeholderID, stakeholder.Type)
		if err != nil {
			return fmt.Errorf("failed to insert stakeholder: %w", err)
		}
	}

	return nil
}

func (r *ProcessRepository) insertTransition(ctx context.Context, q querier, processID int64, transition *models.Transition) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO process_transitions (process_id, event, user_id, old_state, new_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		processID,
		transition.Event,
		transition.UserID,
		transition.OldState,
		transition.NewState,
		transition.CreatedAt,
	).Scan(&transition.ID)
	if err != nil {
		return fmt.Errorf("failed to insert process transition: %w", err)
	}

	return nil
}

const (
	newestFirst       = " ORDER BY p.created_at DESC, p.id DESC"
	oldestExpiryFirst = " ORDER BY p.expiry ASC, p.id ASC"
)

func (r *ProcessRepository) selectProcesses(
	ctx context.Context,
	q querier,
	where string,
	args []any,
	suffix string,
) ([]*models.Process, error) {
	query := "SELECT " + processColumns + " FROM processes p WHERE " + where + suffix

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processes: %w", err)
	}

	defer r.closeRows(ctx, rows)

	processes := make([]*models.Process, 0)
	ids := make([]int64, 0)

	for rows.Next() {
		process, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}

		processes = append(processes, process)
		ids = append(ids, process.ID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating processes: %w", err)
	}

	if len(processes) == 0 {
		return processes, nil
	}

	err = r.hydrate(ctx, q, processes, ids)
	if err != nil {
		return nil, err
	}

	return processes, nil
}

func (r *ProcessRepository) hydrate(ctx context.Context, q querier, processes []*models.Process, ids []int64) error {
	requests, err := r.loadRequests(ctx, q, ids)
	if err != nil {
		return err
	}

	transitions, err := r.loadTransitions(ctx, q, ids)
	if err != nil {
		return err
	}

	for _, process := range processes {
		process.Requests = requests[process.ID]
		if process.Requests == nil {
			process.Requests = make([]*models.ProcessRequest, 0)
		}

		process.Transitions = transitions[process.ID]
		if process.Transitions == nil {
			process.Transitions = make([]*models.Transition, 0)
		}
	}

	return nil
}

func (r *ProcessRepository) loadRequests(ctx context.Context, q querier, processIDs []int64) (map[int64][]*models.ProcessRequest, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, process_id, user_id, type, state, channel, created_at, updated_at
		FROM process_requests
		WHERE process_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, pq.Array(processIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query process requests: %w", err)
	}

	defer r.closeRows(ctx, rows)

	byProcess := make(map[int64][]*models.ProcessRequest)
	byID := make(map[int64]*models.ProcessRequest)
	requestIDs := make([]int64, 0)

	for rows.Next() {
		var (
			processID int64
			request   models.ProcessRequest
		)

		err := rows.Scan(
			&request.ID,
			&processID,
			&request.UserID,
			&request.Type,
			&request.State,
			&request.Channel,
			&request.CreatedAt,
			&request.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process request: %w", err)
		}

		request.CreatedAt = request.CreatedAt.UTC()
		request.UpdatedAt = request.UpdatedAt.UTC()
		request.Data = make(map[models.DataName]string)

		byProcess[processID] = append(byProcess[processID], &request)
		byID[request.ID] = &request
		requestIDs = append(requestIDs, request.ID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating process requests: %w", err)
	}

	if len(requestIDs) == 0 {
		return byProcess, nil
	}

	err = r.loadRequestData(ctx, q, requestIDs, byID)
	if err != nil {
		return nil, err
	}

	err = r.loadStakeholders(ctx, q, requestIDs, byID)
	if err != nil {
		return nil, err
	}

	return byProcess, nil
}

func (r *ProcessRepository) loadRequestData(
	ctx context.Context,
	q querier,
	requestIDs []int64,
	requests map[int64]*models.ProcessRequest,
) error {
	rows, err := q.QueryContext(ctx, `
		SELECT request_id, name, value
		FROM process_request_data
		WHERE request_id = ANY($1)
	`, pq.Array(requestIDs))
	if err != nil {
		return fmt.Errorf("failed to query request data: %w", err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var (
			requestID int64
			name      models.DataName
			value     string
		)

		err := rows.Scan(&requestID, &name, &value)
		if err != nil {
			return fmt.Errorf("failed to scan request data: %w", err)
		}

		if request, ok := requests[requestID]; ok {
			request.Data[name] = value
		}
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating request data: %w", err)
	}

	return nil
}

func (r *ProcessRepository) loadStakeholders(
	ctx context.Context,
	q querier,
	requestIDs []int64,
	requests map[int64]*models.ProcessRequest,
) error {
	rows, err := q.QueryContext(ctx, `
		SELECT request_id, stakeholder_id, type
		FROM process_stakeholders
		WHERE request_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(requestIDs))
	if err != nil {
		return fmt.Errorf("failed to query stakeholders: %w", err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var (
			requestID   int64
			stakeholder models.Stakeholder
		)

		err := rows.Scan(&requestID, &stakeholder.StakeholderID, &stakeholder.Type)
		if err != nil {
			return fmt.Errorf("failed to scan stakeholder: %w", err)
		}

		if request, ok := requests[requestID]; ok {
			request.Stakeholders = append(request.Stakeholders, stakeholder)
		}
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating stakeholders: %w", err)
	}

	return nil
}

func (r *ProcessRepository) loadTransitions(ctx context.Context, q querier, processIDs []int64) (map[int64][]*models.Transition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, process_id, event, user_id, old_state, new_state, created_at
		FROM process_transitions
		WHERE process_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, pq.Array(processIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query process transitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	byProcess := make(map[int64][]*models.Transition)

	for rows.Next() {
		var (
			processID  int64
			transition models.Transition
		)

		err := rows.Scan(
			&transition.ID,
			&processID,
			&transition.Event,
			&transition.UserID,
			&transition.OldState,
			&transition.NewState,
			&transition.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process transition: %w", err)
		}

		transition.CreatedAt = transition.CreatedAt.UTC()
		byProcess[processID] = append(byProcess[processID], &transition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating process transitions: %w", err)
	}

	return byProcess, nil
}

func (r *ProcessRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func scanProcess(row scanner) (*models.Process, error) {
	var (
		process             models.Process
		externalReference   sql.NullString
		integratorReference sql.NullString
	)

	err := row.Scan(
		&process.ID,
		&process.PublicID,
		&process.Type,
		&process.Description,
		&process.State,
		&process.Channel,
		&process.Expiry,
		&externalReference,
		&integratorReference,
		&process.CreatedAt,
		&process.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	process.ExternalReference = externalReference.String
	process.IntegratorReference = integratorReference.String
	process.Expiry = process.Expiry.UTC()
	process.CreatedAt = process.CreatedAt.UTC()
	process.UpdatedAt = process.UpdatedAt.UTC()

	return &process, nil
}

// buildWhere renders the query filters as a WHERE clause over processes aliased p.
func buildWhere(query persistence.ProcessQuery) (string, []any) {
	conditions := []string{"TRUE"}
	args := make([]any, 0)

	next := func(value any) string {
		args = append(args, value)

		return "$" + strconv.Itoa(len(args))
	}

	if len(query.Types) > 0 {
		types := make([]string, 0, len(query.Types))
		for _, t := range query.Types {
			types = append(types, string(t))
		}

		conditions = append(conditions, "p.type = ANY("+next(pq.Array(types))+")")
	}

	if query.State != "" {
		conditions = append(conditions, "p.state = "+next(query.State))
	}

	if query.ExternalReference != "" {
		conditions = append(conditions, "p.external_reference = "+next(query.ExternalReference))
	}

	if query.Stakeholder != nil {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM process_requests sr
			JOIN process_stakeholders s ON s.request_id = sr.id
			WHERE sr.process_id = p.id AND s.type = `+next(query.Stakeholder.Type)+
			` AND s.stakeholder_id = `+next(query.Stakeholder.StakeholderID)+`)`)
	}

	if !query.CreatedSince.IsZero() {
		conditions = append(conditions, "p.created_at >= "+next(query.CreatedSince))
	}

	if !query.ActiveSince.IsZero() {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM process_requests ar
			WHERE ar.process_id = p.id AND ar.created_at >= `+next(query.ActiveSince)+`)`)
	}

	if !query.ExpiresAfter.IsZero() {
		conditions = append(conditions, "p.expiry > "+next(query.ExpiresAfter))
	}

	if !query.ExpiredBefore.IsZero() {
		conditions = append(conditions, "p.expiry <= "+next(query.ExpiredBefore))
	}

	return strings.Join(conditions, " AND "), args
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
