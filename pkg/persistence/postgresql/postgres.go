// Package postgresql provides PostgreSQL persistence implementation for processes.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/sovereignrag/process/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	processRepo *ProcessRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	processRepo := NewProcessRepository(database, logger)

	postgres := &Persistence{
		db:          database,
		logger:      logger,
		processRepo: processRepo,
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) CreateProcess(ctx context.Context, process *models.Process) error {
	return p.processRepo.Create(ctx, process)
}

func (p *Persistence) ProcessByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	return p.processRepo.GetByPublicID(ctx, publicID)
}

func (p *Persistence) ProcessByPublicIDAndState(
	ctx context.Context,
	publicID uuid.UUID,
	state models.ProcessState,
) (*models.Process, error) {
	return p.processRepo.GetByPublicIDAndState(ctx, publicID, state)
}

func (p *Persistence) ProcessByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	return p.processRepo.GetByExternalReference(ctx, reference, "")
}

func (p *Persistence) ProcessByExternalReferenceAndState(
	ctx context.Context,
	reference string,
	state models.ProcessState,
) (*models.Process, error) {
	return p.processRepo.GetByExternalReference(ctx, reference, state)
}

func (p *Persistence) FindProcesses(ctx context.Context, query persistence.ProcessQuery) ([]*models.Process, error) {
	return p.processRepo.Find(ctx, query)
}

func (p *Persistence) ProcessExists(ctx context.Context, query persistence.ProcessQuery) (bool, error) {
	return p.processRepo.Exists(ctx, query)
}

func (p *Persistence) Transitions(ctx context.Context, publicID uuid.UUID) ([]*models.Transition, error) {
	return p.processRepo.Transitions(ctx, publicID)
}

func (p *Persistence) AppendRequest(ctx context.Context, publicID uuid.UUID, request *models.ProcessRequest) error {
	return p.processRepo.AppendRequest(ctx, publicID, request)
}

func (p *Persistence) SetRequestData(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	return p.processRepo.SetRequestData(ctx, publicID, requestID, name, value)
}

func (p *Persistence) ApplyTransition(ctx context.Context, command persistence.TransitionCommand) (bool, error) {
	return p.processRepo.ApplyTransition(ctx, command)
}
