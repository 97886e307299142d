package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/models"
	"github.com/sovereignrag/process/pkg/persistence"
)

const DefaultTTL = time.Minute

// Repository serves single-process lookups from the cache and evicts every
// key that can resolve to a process around each write to it. Eviction runs
// before the write and again after it commits, so a reader never observes a
// pre-write snapshot once the write has returned.
//
// A committed write also bumps the generation of every evicted key. Reads
// only fill the cache if the generation they saw before loading is
// unchanged, so a load that raced a write cannot put its snapshot back.
//
// List queries are not cached and go straight to the wrapped store.
type Repository struct {
	persistence.Persistence

	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewRepository(logger *slog.Logger, inner persistence.Persistence, cache Cache, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Repository{
		Persistence: inner,
		cache:       cache,
		ttl:         ttl,
		logger:      logger.With("module", "process_cache"),
	}
}

// Each lookup kind has its own prefix and the state, which never contains a
// colon, precedes the free-form reference, so no two lookups share a key.

func publicIDKey(publicID uuid.UUID) string {
	return "process:id:" + publicID.String()
}

func publicIDStateKey(publicID uuid.UUID, state models.ProcessState) string {
	return "process:id-state:" + string(state) + ":" + publicID.String()
}

func referenceKey(reference string) string {
	return "process:ref:" + reference
}

func referenceStateKey(reference string, state models.ProcessState) string {
	return "process:ref-state:" + string(state) + ":" + reference
}

// Keys lists every cache key that may hold the process.
func Keys(publicID uuid.UUID, reference string) []string {
	keys := []string{publicIDKey(publicID)}
	for _, state := range models.ProcessStates {
		keys = append(keys, publicIDStateKey(publicID, state))
	}

	if reference == "" {
		return keys
	}

	keys = append(keys, referenceKey(reference))
	for _, state := range models.ProcessStates {
		keys = append(keys, referenceStateKey(reference, state))
	}

	return keys
}

func (r *Repository) ProcessByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Process, error) {
	return r.read(ctx, publicIDKey(publicID), func() (*models.Process, error) {
		return r.Persistence.ProcessByPublicID(ctx, publicID)
	})
}

func (r *Repository) ProcessByPublicIDAndState(
	ctx context.Context,
	publicID uuid.UUID,
	state models.ProcessState,
) (*models.Process, error) {
	return r.read(ctx, publicIDStateKey(publicID, state), func() (*models.Process, error) {
		return r.Persistence.ProcessByPublicIDAndState(ctx, publicID, state)
	})
}

func (r *Repository) ProcessByExternalReference(ctx context.Context, reference string) (*models.Process, error) {
	return r.read(ctx, referenceKey(reference), func() (*models.Process, error) {
		return r.Persistence.ProcessByExternalReference(ctx, reference)
	})
}

func (r *Repository) ProcessByExternalReferenceAndState(
	ctx context.Context,
	reference string,
	state models.ProcessState,
) (*models.Process, error) {
	return r.read(ctx, referenceStateKey(reference, state), func() (*models.Process, error) {
		return r.Persistence.ProcessByExternalReferenceAndState(ctx, reference, state)
	})
}

func (r *Repository) CreateProcess(ctx context.Context, process *models.Process) error {
	keys := Keys(process.PublicID, process.ExternalReference)

	return r.write(ctx, keys, func() error {
		return r.Persistence.CreateProcess(ctx, process)
	})
}

func (r *Repository) AppendRequest(ctx context.Context, publicID uuid.UUID, request *models.ProcessRequest) error {
	keys, err := r.keys(ctx, publicID)
	if err != nil {
		return err
	}

	return r.write(ctx, keys, func() error {
		return r.Persistence.AppendRequest(ctx, publicID, request)
	})
}

func (r *Repository) SetRequestData(
	ctx context.Context,
	publicID uuid.UUID,
	requestID int64,
	name models.DataName,
	value string,
) error {
	keys, err := r.keys(ctx, publicID)
	if err != nil {
		return err
	}

	return r.write(ctx, keys, func() error {
		return r.Persistence.SetRequestData(ctx, publicID, requestID, name, value)
	})
}

func (r *Repository) ApplyTransition(ctx context.Context, command persistence.TransitionCommand) (bool, error) {
	keys, err := r.keys(ctx, command.PublicID)
	if err != nil {
		return false, err
	}

	var applied bool

	err = r.write(ctx, keys, func() error {
		var err error

		applied, err = r.Persistence.ApplyTransition(ctx, command)

		return err
	})

	return applied, err
}

func (r *Repository) Close(ctx context.Context) error {
	err := r.cache.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close cache", "error", err)
	}

	return r.Persistence.Close(ctx)
}

// keys resolves the external reference of a process so its reference keys
// can be evicted. The reference never changes, so a cached copy is enough.
func (r *Repository) keys(ctx context.Context, publicID uuid.UUID) ([]string, error) {
	process, err := r.ProcessByPublicID(ctx, publicID)
	if persistence.IsProcessNotFound(err) {
		return Keys(publicID, ""), nil
	}

	if err != nil {
		return nil, err
	}

	return Keys(publicID, process.ExternalReference), nil
}

func (r *Repository) write(ctx context.Context, keys []string, apply func() error) error {
	err := r.cache.Delete(ctx, keys...)
	if err != nil {
		return fmt.Errorf("failed to evict process cache: %w", err)
	}

	writeErr := apply()

	err = r.cache.Bump(ctx, keys...)
	if err != nil {
		writeErr = errors.Join(writeErr, fmt.Errorf("failed to fence process cache: %w", err))
	}

	err = r.cache.Delete(ctx, keys...)
	if err != nil {
		return errors.Join(writeErr, fmt.Errorf("failed to evict process cache: %w", err))
	}

	return writeErr
}

func (r *Repository) read(ctx context.Context, key string, load func() (*models.Process, error)) (*models.Process, error) {
	data, err := r.cache.Get(ctx, key)

	switch {
	case err == nil:
		var process models.Process

		err = json.Unmarshal(data, &process)
		if err == nil {
			return &process, nil
		}

		r.logger.WarnContext(ctx, "Discarding undecodable cache entry", "key", key, "error", err)
	case !errors.Is(err, ErrCacheMiss):
		r.logger.WarnContext(ctx, "Cache read failed, falling back to store", "key", key, "error", err)
	}

	generation, err := r.cache.Generation(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "Cache generation unavailable, not caching", "key", key, "error", err)

		return load()
	}

	process, err := load()
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(process)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to encode process for cache", "key", key, "error", err)

		return process, nil
	}

	stored, err := r.cache.SetIfGeneration(ctx, key, generation, data, r.ttl)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to populate cache", "key", key, "error", err)
	} else if !stored {
		r.logger.DebugContext(ctx, "Skipped cache fill after concurrent write", "key", key)
	}

	return process, nil
}
