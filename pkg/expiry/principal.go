package expiry

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNoSystemUser = errors.New("system user is not configured")

// SystemPrincipal resolves the user recorded on transitions nobody asked for.
type SystemPrincipal interface {
	SystemUserID(ctx context.Context) (uuid.UUID, error)
}

// StaticPrincipal is a SystemPrincipal with a fixed user.
type StaticPrincipal uuid.UUID

func (p StaticPrincipal) SystemUserID(context.Context) (uuid.UUID, error) {
	if uuid.UUID(p) == uuid.Nil {
		return uuid.Nil, ErrNoSystemUser
	}

	return uuid.UUID(p), nil
}
