package repository

import (
	"context"
	"errors"

	"github.com/oksasatya/go-identity-service/internal/domain/entity"
)

// ErrDuplicateEmail is returned by Save or Update when the storage engine's
// unique constraint on email is violated. The constraint, not the service's
// pre-check, is the source of truth for duplicate detection under
// concurrent registrations.
var ErrDuplicateEmail = errors.New("email already registered")

// UpdatePatch carries the fields an update may change. Nil pointers mean
// "leave as is". Password, when present, is already validated and hashed by
// the application layer.
type UpdatePatch struct {
	Name     *string
	Email    *string
	Password *string
}

// UserRepository is the storage-agnostic port the orchestration depends on.
// Lookups report absence as (nil, nil); errors are reserved for real storage
// failures. Delete reports whether a row was removed.
type UserRepository interface {
	Save(ctx context.Context, u *entity.User) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindAll(ctx context.Context) ([]*entity.User, error)
	Update(ctx context.Context, id string, patch UpdatePatch) (*entity.User, error)
	Delete(ctx context.Context, id string) (bool, error)
}
