package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// UserDirectory answers whether a user id is still known. The runner fails
// jobs whose owner vanished between submit and pickup.
type UserDirectory struct{ Pool PgxPool }

// NewUserDirectory constructs a UserDirectory with the given pool.
func NewUserDirectory(p PgxPool) *UserDirectory { return &UserDirectory{Pool: p} }

// Exists reports whether the user id has a directory row.
func (r *UserDirectory) Exists(ctx domain.Context, userID string) (bool, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Exists")
	defer span.End()

	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=users.exists: %w", err)
	}
	return exists, nil
}
