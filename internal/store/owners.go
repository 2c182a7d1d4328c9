package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
)

const ownerColumns = `id, phone_number, timezone, active, created_at`

func (s *Store) CreateOwner(ctx context.Context, phone, timezone string) (*domain.Owner, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	var o domain.Owner
	err := s.pool.QueryRow(ctx, `
		INSERT INTO owners (phone_number, timezone, active)
		VALUES ($1, $2, TRUE)
		RETURNING `+ownerColumns,
		phone, timezone,
	).Scan(&o.ID, &o.PhoneNumber, &o.Timezone, &o.Active, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	return &o, nil
}

// GetOwner returns an active owner or ErrNotFound.
func (s *Store) GetOwner(ctx context.Context, id int64) (*domain.Owner, error) {
	var o domain.Owner
	err := s.pool.QueryRow(ctx, `
		SELECT `+ownerColumns+` FROM owners WHERE id = $1 AND active`, id,
	).Scan(&o.ID, &o.PhoneNumber, &o.Timezone, &o.Active, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err, "owner")
	}
	return &o, nil
}

func (s *Store) GetOwnerByPhone(ctx context.Context, phone string) (*domain.Owner, error) {
	var o domain.Owner
	err := s.pool.QueryRow(ctx, `
		SELECT `+ownerColumns+` FROM owners WHERE phone_number = $1 AND active`, phone,
	).Scan(&o.ID, &o.PhoneNumber, &o.Timezone, &o.Active, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err, "owner")
	}
	return &o, nil
}
