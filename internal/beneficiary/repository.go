package beneficiary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists beneficiaries. There is no update; callers replace via
// delete and create.
type Repository interface {
	Create(ctx context.Context, b Beneficiary) error
	FindOwned(ctx context.Context, id, ownerID string) (Beneficiary, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Beneficiary, error)
	Delete(ctx context.Context, id, ownerID string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed beneficiary repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a beneficiary.
func (r *PostgresRepository) Create(ctx context.Context, b Beneficiary) error {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(b.OwnerID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO beneficiaries (id, owner_id, name, account_enc, swift, provider, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, owner, b.Name, b.AccountEnc, b.Swift, b.Provider, b.CreatedAt.UTC())
	return err
}

// FindOwned fetches a beneficiary only if ownerID owns it.
func (r *PostgresRepository) FindOwned(ctx context.Context, id, ownerID string) (Beneficiary, error) {
	bid, oid, ok := parseIDs(id, ownerID)
	if !ok {
		return Beneficiary{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, name, account_enc, swift, provider, created_at
        FROM beneficiaries WHERE id = $1 AND owner_id = $2`, bid, oid)
	b, err := scanBeneficiary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Beneficiary{}, ErrNotFound
	}
	return b, err
}

// ListByOwner returns the owner's beneficiaries newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]Beneficiary, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, owner_id, name, account_enc, swift, provider, created_at
        FROM beneficiaries WHERE owner_id = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes a beneficiary. Ownership is part of the predicate.
func (r *PostgresRepository) Delete(ctx context.Context, id, ownerID string) error {
	bid, oid, ok := parseIDs(id, ownerID)
	if !ok {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM beneficiaries WHERE id = $1 AND owner_id = $2`, bid, oid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func parseIDs(id, ownerID string) (uuid.UUID, uuid.UUID, bool) {
	bid, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	oid, err := uuid.Parse(ownerID)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return bid, oid, true
}

func scanBeneficiary(row pgx.Row) (Beneficiary, error) {
	var (
		id, owner uuid.UUID
		createdAt time.Time
		b         Beneficiary
	)
	if err := row.Scan(&id, &owner, &b.Name, &b.AccountEnc, &b.Swift, &b.Provider, &createdAt); err != nil {
		return Beneficiary{}, err
	}
	b.ID = id.String()
	b.OwnerID = owner.String()
	b.CreatedAt = createdAt.UTC()
	return b, nil
}
