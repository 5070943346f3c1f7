package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the actor does not exist.
	ErrNotFound = errors.New("actor not found")
	// ErrExists indicates the username is already taken.
	ErrExists = errors.New("actor exists")
)

// Repository persists actors.
type Repository interface {
	Create(ctx context.Context, actor Actor) error
	FindByID(ctx context.Context, id string) (Actor, error)
	FindByUsername(ctx context.Context, username string) (Actor, error)
	List(ctx context.Context) ([]Actor, error)
	SetApprovalPIN(ctx context.Context, id string, hash []byte) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const actorColumns = `id, username, full_name, role, disabled, approval_pin_hash, created_at`

// Create inserts a new actor.
func (r *PostgresRepository) Create(ctx context.Context, actor Actor) error {
	actorID, err := uuid.Parse(actor.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (`+actorColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		actorID, actor.Username, actor.FullName, string(actor.Role), actor.Disabled, actor.ApprovalPINHash, actor.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

// FindByID fetches an actor by id. Malformed ids are reported as not found.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Actor, error) {
	actorID, err := uuid.Parse(id)
	if err != nil {
		return Actor{}, ErrNotFound
	}
	return scanActor(r.db.QueryRow(ctx, `SELECT `+actorColumns+` FROM users WHERE id = $1`, actorID))
}

// FindByUsername fetches an actor by username.
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (Actor, error) {
	return scanActor(r.db.QueryRow(ctx, `SELECT `+actorColumns+` FROM users WHERE username = $1`, username))
}

// List returns all actors, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]Actor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+actorColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

// SetApprovalPIN stores the bcrypt hash of an actor's approval PIN.
func (r *PostgresRepository) SetApprovalPIN(ctx context.Context, id string, hash []byte) error {
	return r.exec(ctx, `UPDATE users SET approval_pin_hash = $1 WHERE id = $2`, id, hash)
}

// SetDisabled toggles the disabled flag.
func (r *PostgresRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.exec(ctx, `UPDATE users SET disabled = $1 WHERE id = $2`, id, disabled)
}

func (r *PostgresRepository) exec(ctx context.Context, sql, id string, value any) error {
	actorID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, sql, value, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanActor(row pgx.Row) (Actor, error) {
	var (
		id        uuid.UUID
		role      string
		createdAt time.Time
		actor     Actor
	)
	if err := row.Scan(&id, &actor.Username, &actor.FullName, &role, &actor.Disabled, &actor.ApprovalPINHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrNotFound
		}
		return Actor{}, fmt.Errorf("scan actor: %w", err)
	}
	actor.ID = id.String()
	actor.Role = Role(role)
	actor.CreatedAt = createdAt.UTC()
	return actor, nil
}
