package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists payments and their audit trail. There is no delete.
type Repository interface {
	Create(ctx context.Context, p Payment) error
	// FindByID and FindOwned use the default projection, which omits the
	// encrypted account number.
	FindByID(ctx context.Context, id string) (Payment, error)
	FindOwned(ctx context.Context, id, ownerID string) (Payment, error)
	// FindOwnedWithAccount is the privileged read path.
	FindOwnedWithAccount(ctx context.Context, id, ownerID string) (Payment, error)
	// ListByOwner returns the owner's payments newest first, including the
	// encrypted account number.
	ListByOwner(ctx context.Context, ownerID string) ([]Payment, error)
	// UpdateWithAudit persists next and appends entries atomically, provided
	// the stored version still equals expectedVersion. Otherwise it returns
	// ErrVersionConflict and changes nothing.
	UpdateWithAudit(ctx context.Context, next Payment, expectedVersion int64, entries []AuditEntry) error
	Search(ctx context.Context, f SearchFilter) ([]Payment, int, error)
	ListAuthExpired(ctx context.Context, now time.Time, limit int) ([]Payment, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed payment repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const baseColumns = `p.id, p.owner_id, p.amount::text, p.currency, p.provider,
        p.beneficiary_name, p.beneficiary_swift, p.account_last4, p.saved_beneficiary_id,
        p.status, p.auth_token, p.auth_expires_at, p.verified_by, p.verified_at,
        p.submitted_by, p.submitted_at, p.completed_at, p.proof_ref,
        p.version, p.created_at, p.updated_at`

const accountColumn = `, p.beneficiary_account_enc`

// Create inserts the payment and its initial audit entries in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, p Payment) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	owner, err := uuid.Parse(p.OwnerID)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		token, expires := authColumns(p)
		_, err := tx.Exec(ctx, `INSERT INTO payments (id, owner_id, amount, currency, provider,
            beneficiary_name, beneficiary_swift, beneficiary_account_enc, account_last4, saved_beneficiary_id,
            status, auth_token, auth_expires_at, version, created_at, updated_at)
            VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			id, owner, p.Amount.StringFixed(2), p.Currency, p.Provider,
			p.BeneficiaryName, p.BeneficiarySwift, p.BeneficiaryAccountEnc, p.AccountLast4, nullable(p.SavedBeneficiaryID),
			string(p.Status), token, expires, p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return insertAudit(ctx, tx, id, p.Audit)
	})
}

// FindByID fetches a payment without its encrypted account number.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Payment, error) {
	return r.findOne(ctx, false, `p.id = $1`, id)
}

// FindOwned fetches a payment only if it belongs to ownerID.
func (r *PostgresRepository) FindOwned(ctx context.Context, id, ownerID string) (Payment, error) {
	return r.findOne(ctx, false, `p.id = $1 AND p.owner_id = $2`, id, ownerID)
}

// FindOwnedWithAccount is FindOwned including the encrypted account number.
func (r *PostgresRepository) FindOwnedWithAccount(ctx context.Context, id, ownerID string) (Payment, error) {
	return r.findOne(ctx, true, `p.id = $1 AND p.owner_id = $2`, id, ownerID)
}

func (r *PostgresRepository) findOne(ctx context.Context, withAccount bool, where string, ids ...string) (Payment, error) {
	args := make([]any, 0, len(ids))
	for _, raw := range ids {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return Payment{}, ErrNotFound
		}
		args = append(args, parsed)
	}

	cols := baseColumns
	if withAccount {
		cols += accountColumn
	}
	rows, err := r.db.Query(ctx, `SELECT `+cols+` FROM payments p WHERE `+where, args...)
	if err != nil {
		return Payment{}, err
	}
	list, err := collect(rows, withAccount)
	if err != nil {
		return Payment{}, err
	}
	if len(list) == 0 {
		return Payment{}, ErrNotFound
	}
	if err := r.loadAudit(ctx, list); err != nil {
		return Payment{}, err
	}
	return list[0], nil
}

// ListByOwner returns the owner's payments newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]Payment, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+baseColumns+accountColumn+` FROM payments p
        WHERE p.owner_id = $1 ORDER BY p.created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	list, err := collect(rows, true)
	if err != nil {
		return nil, err
	}
	return list, r.loadAudit(ctx, list)
}

// UpdateWithAudit performs a compare-and-swap on version and appends the
// audit entries inside the same transaction.
func (r *PostgresRepository) UpdateWithAudit(ctx context.Context, next Payment, expectedVersion int64, entries []AuditEntry) error {
	id, err := uuid.Parse(next.ID)
	if err != nil {
		return ErrNotFound
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		token, expires := authColumns(next)
		cmd, err := tx.Exec(ctx, `UPDATE payments SET status = $1, auth_token = $2, auth_expires_at = $3,
            verified_by = $4, verified_at = $5, submitted_by = $6, submitted_at = $7,
            completed_at = $8, proof_ref = $9, updated_at = $10, version = version + 1
            WHERE id = $11 AND version = $12`,
			string(next.Status), token, expires,
			nullable(next.VerifiedBy), next.VerifiedAt, nullable(next.SubmittedBy), next.SubmittedAt,
			next.CompletedAt, nullable(next.ProofRef), next.UpdatedAt.UTC(), id, expectedVersion)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return insertAudit(ctx, tx, id, entries)
	})
}

// Search pages through payments matching the filter, joined to their owner
// for free-text matching.
func (r *PostgresRepository) Search(ctx context.Context, f SearchFilter) ([]Payment, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		cond := fmt.Sprintf("p.status = $%d", len(args))
		if f.Status == StatusCreated {
			cond = fmt.Sprintf("(p.status = $%d OR p.status = '%s')", len(args), StatusLegacyPending)
		}
		conds = append(conds, cond)
	}
	if f.Query != "" {
		args = append(args, "%"+escapeLike(f.Query)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(p.beneficiary_swift ILIKE $%d OR u.username ILIKE $%d OR u.full_name ILIKE $%d)", n, n, n))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM payments p JOIN users u ON u.id = p.owner_id `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM payments p JOIN users u ON u.id = p.owner_id %s
        ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`, baseColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := collect(rows, false)
	if err != nil {
		return nil, 0, err
	}
	return list, total, r.loadAudit(ctx, list)
}

// ListAuthExpired returns pending payments whose window lapsed before now.
func (r *PostgresRepository) ListAuthExpired(ctx context.Context, now time.Time, limit int) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+baseColumns+` FROM payments p
        WHERE p.status = $1 AND p.auth_expires_at <= $2 ORDER BY p.auth_expires_at LIMIT $3`,
		string(StatusPendingAuth), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, false)
}

func (r *PostgresRepository) loadAudit(ctx context.Context, list []Payment) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, 0, len(list))
	index := make(map[string]int, len(list))
	for i, p := range list {
		ids = append(ids, p.ID)
		index[p.ID] = i
	}

	rows, err := r.db.Query(ctx, `SELECT payment_id, at, actor_id, action, note FROM payment_audit
        WHERE payment_id = ANY($1::uuid[]) ORDER BY payment_id, id`, ids)
	if err != nil {
		return fmt.Errorf("load audit: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			paymentID uuid.UUID
			actor     *string
			note      *string
			entry     AuditEntry
		)
		if err := rows.Scan(&paymentID, &entry.At, &actor, &entry.Action, &note); err != nil {
			return fmt.Errorf("scan audit: %w", err)
		}
		entry.At = entry.At.UTC()
		entry.ActorID = deref(actor)
		entry.Note = deref(note)
		i := index[paymentID.String()]
		list[i].Audit = append(list[i].Audit, entry)
	}
	return rows.Err()
}

func insertAudit(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, entries []AuditEntry) error {
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `INSERT INTO payment_audit (payment_id, at, actor_id, action, note)
            VALUES ($1, $2, $3, $4, $5)`, paymentID, e.At.UTC(), nullable(e.ActorID), e.Action, nullable(e.Note)); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}
	return nil
}

func collect(rows pgx.Rows, withAccount bool) ([]Payment, error) {
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows, withAccount)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row, withAccount bool) (Payment, error) {
	var (
		id, owner                uuid.UUID
		amount, status           string
		saved, token, verifiedBy *string
		submittedBy, proofRef    *string
		expires                  *time.Time
		p                        Payment
	)
	dest := []any{
		&id, &owner, &amount, &p.Currency, &p.Provider,
		&p.BeneficiaryName, &p.BeneficiarySwift, &p.AccountLast4, &saved,
		&status, &token, &expires, &verifiedBy, &p.VerifiedAt,
		&submittedBy, &p.SubmittedAt, &p.CompletedAt, &proofRef,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	}
	if withAccount {
		dest = append(dest, &p.BeneficiaryAccountEnc)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, fmt.Errorf("decode amount: %w", err)
	}
	p.ID = id.String()
	p.OwnerID = owner.String()
	p.Status = NormalizeStatus(Status(status))
	p.SavedBeneficiaryID = deref(saved)
	p.VerifiedBy = deref(verifiedBy)
	p.SubmittedBy = deref(submittedBy)
	p.ProofRef = deref(proofRef)
	if token != nil && expires != nil {
		p.Auth = &AuthWindow{Token: *token, ExpiresAt: expires.UTC()}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func authColumns(p Payment) (*string, *time.Time) {
	if p.Auth == nil {
		return nil, nil
	}
	expires := p.Auth.ExpiresAt.UTC()
	return &p.Auth.Token, &expires
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
