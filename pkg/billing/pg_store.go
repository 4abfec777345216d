package billing

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore implements AccountStore, TransactionStore and PaymentRefStore on
// PostgreSQL. The ledger idempotency key is a unique constraint and
// account writes are conditional on the version column.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a store bound to the given pool.
// Call Migrate once at startup before serving traffic.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate applies the embedded schema migrations.
func (s *PGStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

const accountColumns = `id, email, display_name, role, tier, status, trial_ends_at, valid_until, limits,
	provider, customer_id, subscription_id, last_payment_id, last_payment_at,
	has_used_trial, version, created_at, updated_at`

func (s *PGStore) scanAccount(row pgx.Row) (*Account, error) {
	var (
		a         Account
		limitsRaw []byte
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.DisplayName, &a.Role,
		&a.Access.Tier, &a.Access.Status, &a.Access.TrialEndsAt, &a.Access.ValidUntil, &limitsRaw,
		&a.Billing.Provider, &a.Billing.CustomerID, &a.Billing.SubscriptionID,
		&a.Billing.LastPaymentID, &a.Billing.LastPaymentAt,
		&a.HasUsedTrial, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if len(limitsRaw) > 0 {
		if err := json.Unmarshal(limitsRaw, &a.Access.Limits); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM billing_accounts WHERE id = $1`, id)
	return s.scanAccount(row)
}

func (s *PGStore) GetByCustomerID(ctx context.Context, provider Provider, customerID string) (*Account, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM billing_accounts WHERE provider = $1 AND customer_id = $2`,
		provider, customerID)
	return s.scanAccount(row)
}

func (s *PGStore) GetBySubscriptionID(ctx context.Context, provider Provider, subscriptionID string) (*Account, error) {
	if subscriptionID == "" {
		return nil, ErrAccountNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM billing_accounts WHERE provider = $1 AND subscription_id = $2`,
		provider, subscriptionID)
	return s.scanAccount(row)
}

func (s *PGStore) Create(ctx context.Context, account *Account) error {
	limits, err := json.Marshal(account.Access.Limits)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO billing_accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		account.ID, account.Email, account.DisplayName, account.Role,
		account.Access.Tier, account.Access.Status, account.Access.TrialEndsAt, account.Access.ValidUntil, limits,
		account.Billing.Provider, account.Billing.CustomerID, account.Billing.SubscriptionID,
		account.Billing.LastPaymentID, account.Billing.LastPaymentAt,
		account.HasUsedTrial, account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrAccountExists
	}
	return err
}

func (s *PGStore) Save(ctx context.Context, account *Account) error {
	limits, err := json.Marshal(account.Access.Limits)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE billing_accounts SET
			email = $2, display_name = $3, role = $4,
			tier = $5, status = $6, trial_ends_at = $7, valid_until = $8, limits = $9,
			provider = $10, customer_id = $11, subscription_id = $12,
			last_payment_id = $13, last_payment_at = $14,
			has_used_trial = $15, version = version + 1, updated_at = $16
		WHERE id = $1 AND version = $17`,
		account.ID, account.Email, account.DisplayName, account.Role,
		account.Access.Tier, account.Access.Status, account.Access.TrialEndsAt, account.Access.ValidUntil, limits,
		account.Billing.Provider, account.Billing.CustomerID, account.Billing.SubscriptionID,
		account.Billing.LastPaymentID, account.Billing.LastPaymentAt,
		account.HasUsedTrial, now, account.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM billing_accounts WHERE id = $1)`, account.ID,
		).Scan(&exists); err == nil && !exists {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}
	account.Version++
	account.UpdatedAt = now
	return nil
}

func (s *PGStore) ListExpiredTrials(ctx context.Context, before time.Time) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM billing_accounts
		WHERE tier = $1 AND status = $2 AND trial_ends_at < $3`,
		TierTrial, StatusActive, before)
	if err != nil {
		return nil, err
	}
	return s.collectAccounts(rows)
}

func (s *PGStore) ListExpiredFixedTerm(ctx context.Context, before time.Time) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM billing_accounts
		WHERE tier <> $1 AND status = $2 AND valid_until < $3`,
		TierTrial, StatusActive, before)
	if err != nil {
		return nil, err
	}
	return s.collectAccounts(rows)
}

func (s *PGStore) collectAccounts(rows pgx.Rows) ([]*Account, error) {
	defer rows.Close()
	var out []*Account
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *PGStore) Append(ctx context.Context, tx *Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_transactions
			(id, account_id, type, provider, external_payment_id, subscription_id,
			 plan_id, amount, currency, status, method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		tx.ID, tx.AccountID, tx.Type, tx.Provider, tx.ExternalPaymentID, tx.SubscriptionID,
		tx.PlanID, tx.Amount.Amount, tx.Amount.Currency, tx.Status, tx.Method, tx.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicateTransaction
	}
	return err
}

func (s *PGStore) GetByProviderPaymentID(ctx context.Context, provider Provider, paymentID string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, type, provider, external_payment_id, subscription_id,
		       plan_id, amount, currency, status, method, created_at
		FROM billing_transactions
		WHERE provider = $1 AND external_payment_id = $2`,
		provider, paymentID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.Type, &tx.Provider, &tx.ExternalPaymentID, &tx.SubscriptionID,
		&tx.PlanID, &tx.Amount.Amount, &tx.Amount.Currency, &tx.Status, &tx.Method, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *PGStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, provider, external_payment_id, subscription_id,
		       plan_id, amount, currency, status, method, created_at
		FROM billing_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PGStore) Put(ctx context.Context, ref *PaymentRef) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_payment_refs (provider, external_payment_id, account_id, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (provider, external_payment_id) DO NOTHING`,
		ref.Provider, ref.ExternalPaymentID, ref.AccountID, ref.CreatedAt,
	)
	return err
}

func (s *PGStore) Resolve(ctx context.Context, provider Provider, paymentID string) (uuid.UUID, error) {
	var accountID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT account_id FROM billing_payment_refs
		WHERE provider = $1 AND external_payment_id = $2`,
		provider, paymentID,
	).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrPaymentRefNotFound
		}
		return uuid.Nil, err
	}
	return accountID, nil
}
