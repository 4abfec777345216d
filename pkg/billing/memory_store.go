package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of AccountStore,
// TransactionStore and PaymentRefStore for tests and local development.
// It enforces the same version CAS and ledger uniqueness semantics as the
// database-backed stores.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	ledger   map[string]*Transaction // keyed by provider + "\x00" + payment id
	byAcct   map[uuid.UUID][]*Transaction
	refs     map[string]uuid.UUID
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*Account),
		ledger:   make(map[string]*Transaction),
		byAcct:   make(map[uuid.UUID][]*Transaction),
		refs:     make(map[string]uuid.UUID),
	}
}

func ledgerKey(provider Provider, paymentID string) string {
	return string(provider) + "\x00" + paymentID
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByCustomerID(_ context.Context, provider Provider, customerID string) (*Account, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Billing.Provider == provider && a.Billing.CustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *MemoryStore) GetBySubscriptionID(_ context.Context, provider Provider, subscriptionID string) (*Account, error) {
	if subscriptionID == "" {
		return nil, ErrAccountNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Billing.Provider == provider && a.Billing.SubscriptionID == subscriptionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *MemoryStore) Create(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *MemoryStore) Save(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return ErrVersionConflict
	}
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *MemoryStore) ListExpiredTrials(_ context.Context, before time.Time) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, a := range s.accounts {
		if a.Access.Tier == TierTrial && a.Access.Status == StatusActive &&
			a.Access.TrialEndsAt != nil && a.Access.TrialEndsAt.Before(before) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredFixedTerm(_ context.Context, before time.Time) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, a := range s.accounts {
		if a.Access.Status == StatusActive && a.Access.Tier != TierTrial &&
			a.Access.ValidUntil != nil && a.Access.ValidUntil.Before(before) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey(tx.Provider, tx.ExternalPaymentID)
	if _, exists := s.ledger[key]; exists {
		return ErrDuplicateTransaction
	}
	cp := *tx
	s.ledger[key] = &cp
	s.byAcct[tx.AccountID] = append([]*Transaction{&cp}, s.byAcct[tx.AccountID]...)
	return nil
}

func (s *MemoryStore) GetByProviderPaymentID(_ context.Context, provider Provider, paymentID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.ledger[ledgerKey(provider, paymentID)]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.byAcct[accountID]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*Transaction, len(rows))
	for i, tx := range rows {
		cp := *tx
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, ref *PaymentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ledgerKey(ref.Provider, ref.ExternalPaymentID)] = ref.AccountID
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, provider Provider, paymentID string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.refs[ledgerKey(provider, paymentID)]
	if !ok {
		return uuid.Nil, ErrPaymentRefNotFound
	}
	return id, nil
}
