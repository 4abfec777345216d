package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	accountsCollection     = "billing_accounts"
	transactionsCollection = "billing_transactions"
	paymentRefsCollection  = "billing_payment_refs"
)

// MongoStore implements AccountStore, TransactionStore and PaymentRefStore
// on MongoDB. Account writes are conditional on the version field; ledger
// uniqueness is enforced by a unique compound index so racing duplicate
// webhook deliveries cannot produce two rows.
type MongoStore struct {
	accounts *mongo.Collection
	ledger   *mongo.Collection
	refs     *mongo.Collection
}

// NewMongoStore returns a store bound to the given database.
// Call EnsureIndexes once at startup before serving traffic.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		accounts: db.Collection(accountsCollection),
		ledger:   db.Collection(transactionsCollection),
		refs:     db.Collection(paymentRefsCollection),
	}
}

// EnsureIndexes creates the indexes the stores rely on:
// the ledger idempotency key, account provider-id lookups and the
// reporting indexes on the ledger.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.ledger.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "external_payment_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "billing.provider", Value: 1}, {Key: "billing.customer_id", Value: 1}}},
		{Keys: bson.D{{Key: "billing.provider", Value: 1}, {Key: "billing.subscription_id", Value: 1}}},
		{Keys: bson.D{{Key: "access.tier", Value: 1}, {Key: "access.status", Value: 1}, {Key: "access.trial_ends_at", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.refs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "external_payment_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type accountDoc struct {
	ID           string      `bson:"_id"`
	Email        string      `bson:"email"`
	DisplayName  string      `bson:"display_name,omitempty"`
	Role         Role        `bson:"role"`
	Access       Access      `bson:"access"`
	Billing      BillingInfo `bson:"billing"`
	HasUsedTrial bool        `bson:"has_used_trial"`
	Version      int64       `bson:"version"`
	CreatedAt    time.Time   `bson:"created_at"`
	UpdatedAt    time.Time   `bson:"updated_at"`
}

func toAccountDoc(a *Account) accountDoc {
	return accountDoc{
		ID:           a.ID.String(),
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		Role:         a.Role,
		Access:       a.Access,
		Billing:      a.Billing,
		HasUsedTrial: a.HasUsedTrial,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func (d accountDoc) toAccount() (*Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:           id,
		Email:        d.Email,
		DisplayName:  d.DisplayName,
		Role:         d.Role,
		Access:       d.Access,
		Billing:      d.Billing,
		HasUsedTrial: d.HasUsedTrial,
		Version:      d.Version,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.findAccount(ctx, bson.M{"_id": id.String()})
}

func (s *MongoStore) GetByCustomerID(ctx context.Context, provider Provider, customerID string) (*Account, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	return s.findAccount(ctx, bson.M{
		"billing.provider":    provider,
		"billing.customer_id": customerID,
	})
}

func (s *MongoStore) GetBySubscriptionID(ctx context.Context, provider Provider, subscriptionID string) (*Account, error) {
	if subscriptionID == "" {
		return nil, ErrAccountNotFound
	}
	return s.findAccount(ctx, bson.M{
		"billing.provider":        provider,
		"billing.subscription_id": subscriptionID,
	})
}

func (s *MongoStore) findAccount(ctx context.Context, filter bson.M) (*Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return doc.toAccount()
}

func (s *MongoStore) Create(ctx context.Context, account *Account) error {
	if _, err := s.accounts.InsertOne(ctx, toAccountDoc(account)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, account *Account) error {
	doc := toAccountDoc(account)
	doc.UpdatedAt = time.Now().UTC()

	// Conditional write on the version read by the caller. A concurrent
	// writer bumps the version first and this update matches nothing.
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "version": account.Version},
		bson.M{
			"$set": bson.M{
				"email":          doc.Email,
				"display_name":   doc.DisplayName,
				"role":           doc.Role,
				"access":         doc.Access,
				"billing":        doc.Billing,
				"has_used_trial": doc.HasUsedTrial,
				"updated_at":     doc.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing account from a stale version.
		if count, cerr := s.accounts.CountDocuments(ctx, bson.M{"_id": doc.ID}); cerr == nil && count == 0 {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}
	account.Version++
	account.UpdatedAt = doc.UpdatedAt
	return nil
}

func (s *MongoStore) ListExpiredTrials(ctx context.Context, before time.Time) ([]*Account, error) {
	return s.listAccounts(ctx, bson.M{
		"access.tier":          TierTrial,
		"access.status":        StatusActive,
		"access.trial_ends_at": bson.M{"$lt": before},
	})
}

func (s *MongoStore) ListExpiredFixedTerm(ctx context.Context, before time.Time) ([]*Account, error) {
	return s.listAccounts(ctx, bson.M{
		"access.tier":        bson.M{"$ne": TierTrial},
		"access.status":      StatusActive,
		"access.valid_until": bson.M{"$lt": before},
	})
}

func (s *MongoStore) listAccounts(ctx context.Context, filter bson.M) ([]*Account, error) {
	cursor, err := s.accounts.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Account
	for cursor.Next(ctx) {
		var doc accountDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		account, err := doc.toAccount()
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, cursor.Err()
}

type transactionDoc struct {
	ID                string          `bson:"_id"`
	AccountID         string          `bson:"account_id"`
	Type              TransactionType `bson:"type"`
	Provider          Provider        `bson:"provider"`
	ExternalPaymentID string          `bson:"external_payment_id"`
	SubscriptionID    string          `bson:"subscription_id,omitempty"`
	PlanID            string          `bson:"plan_id"`
	Amount            Money           `bson:"amount"`
	Status            string          `bson:"status"`
	Method            PaymentMethod   `bson:"method"`
	CreatedAt         time.Time       `bson:"created_at"`
}

func (s *MongoStore) Append(ctx context.Context, tx *Transaction) error {
	doc := transactionDoc{
		ID:                tx.ID,
		AccountID:         tx.AccountID.String(),
		Type:              tx.Type,
		Provider:          tx.Provider,
		ExternalPaymentID: tx.ExternalPaymentID,
		SubscriptionID:    tx.SubscriptionID,
		PlanID:            tx.PlanID,
		Amount:            tx.Amount,
		Status:            tx.Status,
		Method:            tx.Method,
		CreatedAt:         tx.CreatedAt,
	}
	if _, err := s.ledger.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (s *MongoStore) GetByProviderPaymentID(ctx context.Context, provider Provider, paymentID string) (*Transaction, error) {
	var doc transactionDoc
	err := s.ledger.FindOne(ctx, bson.M{
		"provider":            provider,
		"external_payment_id": paymentID,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return doc.toTransaction()
}

func (d transactionDoc) toTransaction() (*Transaction, error) {
	accountID, err := uuid.Parse(d.AccountID)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:                d.ID,
		AccountID:         accountID,
		Type:              d.Type,
		Provider:          d.Provider,
		ExternalPaymentID: d.ExternalPaymentID,
		SubscriptionID:    d.SubscriptionID,
		PlanID:            d.PlanID,
		Amount:            d.Amount,
		Status:            d.Status,
		Method:            d.Method,
		CreatedAt:         d.CreatedAt,
	}, nil
}

func (s *MongoStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.ledger.Find(ctx, bson.M{"account_id": accountID.String()}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Transaction
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		tx, err := doc.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, cursor.Err()
}

func (s *MongoStore) Put(ctx context.Context, ref *PaymentRef) error {
	_, err := s.refs.UpdateOne(ctx,
		bson.M{"provider": ref.Provider, "external_payment_id": ref.ExternalPaymentID},
		bson.M{"$setOnInsert": bson.M{
			"provider":            ref.Provider,
			"external_payment_id": ref.ExternalPaymentID,
			"account_id":          ref.AccountID.String(),
			"created_at":          ref.CreatedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) Resolve(ctx context.Context, provider Provider, paymentID string) (uuid.UUID, error) {
	var doc struct {
		AccountID string `bson:"account_id"`
	}
	err := s.refs.FindOne(ctx, bson.M{
		"provider":            provider,
		"external_payment_id": paymentID,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return uuid.Nil, ErrPaymentRefNotFound
		}
		return uuid.Nil, err
	}
	return uuid.Parse(doc.AccountID)
}
