package gate

import (
	"context"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type accountCtxKey struct{}

// SetAccountToContext stores the loaded account for downstream handlers.
func SetAccountToContext(ctx context.Context, account *billing.Account) context.Context {
	return context.WithValue(ctx, accountCtxKey{}, account)
}

// GetAccountFromContext retrieves the account placed by the middleware.
func GetAccountFromContext(ctx context.Context) (*billing.Account, bool) {
	account, ok := ctx.Value(accountCtxKey{}).(*billing.Account)
	return account, ok
}
