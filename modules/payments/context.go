package payments

import (
	"context"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

func contextWithAccount(ctx context.Context, account *billing.Account) context.Context {
	return context.WithValue(ctx, accountCtxKey{}, account)
}

// accountFromRequest returns the account placed by withAccount. Routes
// behind the middleware always have one.
func accountFromRequest(r *http.Request) *billing.Account {
	account, _ := r.Context().Value(accountCtxKey{}).(*billing.Account)
	return account
}
