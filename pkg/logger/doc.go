// Package logger configures structured logging on top of log/slog.
//
// New builds a *slog.Logger from functional options covering format (text or
// JSON), level, static attributes, and ContextExtractor callbacks that copy
// request-scoped values such as request IDs into every record. Environment
// presets pick sensible defaults:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Environment, "billingd"),
//		logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
//
// Attribute constructors in attr.go keep field names consistent across the
// codebase, so a payment can be traced from webhook receipt to ledger append
// by a single key:
//
//	log.InfoContext(ctx, "payment reconciled",
//		logger.Provider(evt.Provider),
//		logger.PaymentID(evt.ExternalPaymentID),
//		logger.AccountID(account.ID),
//	)
//
// Error and Errors return an empty attribute for nil errors, which slog
// drops, so call sites do not need a nil check.
package logger
