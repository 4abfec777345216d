package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lock"
)

// defaultSchedule runs the sweep at the top of every hour.
const defaultSchedule = "0 * * * *"

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron expression.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper expires trials and fixed-term access on a schedule.
type Sweeper struct {
	accounts billing.AccountStore
	locker   lock.Locker
	auditor  audit.Logger
	log      *slog.Logger
	schedule string
	now      func() time.Time
	cron     *cron.Cron
}

// New creates a Sweeper. Call Start to begin the schedule.
func New(accounts billing.AccountStore, locker lock.Locker, auditor audit.Logger, log *slog.Logger, opts ...Option) *Sweeper {
	if accounts == nil || locker == nil || auditor == nil {
		panic("sweep: all dependencies are required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		accounts: accounts,
		locker:   locker,
		auditor:  auditor,
		log:      log,
		schedule: defaultSchedule,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the schedule and runs the cron loop until ctx is
// canceled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Run(ctx); err != nil {
			s.log.ErrorContext(ctx, "access expiry sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// Run performs one sweep pass. Exported so operators can trigger it out
// of schedule.
func (s *Sweeper) Run(ctx context.Context) error {
	now := s.now().UTC()

	trials, err := s.accounts.ListExpiredTrials(ctx, now)
	if err != nil {
		return err
	}
	fixed, err := s.accounts.ListExpiredFixedTerm(ctx, now)
	if err != nil {
		return err
	}

	var errs []error
	for _, account := range trials {
		if err := s.expire(ctx, account.ID, "trial_expired"); err != nil {
			errs = append(errs, err)
		}
	}
	for _, account := range fixed {
		if err := s.expire(ctx, account.ID, "fixed_term_expired"); err != nil {
			errs = append(errs, err)
		}
	}

	if n := len(trials) + len(fixed); n > 0 {
		s.log.InfoContext(ctx, "access expiry sweep completed",
			slog.Int("expired_trials", len(trials)),
			slog.Int("expired_fixed_term", len(fixed)),
			slog.Int("failures", len(errs)))
	}
	return errors.Join(errs...)
}

// expire moves one account to CANCELED under the same per-account lock
// the reconciler uses, re-reading state so a payment that landed between
// listing and locking is respected.
func (s *Sweeper) expire(ctx context.Context, accountID uuid.UUID, action string) error {
	release, err := s.locker.Acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return err
	}
	defer release()

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	stillExpired := (account.Access.Tier == billing.TierTrial && account.IsTrialExpiredAt(now)) ||
		account.IsFixedTermExpiredAt(now)
	if account.Access.Status != billing.StatusActive || !stillExpired {
		return nil
	}

	before := account.Access.Status
	account.Access.Status = billing.StatusCanceled

	if err := s.accounts.Save(ctx, account); err != nil {
		if errors.Is(err, billing.ErrVersionConflict) {
			// A concurrent writer moved the account; the next pass will
			// re-evaluate it.
			return nil
		}
		return err
	}

	return s.auditor.Record(ctx, audit.ActorSystem, action,
		account.ID, string(before), string(billing.StatusCanceled))
}
