package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// LoginFunc produces a fresh cookie set, typically by driving an external
// browser login. It is supplied by the embedding application; this package
// only schedules and applies the result.
type LoginFunc func(ctx context.Context) (Cookies, error)

// Refresher swaps the session cookies on a fixed hours-of-day schedule.
// Active recordings are never touched: new headers simply take effect on
// each worker's next HTTP request.
type Refresher struct {
	mu sync.Mutex

	store  *Store
	login  LoginFunc
	hours  []int
	logger *slog.Logger

	cron      *cron.Cron
	lastFired map[int]time.Time // hour → day it last fired
	lastOK    time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRefresher creates a refresher that fires at minute 0 of each of the
// given local wall-clock hours.
func NewRefresher(store *Store, login LoginFunc, hours []int) *Refresher {
	return &Refresher{
		store:     store,
		login:     login,
		hours:     hours,
		logger:    slog.Default(),
		lastFired: make(map[int]time.Time),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (r *Refresher) WithLogger(logger *slog.Logger) *Refresher {
	r.logger = logger
	return r
}

// Start registers the cron entries and begins the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("refresher already started")
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	for _, hour := range r.hours {
		h := hour
		spec := fmt.Sprintf("0 0 %d * * *", h)
		if _, err := c.AddFunc(spec, func() { r.fire(ctx, h) }); err != nil {
			return fmt.Errorf("scheduling refresh at hour %d: %w", h, err)
		}
	}

	c.Start()
	r.cron = c

	r.logger.Info("session refresher started", slog.Any("hours", r.hours))
	return nil
}

// Stop halts the schedule. Safe to call when never started.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

// LastRefresh returns the time of the last successful refresh, zero if none.
func (r *Refresher) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOK
}

// RefreshNow runs one refresh immediately, outside the schedule.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	cookies, err := r.login(ctx)
	if err != nil {
		return fmt.Errorf("session login: %w", err)
	}

	r.store.Replace(cookies)

	r.mu.Lock()
	r.lastOK = r.now()
	r.mu.Unlock()

	r.logger.Info("session refreshed", slog.Int("cookie_count", len(cookies)))
	return nil
}

// fire runs a scheduled refresh for one configured hour, at most once per day.
func (r *Refresher) fire(ctx context.Context, hour int) {
	now := r.now()

	r.mu.Lock()
	if last, ok := r.lastFired[hour]; ok && sameDay(last, now) {
		r.mu.Unlock()
		return
	}
	r.lastFired[hour] = now
	r.mu.Unlock()

	if err := r.RefreshNow(ctx); err != nil {
		r.logger.Error("scheduled session refresh failed",
			slog.Int("hour", hour),
			slog.String("error", err.Error()),
		)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
