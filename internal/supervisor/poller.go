package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
)

// LiveChecker answers liveness questions. chzzk.Client satisfies it.
type LiveChecker interface {
	GetLiveDetail(ctx context.Context, channelID string) (*chzzk.LiveDetail, error)
}

// Poller periodically polls every target channel and hands the results to
// the supervisor in one tick.
type Poller struct {
	client      LiveChecker
	sup         *Supervisor
	channels    []string
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewPoller creates a poller over the given target channels.
func NewPoller(client LiveChecker, sup *Supervisor, channels []string, interval time.Duration, concurrency int) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Poller{
		client:      client,
		sup:         sup,
		channels:    channels,
		interval:    interval,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (p *Poller) WithLogger(logger *slog.Logger) *Poller {
	p.logger = logger
	return p
}

// Run polls until ctx is cancelled. The first tick fires immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		results := p.pollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.sup.Tick(ctx, results)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce queries all channels with bounded concurrency. Order does not
// matter; each channel gets exactly one result.
func (p *Poller) pollOnce(ctx context.Context) map[string]PollResult {
	results := make(map[string]PollResult, len(p.channels))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.concurrency)
	)

	for _, ch := range p.channels {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				results[channelID] = PollResult{Err: ctx.Err()}
				mu.Unlock()
				return
			}

			detail, err := p.client.GetLiveDetail(ctx, channelID)
			if err != nil {
				p.logger.Warn("liveness poll failed",
					slog.String("channel_id", channelID),
					slog.String("error", err.Error()),
				)
			}

			mu.Lock()
			results[channelID] = PollResult{Detail: detail, Err: err}
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	return results
}
