// Package supervisor owns the per-channel recording lifecycle.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
	"github.com/Vueroeruco/chzzk-recorder/internal/history"
	"github.com/Vueroeruco/chzzk-recorder/internal/recorder"
)

// Worker is a running recording. recorder.Downloader satisfies it.
type Worker interface {
	Run(ctx context.Context) error
	BytesWritten() int64
	OutputPath() string
}

// WorkerFactory builds a worker for one live session.
type WorkerFactory func(detail chzzk.LiveDetail) Worker

// Journal records recording lifecycles. history.Store satisfies it.
type Journal interface {
	RecordStart(ctx context.Context, rec *history.Recording) error
	RecordEnd(ctx context.Context, id string, endedAt time.Time, bytes int64, reason string) error
}

// PollResult is one channel's outcome for a tick. A nil Detail with a nil
// Err is a confirmed offline; a non-nil Err means the poll was inconclusive
// and existing recordings must not be stopped.
type PollResult struct {
	Detail *chzzk.LiveDetail
	Err    error
}

// RecordingStatus is a read-only view of one active recording.
type RecordingStatus struct {
	ChannelID    string    `json:"channel_id"`
	ChannelName  string    `json:"channel_name"`
	Title        string    `json:"title"`
	OutputPath   string    `json:"output_path"`
	StartedAt    time.Time `json:"started_at"`
	BytesWritten int64     `json:"bytes_written"`
}

// Options configures a Supervisor.
type Options struct {
	// StallRestart is how long a recording may go without output growth
	// before it is killed and restarted.
	StallRestart time.Duration

	// StopGrace bounds how long a cancelled worker is waited for.
	StopGrace time.Duration

	Journal   Journal
	Logger    *slog.Logger
	NewWorker WorkerFactory

	now func() time.Time
}

// handle is one active recording. At most one exists per channel.
type handle struct {
	detail    chzzk.LiveDetail
	worker    Worker
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error // valid once done is closed
	historyID string
	startedAt time.Time

	lastObservedSize int64
	lastGrowthAt     time.Time

	// stopReason is set by the supervisor before cancelling, so reap can
	// tell an ordered stop from a worker that died on its own.
	stopReason string
}

// Supervisor drives start/stop/restart decisions per channel. All mutation
// happens on the coordinator goroutine that calls Tick; Status is the only
// method safe to call from elsewhere.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	handles map[string]*handle

	mu sync.Mutex // guards handles for Status readers
}

// New creates a supervisor.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StallRestart <= 0 {
		opts.StallRestart = 3 * time.Minute
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger,
		handles: make(map[string]*handle),
	}
}

// Tick reconciles the recording map against one round of poll results.
// Workers cancelled during the tick are waited for after the lock is
// released, so Status stays responsive through the grace period.
func (s *Supervisor) Tick(ctx context.Context, results map[string]PollResult) {
	now := s.opts.now()

	s.mu.Lock()
	s.reap(ctx, now)
	stopping := s.checkStalls(now)
	stopping = append(stopping, s.stopStale(results)...)
	s.startNew(ctx, results, now)
	s.logStatus()
	s.mu.Unlock()

	for _, h := range stopping {
		s.awaitStop(ctx, h, now)
	}
}

// reap removes entries whose worker has already exited.
func (s *Supervisor) reap(ctx context.Context, now time.Time) {
	for ch, h := range s.handles {
		select {
		case <-h.done:
		default:
			continue
		}

		reason := h.stopReason
		if reason == "" {
			switch {
			case h.runErr == nil:
				// Playlist ended on its own.
				reason = history.EndOffline
			case errors.Is(h.runErr, recorder.ErrAuthRejected):
				reason = history.EndAuth
			default:
				reason = history.EndDied
			}
		}

		if h.runErr != nil {
			s.logger.Warn("recording worker exited",
				slog.String("channel_id", ch),
				slog.String("reason", reason),
				slog.String("error", h.runErr.Error()),
			)
		}
		s.finish(ctx, h, now, reason)
		delete(s.handles, ch)
	}
}

// checkStalls cancels recordings whose output stopped growing. Returned
// handles still need awaitStop.
func (s *Supervisor) checkStalls(now time.Time) []*handle {
	var stopping []*handle
	for ch, h := range s.handles {
		size := h.worker.BytesWritten()
		if size > h.lastObservedSize {
			h.lastObservedSize = size
			h.lastGrowthAt = now
			continue
		}
		if now.Sub(h.lastGrowthAt) < s.opts.StallRestart {
			continue
		}

		s.logger.Warn("recording stalled, restarting",
			slog.String("channel_id", ch),
			slog.Duration("idle", now.Sub(h.lastGrowthAt)),
		)
		h.stopReason = history.EndStall
		h.cancel()
		delete(s.handles, ch)
		stopping = append(stopping, h)
	}
	return stopping
}

// stopStale cancels recordings for channels confirmed offline. An errored
// poll leaves the recording untouched. Returned handles still need awaitStop.
func (s *Supervisor) stopStale(results map[string]PollResult) []*handle {
	var stopping []*handle
	for ch, h := range s.handles {
		r, polled := results[ch]
		if !polled || r.Err != nil || r.Detail != nil {
			continue
		}

		s.logger.Info("channel offline, stopping recording", slog.String("channel_id", ch))
		h.stopReason = history.EndOffline
		h.cancel()
		delete(s.handles, ch)
		stopping = append(stopping, h)
	}
	return stopping
}

// startNew spawns workers for live channels without one.
func (s *Supervisor) startNew(ctx context.Context, results map[string]PollResult, now time.Time) {
	for ch, r := range results {
		if r.Detail == nil {
			continue
		}
		if _, exists := s.handles[ch]; exists {
			continue
		}

		worker := s.opts.NewWorker(*r.Detail)
		workerCtx, cancel := context.WithCancel(context.Background())

		h := &handle{
			detail:       *r.Detail,
			worker:       worker,
			cancel:       cancel,
			done:         make(chan struct{}),
			startedAt:    now,
			lastGrowthAt: now,
		}

		if s.opts.Journal != nil {
			rec := &history.Recording{
				ChannelID:   r.Detail.ChannelID,
				ChannelName: r.Detail.ChannelName,
				Title:       r.Detail.LiveTitle,
				VideoID:     r.Detail.VideoID,
				OutputPath:  worker.OutputPath(),
				StartedAt:   now,
			}
			if err := s.opts.Journal.RecordStart(ctx, rec); err != nil {
				s.logger.Error("recording journal insert failed", slog.String("error", err.Error()))
			} else {
				h.historyID = rec.ID
			}
		}

		go func() {
			h.runErr = worker.Run(workerCtx)
			close(h.done)
		}()

		s.handles[ch] = h
		s.logger.Info("recording started",
			slog.String("channel_id", ch),
			slog.String("channel_name", r.Detail.ChannelName),
			slog.String("output", worker.OutputPath()),
		)
	}
}

// awaitStop waits briefly for a cancelled worker to finalize its file, then
// closes the journal entry. Runs without s.mu held.
func (s *Supervisor) awaitStop(ctx context.Context, h *handle, now time.Time) {
	select {
	case <-h.done:
	case <-time.After(s.opts.StopGrace):
		s.logger.Warn("worker did not stop within grace",
			slog.String("channel_id", h.detail.ChannelID),
		)
	}

	s.finish(ctx, h, now, h.stopReason)
}

// finish closes the journal entry for a recording.
func (s *Supervisor) finish(ctx context.Context, h *handle, now time.Time, reason string) {
	if s.opts.Journal == nil || h.historyID == "" {
		return
	}
	err := s.opts.Journal.RecordEnd(ctx, h.historyID, now, h.worker.BytesWritten(), reason)
	if err != nil {
		s.logger.Error("recording journal close failed", slog.String("error", err.Error()))
	}
}

// StopAll cancels every worker, used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	now := s.opts.now()

	s.mu.Lock()
	stopping := make([]*handle, 0, len(s.handles))
	for ch, h := range s.handles {
		h.stopReason = history.EndShutdown
		h.cancel()
		delete(s.handles, ch)
		stopping = append(stopping, h)
	}
	s.mu.Unlock()

	for _, h := range stopping {
		s.awaitStop(ctx, h, now)
	}
}

// Status lists active recordings, sorted by channel id.
func (s *Supervisor) Status() []RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RecordingStatus, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, RecordingStatus{
			ChannelID:    h.detail.ChannelID,
			ChannelName:  h.detail.ChannelName,
			Title:        h.detail.LiveTitle,
			OutputPath:   h.worker.OutputPath(),
			StartedAt:    h.startedAt,
			BytesWritten: h.worker.BytesWritten(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// logStatus emits the per-tick one-line summary.
func (s *Supervisor) logStatus() {
	if len(s.handles) == 0 {
		s.logger.Debug("no active recordings")
		return
	}
	names := make([]string, 0, len(s.handles))
	for _, h := range s.handles {
		name := h.detail.ChannelName
		if name == "" {
			name = h.detail.ChannelID
		}
		names = append(names, name)
	}
	sort.Strings(names)
	s.logger.Info("recording", slog.String("channels", strings.Join(names, ", ")))
}
