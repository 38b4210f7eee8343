package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
	"github.com/Vueroeruco/chzzk-recorder/internal/history"
	"github.com/Vueroeruco/chzzk-recorder/internal/recorder"
)

// fakeWorker is a controllable Worker.
type fakeWorker struct {
	output       string
	bytes        atomic.Int64
	exit         chan error
	ignoreCancel bool
}

func newFakeWorker(output string) *fakeWorker {
	return &fakeWorker{output: output, exit: make(chan error, 1)}
}

func (w *fakeWorker) Run(ctx context.Context) error {
	if w.ignoreCancel {
		return <-w.exit
	}
	select {
	case err := <-w.exit:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (w *fakeWorker) BytesWritten() int64 { return w.bytes.Load() }
func (w *fakeWorker) OutputPath() string  { return w.output }

// testRig wires a supervisor with a fake clock and worker factory.
type testRig struct {
	sup      *Supervisor
	now      time.Time
	workers  []*fakeWorker
	started  atomic.Int32
	stubborn bool // new workers ignore cancellation
}

func newTestRig(t *testing.T, journal Journal) *testRig {
	t.Helper()

	rig := &testRig{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	rig.sup = New(Options{
		StallRestart: 3 * time.Minute,
		StopGrace:    2 * time.Second,
		Journal:      journal,
		NewWorker: func(detail chzzk.LiveDetail) Worker {
			w := newFakeWorker("/rec/" + detail.ChannelID + ".ts")
			w.ignoreCancel = rig.stubborn
			rig.workers = append(rig.workers, w)
			rig.started.Add(1)
			return w
		},
		now: func() time.Time { return rig.now },
	})
	return rig
}

func (r *testRig) advance(d time.Duration) { r.now = r.now.Add(d) }

func live(id string) PollResult {
	return PollResult{Detail: &chzzk.LiveDetail{
		ChannelID:         id,
		ChannelName:       "name-" + id,
		LiveTitle:         "title",
		MasterPlaylistURL: "https://cdn.example/" + id + ".m3u8",
	}}
}

func offline() PollResult { return PollResult{} }

func errored() PollResult { return PollResult{Err: errors.New("api flake")} }

// waitReaped spins ticks until the map settles at the wanted size.
func waitReaped(t *testing.T, rig *testRig, results map[string]PollResult, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rig.sup.Tick(context.Background(), results)
		return len(rig.sup.Status()) == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTick_StartsOneWorkerPerChannel(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	require.Len(t, rig.sup.Status(), 1)

	// A second live tick keeps the same worker.
	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	assert.Len(t, rig.sup.Status(), 1)
	assert.Equal(t, int32(1), rig.started.Load())

	rig.sup.StopAll(ctx)
}

func TestTick_TwoChannelsIndependent(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1"), "c2": live("c2")})
	st := rig.sup.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "c1", st[0].ChannelID)
	assert.Equal(t, "c2", st[1].ChannelID)
	assert.NotEqual(t, st[0].OutputPath, st[1].OutputPath)

	// Stopping c1 leaves c2 untouched.
	rig.sup.Tick(ctx, map[string]PollResult{"c1": offline(), "c2": live("c2")})
	st = rig.sup.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "c2", st[0].ChannelID)

	rig.sup.StopAll(ctx)
}

func TestTick_ConfirmedOfflineStops(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	require.Len(t, rig.sup.Status(), 1)

	rig.sup.Tick(ctx, map[string]PollResult{"c1": offline()})
	assert.Empty(t, rig.sup.Status())
}

func TestTick_ErroredPollDoesNotStop(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	require.Len(t, rig.sup.Status(), 1)

	// API flake: the recording survives the tick.
	rig.advance(30 * time.Second)
	rig.workers[0].bytes.Add(1024)
	rig.sup.Tick(ctx, map[string]PollResult{"c1": errored()})
	assert.Len(t, rig.sup.Status(), 1)
	assert.Equal(t, int32(1), rig.started.Load(), "no restart on the errored tick")

	// Next successful tick keeps it running.
	rig.advance(30 * time.Second)
	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	assert.Len(t, rig.sup.Status(), 1)
	assert.Equal(t, int32(1), rig.started.Load())

	rig.sup.StopAll(ctx)
}

func TestTick_StallKillsAndRestarts(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	require.Len(t, rig.sup.Status(), 1)

	// Growth at first, then none.
	rig.advance(time.Minute)
	rig.workers[0].bytes.Add(4096)
	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	assert.Equal(t, int32(1), rig.started.Load())

	// Idle past the threshold: same tick kills and restarts.
	rig.advance(4 * time.Minute)
	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	assert.Len(t, rig.sup.Status(), 1)
	assert.Equal(t, int32(2), rig.started.Load())

	rig.sup.StopAll(ctx)
}

func TestTick_DeadWorkerReapedAndRestarted(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	rig.workers[0].exit <- errors.New("segment server vanished")

	// The dead worker is reaped and, the channel still being live, replaced
	// within the same tick.
	require.Eventually(t, func() bool {
		rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
		return rig.started.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, rig.sup.Status(), 1)

	rig.sup.StopAll(ctx)
}

func TestStatus_ResponsiveDuringStopGrace(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.stubborn = true
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	require.Len(t, rig.sup.Status(), 1)

	// The offline tick parks in the grace wait on the worker that refuses to
	// die; Status must keep answering from other goroutines meanwhile.
	tickDone := make(chan struct{})
	go func() {
		rig.sup.Tick(ctx, map[string]PollResult{"c1": offline()})
		close(tickDone)
	}()

	start := time.Now()
	require.Eventually(t, func() bool {
		return len(rig.sup.Status()) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Less(t, time.Since(start), rig.sup.opts.StopGrace)

	rig.workers[0].exit <- nil
	<-tickDone
}

func TestStopAll(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1"), "c2": live("c2")})
	require.Len(t, rig.sup.Status(), 2)

	rig.sup.StopAll(ctx)
	assert.Empty(t, rig.sup.Status())
}

func TestJournal_LifecycleReasons(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)

	rig := newTestRig(t, store)
	ctx := context.Background()

	// Start, then confirmed offline.
	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	rig.advance(time.Minute)
	rig.workers[0].bytes.Add(2048)
	rig.sup.Tick(ctx, map[string]PollResult{"c1": offline()})

	recs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c1", recs[0].ChannelID)
	assert.Equal(t, history.EndOffline, recs[0].EndReason)
	assert.Equal(t, int64(2048), recs[0].BytesWritten)
	require.NotNil(t, recs[0].EndedAt)
}

func TestReap_AuthErrorClassified(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)

	rig := newTestRig(t, store)
	ctx := context.Background()

	rig.sup.Tick(ctx, map[string]PollResult{"c1": live("c1")})
	rig.workers[0].exit <- recorder.ErrAuthRejected

	// The errored poll leaves the map alone, but reap still collects the
	// dead worker.
	waitReaped(t, rig, map[string]PollResult{"c1": errored()}, 0)

	recs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.EndAuth, recs[0].EndReason)
}
