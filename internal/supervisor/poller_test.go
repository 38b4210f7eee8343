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
)

// fakeChecker serves canned liveness answers.
type fakeChecker struct {
	answers map[string]PollResult
	calls   atomic.Int32
	inUse   atomic.Int32
	maxUse  atomic.Int32
}

func (f *fakeChecker) GetLiveDetail(ctx context.Context, channelID string) (*chzzk.LiveDetail, error) {
	f.calls.Add(1)

	cur := f.inUse.Add(1)
	defer f.inUse.Add(-1)
	for {
		old := f.maxUse.Load()
		if cur <= old || f.maxUse.CompareAndSwap(old, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	r := f.answers[channelID]
	return r.Detail, r.Err
}

func TestPollOnce_OneResultPerChannel(t *testing.T) {
	checker := &fakeChecker{answers: map[string]PollResult{
		"a": live("a"),
		"b": offline(),
		"c": {Err: errors.New("flake")},
	}}

	p := NewPoller(checker, New(Options{NewWorker: func(chzzk.LiveDetail) Worker { return nil }}),
		[]string{"a", "b", "c"}, time.Second, 2)

	results := p.pollOnce(context.Background())
	require.Len(t, results, 3)

	assert.NotNil(t, results["a"].Detail)
	assert.NoError(t, results["a"].Err)

	assert.Nil(t, results["b"].Detail)
	assert.NoError(t, results["b"].Err)

	assert.Nil(t, results["c"].Detail)
	assert.Error(t, results["c"].Err)

	assert.Equal(t, int32(3), checker.calls.Load())
}

func TestPollOnce_BoundedConcurrency(t *testing.T) {
	answers := make(map[string]PollResult)
	channels := make([]string, 0, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		answers[id] = live(id)
		channels = append(channels, id)
	}
	checker := &fakeChecker{answers: answers}

	p := NewPoller(checker, nil, channels, time.Second, 2)
	results := p.pollOnce(context.Background())

	assert.Len(t, results, 8)
	assert.LessOrEqual(t, checker.maxUse.Load(), int32(2))
}

func TestPollerRun_TicksSupervisorAndStopsOnCancel(t *testing.T) {
	rig := newTestRig(t, nil)
	checker := &fakeChecker{answers: map[string]PollResult{"c1": live("c1")}}
	p := NewPoller(checker, rig.sup, []string{"c1"}, 50*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rig.sup.Status()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not stop")
	}

	rig.sup.StopAll(context.Background())
}
