package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	statuses []string
	detail   string
	calls    int
}

func (f *fakeJob) poll(context.Context) (State, error) {
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return State{ID: "job_1", Status: f.statuses[i], Detail: f.detail}, nil
}

func identity(s State) State { return s }

func fastPolicy(p Policy) Policy {
	p.Interval = time.Millisecond
	return p
}

func TestAwait_SuccessAfterThreePolls(t *testing.T) {
	j := &fakeJob{statuses: []string{StatusQueued, StatusInProgress, StatusCompleted}}

	got, polls, err := Await(context.Background(), fastPolicy(BatchPolicy()), j.poll, identity, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 3, j.calls)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestAwait_FailedStatus(t *testing.T) {
	j := &fakeJob{statuses: []string{StatusQueued, StatusInProgress, "failed"}, detail: "rate_limit_exceeded: quota"}

	_, polls, err := Await(context.Background(), fastPolicy(RunPolicy()), j.poll, identity, nil)
	require.Error(t, err)
	assert.Equal(t, 3, polls)
	assert.ErrorIs(t, err, ErrJobFailed)

	var fe *FailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "failed", fe.Status)
	assert.Equal(t, "rate_limit_exceeded: quota", fe.Detail)
	assert.Equal(t, "run", fe.Kind)
	assert.Contains(t, err.Error(), "quota")
}

func TestAwait_UnknownStatusIsTerminalFailure(t *testing.T) {
	for _, status := range []string{"cancelled", "expired", "requires_action", "incomplete"} {
		t.Run(status, func(t *testing.T) {
			j := &fakeJob{statuses: []string{status}}
			_, polls, err := Await(context.Background(), fastPolicy(RunPolicy()), j.poll, identity, nil)
			assert.ErrorIs(t, err, ErrJobFailed)
			assert.Equal(t, 1, polls)
		})
	}
}

func TestAwait_CancellingPendingOnlyForRuns(t *testing.T) {
	run := &fakeJob{statuses: []string{StatusCancelling, StatusCompleted}}
	_, polls, err := Await(context.Background(), fastPolicy(RunPolicy()), run.poll, identity, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, polls)

	batch := &fakeJob{statuses: []string{StatusCancelling, StatusCompleted}}
	_, polls, err = Await(context.Background(), fastPolicy(BatchPolicy()), batch.poll, identity, nil)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, 1, polls)
}

func TestAwait_Timeout(t *testing.T) {
	j := &fakeJob{statuses: []string{StatusInProgress}}
	p := fastPolicy(BatchPolicy())
	p.Timeout = 20 * time.Millisecond

	_, polls, err := Await(context.Background(), p, j.poll, identity, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrJobFailed))
	assert.Greater(t, polls, 1)
}

func TestAwait_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &fakeJob{statuses: []string{StatusQueued}}

	observed := 0
	observe := func(kind string, s State) {
		observed++
		if observed == 2 {
			cancel()
		}
	}

	_, _, err := Await(ctx, fastPolicy(BatchPolicy()), j.poll, identity, observe)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestAwait_PollErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	poll := func(context.Context) (State, error) {
		calls++
		return State{}, boom
	}

	_, polls, err := Await(context.Background(), fastPolicy(BatchPolicy()), poll, identity, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, polls)
	assert.Equal(t, 1, calls, "poll errors must not be retried")
}

func TestAwait_ObserverSeesEveryPoll(t *testing.T) {
	j := &fakeJob{statuses: []string{StatusQueued, StatusInProgress, StatusCompleted}}
	var seen []string
	observe := func(kind string, s State) {
		assert.Equal(t, "file_batch", kind)
		seen = append(seen, s.Status)
	}

	_, _, err := Await(context.Background(), fastPolicy(BatchPolicy()), j.poll, identity, observe)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusQueued, StatusInProgress, StatusCompleted}, seen)
}
