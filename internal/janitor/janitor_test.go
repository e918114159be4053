package janitor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
)

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	var ran []string
	j := New(zap.NewNop().Sugar(),
		Job{Name: "test_fail", Run: func(context.Context) (int64, error) {
			ran = append(ran, "fail")
			return 0, boom
		}},
		Job{Name: "test_ok", Run: func(context.Context) (int64, error) {
			ran = append(ran, "ok")
			return 4, nil
		}},
	)
	before := testutil.ToFloat64(metrics.JanitorDeleted.WithLabelValues("test_ok"))

	err := j.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"fail", "ok"}, ran)
	assert.Equal(t, before+4, testutil.ToFloat64(metrics.JanitorDeleted.WithLabelValues("test_ok")))
}

func TestRunOncePassesDeadline(t *testing.T) {
	j := New(zap.NewNop().Sugar(), Job{Name: "deadline", Run: func(ctx context.Context) (int64, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return 0, nil
	}})
	require.NoError(t, j.RunOnce(context.Background()))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(zap.NewNop().Sugar())
	assert.Error(t, j.Start("not a schedule"))
	j.Stop(context.Background())
}

func TestStartAndStop(t *testing.T) {
	j := New(zap.NewNop().Sugar())
	require.NoError(t, j.Start("@every 1h"))
	j.Stop(context.Background())
}

type countingCleaner struct{ calls int }

func (c *countingCleaner) CleanExpired(context.Context) (int64, error) {
	c.calls++
	return 2, nil
}

func (c *countingCleaner) PurgeExpired(context.Context) (int64, error) {
	c.calls++
	return 1, nil
}

func TestStandardJobs(t *testing.T) {
	c := &countingCleaner{}
	jobs := StandardJobs(c, c)
	require.Len(t, jobs, 2)
	assert.Equal(t, "otp_cleanup", jobs[0].Name)
	assert.Equal(t, "session_purge", jobs[1].Name)
	require.NoError(t, New(zap.NewNop().Sugar(), jobs...).RunOnce(context.Background()))
	assert.Equal(t, 2, c.calls)
}
