package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, handler http.HandlerFunc) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, w.Body.String()
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing())
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))

	// Checks start healthy.
	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	for range 3 {
		h.liveness[1].run(context.Background())
	}
	code, body = probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, body)
}

func TestThresholds(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	fn := func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}

	h := New()
	h.AddLivenessCheck("flaky", time.Second, fn, WithFailureThreshold(2), WithSuccessThreshold(2))
	c := h.liveness[0]
	ctx := context.Background()

	c.run(ctx)
	assert.Empty(t, c.failure(), "one failure is below threshold")
	c.run(ctx)
	assert.Equal(t, "down", c.failure())

	fail.Store(false)
	c.run(ctx)
	assert.Equal(t, "down", c.failure(), "one success is below threshold")
	code, body := probe(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"flaky":"down"}}`, body)

	c.run(ctx)
	assert.Empty(t, c.failure())
	assert.Nil(t, c.lastErr.Load(), "recovery clears the cause")
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, failing("timeout"), WithFailureThreshold(1))

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, body)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.readiness[0].run(context.Background())
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"timeout"}}`, body)
	assert.False(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	h := New()
	h.AddReadinessCheck("counter", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	h.SetReady(true)

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()

	code, _ := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithFailureThreshold(1))

	h.readiness[0].run(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), h.readiness[0].failure())
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(1<<20)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))

	assert.NoError(t, PingCheck(pinger{})(ctx))
	err := PingCheck(pinger{err: errors.New("refused")})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
