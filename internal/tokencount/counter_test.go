package tokencount

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCounter returns a fixed count or error and counts calls
type mockCounter struct {
	name   string
	tokens int
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (m *mockCounter) Name() string { return m.name }

func (m *mockCounter) CountTokens(ctx context.Context, system, user string) (int, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if m.err != nil {
		return 0, m.err
	}
	return m.tokens, nil
}

func TestEngineCounter(t *testing.T) {
	c := NewEngineCounter(nil)
	assert.Equal(t, HeuristicCounterName, c.Name())

	n, err := c.CountTokens(context.Background(), "You are a helpful assistant.", "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, 22, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CountTokens(ctx, "a", "b")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineCounter_CustomEngine(t *testing.T) {
	cfg := metering.DefaultConfig()
	cfg.FixedOverhead = 0
	engine, err := metering.NewEngine(cfg, metering.EstimatorFunc(func(string) int { return 7 }))
	require.NoError(t, err)

	n, err := NewEngineCounter(engine).CountTokens(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.Equal(t, 14, n)
}

func TestResolvedEngineCounter(t *testing.T) {
	current := metering.NewDefaultEngine()
	c := NewResolvedEngineCounter("", func() (*metering.Engine, error) { return current, nil })
	assert.Equal(t, HeuristicCounterName, c.Name())

	n, err := c.CountTokens(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	cfg := metering.DefaultConfig()
	cfg.FixedOverhead = 3
	current, err = metering.NewEngine(cfg, nil)
	require.NoError(t, err)

	n, err = c.CountTokens(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	failing := NewResolvedEngineCounter("est", func() (*metering.Engine, error) { return nil, errors.New("unknown tier") })
	_, err = failing.CountTokens(context.Background(), "", "")
	assert.ErrorContains(t, err, "unknown tier")
}

func TestRegistry(t *testing.T) {
	a := &mockCounter{name: "a", tokens: 1}
	b := &mockCounter{name: "b", tokens: 2}
	a2 := &mockCounter{name: "a", tokens: 3}

	r := NewRegistry(a, b, a2)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, a2, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownCounter)
	assert.Len(t, r.All(), 2)
}

func TestCountAll(t *testing.T) {
	counters := []Counter{
		&mockCounter{name: "ok", tokens: 10, delay: 10 * time.Millisecond},
		&mockCounter{name: "fail", err: errors.New("boom")},
		&mockCounter{name: "fast", tokens: 5},
	}

	results := CountAll(context.Background(), counters, "sys", "usr", 0)
	require.Len(t, results, 3)

	assert.Equal(t, "ok", results[0].Counter)
	assert.Equal(t, 10, results[0].Tokens)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "fail", results[1].Counter)
	assert.Equal(t, 0, results[1].Tokens)
	assert.EqualError(t, results[1].Err, "boom")
	assert.Equal(t, "boom", results[1].Error)

	// The failing counter does not cancel the slower one
	assert.Equal(t, 5, results[2].Tokens)
}

func TestCountAll_Limit(t *testing.T) {
	var counters []Counter
	for i := 0; i < 8; i++ {
		counters = append(counters, &mockCounter{name: "c", tokens: i})
	}

	results := CountAll(context.Background(), counters, "", "", 2)
	for i, r := range results {
		assert.Equal(t, i, r.Tokens)
	}
}

func TestCountAll_Empty(t *testing.T) {
	assert.Empty(t, CountAll(context.Background(), nil, "", "", 0))
}

func TestEstimatorDrift(t *testing.T) {
	d := EstimatorDrift(110, 100)
	assert.Equal(t, 10, d.Diff)
	require.NotNil(t, d.Percent)
	assert.InDelta(t, 10.0, *d.Percent, 1e-9)

	d = EstimatorDrift(90, 100)
	assert.Equal(t, -10, d.Diff)
	assert.InDelta(t, -10.0, *d.Percent, 1e-9)

	d = EstimatorDrift(5, 0)
	assert.Equal(t, 5, d.Diff)
	assert.Nil(t, d.Percent)
}
