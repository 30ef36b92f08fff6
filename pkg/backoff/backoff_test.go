package backoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelayMsWithoutJitter(t *testing.T) {
	p := Policy{BaseMs: 500, MaxMs: 8000, Jitter: 0}

	t.Run("exponential up to cap", func(t *testing.T) {
		expected := []int{500, 1000, 2000, 4000, 8000, 8000, 8000}
		for i, want := range expected {
			assert.Equal(t, want, p.DelayMs(i+1), "attempt %d", i+1)
		}
	})

	t.Run("non-decreasing", func(t *testing.T) {
		prev := 0
		for n := 1; n <= 40; n++ {
			d := p.DelayMs(n)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, 8000)
			prev = d
		}
	})

	t.Run("attempt coerced to one", func(t *testing.T) {
		assert.Equal(t, 500, p.DelayMs(0))
		assert.Equal(t, 500, p.DelayMs(-3))
	})

	t.Run("randomness not consulted", func(t *testing.T) {
		called := false
		q := p
		q.Rand = func() float64 {
			called = true
			return 0.9
		}
		assert.Equal(t, 2000, q.DelayMs(3))
		assert.False(t, called)
	})

	t.Run("huge attempt stays capped", func(t *testing.T) {
		assert.Equal(t, 8000, p.DelayMs(5000))
	})
}

func TestDelayMsWithJitter(t *testing.T) {
	t.Run("deterministic source", func(t *testing.T) {
		p := Policy{BaseMs: 1000, MaxMs: 8000, Jitter: 0.5, Rand: func() float64 { return 1 }}
		// r=1 → factor 1.5
		assert.Equal(t, 1500, p.DelayMs(1))

		p.Rand = func() float64 { return 0 }
		assert.Equal(t, 500, p.DelayMs(1))

		p.Rand = func() float64 { return 0.5 }
		assert.Equal(t, 4000, p.DelayMs(3))
	})

	t.Run("bounded by cap times jitter", func(t *testing.T) {
		p := DefaultPolicy()
		for n := 1; n <= 20; n++ {
			for i := 0; i < 50; i++ {
				d := p.DelayMs(n)
				assert.LessOrEqual(t, float64(d), float64(DefaultMaxMs)*(1+DefaultJitter))
				assert.GreaterOrEqual(t, d, 0)
			}
		}
	})

	t.Run("jitter above one is clamped", func(t *testing.T) {
		p := Policy{BaseMs: 100, MaxMs: 100, Jitter: 3, Rand: func() float64 { return 0.999999 }}
		assert.LessOrEqual(t, p.DelayMs(1), 200)
	})
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 500, p.BaseMs)
	assert.Equal(t, 8000, p.MaxMs)
	assert.InDelta(t, 0.2, p.Jitter, 1e-9)
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	t.Run("zero value", func(t *testing.T) {
		p := Policy{Rand: func() float64 { return 1 }}
		// r=1 → factor 1.2
		assert.Equal(t, 600, p.DelayMs(1))
		assert.Equal(t, 9600, p.DelayMs(10))
	})

	t.Run("missing base", func(t *testing.T) {
		p := Policy{MaxMs: 1000}
		assert.Equal(t, 500, p.DelayMs(1))
		assert.Equal(t, 1000, p.DelayMs(4))
	})

	t.Run("missing cap", func(t *testing.T) {
		p := Policy{BaseMs: 100, MaxMs: -1}
		assert.Equal(t, 100, p.DelayMs(1))
		assert.Equal(t, 8000, p.DelayMs(20))
	})

	t.Run("never zero", func(t *testing.T) {
		var p Policy
		for n := 1; n <= 10; n++ {
			assert.Positive(t, p.DelayMs(n))
		}
	})
}
