package humanoid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatewalk/api/schemas"
	"github.com/xkilldash9x/gatewalk/internal/browser/static"
)

func TestSleep(t *testing.T) {
	t.Run("returns after duration", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		err := Sleep(ctx, 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestHumanoid_MoveToAndClick(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	h := NewTestHumanoid(1)

	target := schemas.Point{X: 300, Y: 180}
	require.NoError(t, h.Click(ctx, s, "#go", target))

	moves := s.Moves()
	require.NotEmpty(t, moves)
	assert.Equal(t, target, moves[len(moves)-1], "pointer must arrive exactly on target")
	assert.Equal(t, target, h.Position())

	clicks := s.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, "#go", clicks[0].Target)
	assert.Equal(t, target, clicks[0].Point)
}

func TestHumanoid_ClickElementUsesCenter(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	h := NewTestHumanoid(2)

	el := schemas.Element{Selector: "button", Box: schemas.Box{X: 100, Y: 50, Width: 40, Height: 20}}
	require.NoError(t, h.ClickElement(ctx, s, el))
	require.Len(t, s.Clicks(), 1)
	assert.Equal(t, schemas.Point{X: 120, Y: 60}, s.Clicks()[0].Point)
}

func TestHumanoid_Type(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	require.NoError(t, s.Show(static.Page{
		URL:  "https://example.test/login",
		HTML: `<input id="username" data-box="50,50,200,30">`,
	}))
	h := NewTestHumanoid(3)

	var slept []time.Duration
	h.SetSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	require.NoError(t, h.Type(ctx, s, "#username", "user@example.test"))
	assert.Equal(t, "user@example.test", s.Typed())
	require.Len(t, s.Clicks(), 1, "input is focused with a click first")
	assert.Equal(t, schemas.Point{X: 150, Y: 65}, s.Clicks()[0].Point)
	assert.NotEmpty(t, slept)

	assert.Error(t, h.Type(ctx, s, "#missing", "x"))
}

func TestHumanoid_Scroll(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	h := NewTestHumanoid(4)

	require.NoError(t, h.Scroll(ctx, s, 900))
	total := 0.0
	for _, dy := range s.Scrolls() {
		total += dy
	}
	// Each step is rounded to whole pixels when rendered as script.
	assert.InDelta(t, 900, total, float64(len(s.Scrolls())))
}

func TestHumanoid_EnsureInView(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	h := NewTestHumanoid(5)

	inView := schemas.Element{Box: schemas.Box{X: 10, Y: 100, Width: 10, Height: 10}}
	got, err := h.EnsureInView(ctx, s, inView)
	require.NoError(t, err)
	assert.Equal(t, inView, got)
	assert.Empty(t, s.Scrolls())

	below := schemas.Element{Box: schemas.Box{X: 10, Y: 2000, Width: 10, Height: 10}}
	got, err = h.EnsureInView(ctx, s, below)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Scrolls())
	assert.GreaterOrEqual(t, got.Box.Y, 0.0)
	assert.Less(t, got.Box.Y, 800.0)
}

func TestHumanoid_Hesitate(t *testing.T) {
	ctx := context.Background()
	s := static.New()
	h := NewTestHumanoid(6)
	start := h.Position()

	require.NoError(t, h.Hesitate(ctx, s, 500*time.Millisecond))
	moves := s.Moves()
	assert.Len(t, moves, 10)
	for _, m := range moves {
		assert.InDelta(t, start.X, m.X, 2*DefaultConfig().DriftAmplitude)
		assert.InDelta(t, start.Y, m.Y, 2*DefaultConfig().DriftAmplitude)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, h.Hesitate(cancelled, s, time.Second), context.Canceled)
}
