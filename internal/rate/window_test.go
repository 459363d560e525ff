package rate

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowFullMinuteScenario(t *testing.T) {
	w := NewWindow(15)
	require.Equal(t, 4*time.Second, Interval(time.Minute, w.Size()))

	for i := 0; i < 10; i++ {
		w.Record()
	}
	assert.Equal(t, int64(10), w.Tick(), "first tick after the burst reports it")
	var last int64
	for i := 1; i < 15; i++ {
		last = w.Tick()
	}
	assert.Equal(t, int64(0), last, "burst ages out after one full window")
	assert.Equal(t, int64(0), w.Rate())
}

func TestWindowIdleTicksNeverIncrease(t *testing.T) {
	w := NewWindow(6)
	for i := 0; i < 4; i++ {
		for j := 0; j <= i; j++ {
			w.Record()
		}
		w.Tick()
	}
	prev := w.Rate()
	for i := 0; i < w.Size(); i++ {
		cur := w.Tick()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, int64(0), prev)
}

func TestWindowMatchesSlidingCount(t *testing.T) {
	const n = 5
	w := NewWindow(n)
	rng := rand.New(rand.NewSource(42))
	var history []int64 // events recorded before each tick

	for step := 0; step < 200; step++ {
		events := int64(rng.Intn(7))
		for i := int64(0); i < events; i++ {
			w.Record()
		}
		history = append(history, events)
		got := w.Tick()

		var want int64
		for i := max(0, len(history)-n+1); i < len(history); i++ {
			want += history[i]
		}
		// the bucket evicted by this tick is the one recorded n-1 ticks ago
		require.Equal(t, want, got, "step %d", step)
	}
}

func TestWindowConcurrentRecord(t *testing.T) {
	w := NewWindow(15)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				w.Record()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), w.Tick())
}

func TestWindowRecordRacesTick(t *testing.T) {
	// wide enough that no recorded bucket is evicted during the run
	const buckets, writers, perWriter = 1024, 8, 2000
	w := NewWindow(buckets)

	stop := make(chan struct{})
	ticks := make(chan []int64, 1)
	go func() {
		var seen []int64
		for len(seen) < buckets/2 {
			select {
			case <-stop:
				ticks <- seen
				return
			default:
				seen = append(seen, w.Tick())
			}
		}
		<-stop
		ticks <- seen
	}()

	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				w.Record()
			}
		}()
	}
	wg.Wait()
	close(stop)
	seen := <-ticks

	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1], "sum shrank at tick %d", i)
	}
	assert.Equal(t, int64(writers*perWriter), w.Tick(), "every recorded event is counted once")
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(3)
	w.Record()
	w.Tick()
	w.Reset()
	assert.Equal(t, int64(0), w.Rate())
	assert.Equal(t, int64(0), w.Tick())
}

func TestNewWindowClampsSize(t *testing.T) {
	assert.Equal(t, 1, NewWindow(0).Size())
	assert.Equal(t, time.Minute, Interval(time.Minute, 0))
}
