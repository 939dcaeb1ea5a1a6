// Package engine provides the fixed-rate tick loop and the simulation that
// wires the gathering core together.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval is both the simulated step and the wall-clock period
	// at speed 1.
	DefaultInterval = 50 * time.Millisecond

	// DefaultReportEvery is one simulated minute at the default interval.
	DefaultReportEvery = 1200
)

// Engine drives the simulation forward. Movement runs every tick; slower
// cadences hang off the report and snapshot callbacks.
type Engine struct {
	Interval      time.Duration // Simulated time per tick
	ReportEvery   uint64        // Ticks between OnReport calls, 0 disables
	SnapshotEvery uint64        // Ticks between OnSnapshot calls, 0 disables

	OnTick     func(tick uint64, dt time.Duration) // Every tick
	OnReport   func(tick uint64)
	OnSnapshot func(tick uint64)

	mu      sync.Mutex
	tick    uint64
	speed   float64 // 1.0 = real-time, 0 = paused
	running bool
	stop    chan struct{}
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    DefaultInterval,
		ReportEvery: DefaultReportEvery,
		speed:       1.0,
	}
}

// Tick returns the last tick processed.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Speed returns the wall-clock multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the wall-clock multiplier. Zero pauses, negative values
// are clamped to zero.
func (e *Engine) SetSpeed(s float64) {
	if s < 0 {
		s = 0
	}
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", s)
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "tick", e.Tick())
	}()

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			if !sleep(ctx, stop, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		e.step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		target := time.Duration(float64(e.interval()) / speed)
		if elapsed := time.Since(start); elapsed < target {
			if !sleep(ctx, stop, target-elapsed) {
				return
			}
		} else if !sleep(ctx, stop, 0) {
			return
		}
	}
}

// Stop halts a running loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// RunTicks advances n ticks with no pacing. Used headless and in tests.
func (e *Engine) RunTicks(n int) {
	for i := 0; i < n; i++ {
		e.step()
	}
}

func (e *Engine) interval() time.Duration {
	if e.Interval <= 0 {
		return DefaultInterval
	}
	return e.Interval
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(tick, e.interval())
	}
	if e.ReportEvery > 0 && tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(tick)
	}
	if e.SnapshotEvery > 0 && tick%e.SnapshotEvery == 0 && e.OnSnapshot != nil {
		e.OnSnapshot(tick)
	}
}

// sleep waits d unless ctx or stop fires first. It returns false when the
// loop should exit.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// SimTime renders elapsed simulated time as "Day N, hh:mm:ss".
func SimTime(elapsed time.Duration) string {
	total := int64(elapsed / time.Second)
	secs := total % 60
	mins := (total / 60) % 60
	hours := (total / 3600) % 24
	days := total/86400 + 1
	return fmt.Sprintf("Day %d, %02d:%02d:%02d", days, hours, mins, secs)
}
