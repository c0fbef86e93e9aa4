package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// DefaultPollInterval is the monitor cadence.
const DefaultPollInterval = 250 * time.Millisecond

// positionMonitor polls the three axis positions and publishes each
// observation together with its zone classification.
type positionMonitor struct {
	ctrl      motion.Controller
	interval  time.Duration
	tolerance int64
	targets   func() positions.Set
	publish   func(AxisObservation, ZoneMembership)
	metrics   *Metrics
}

// run polls until ctx is cancelled. Any failed read ends the monitor
// with an error; the caller treats that as a lost connection.
func (m *positionMonitor) run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *positionMonitor) poll(ctx context.Context) error {
	start := time.Now()

	var pos [3]int64
	for i, axis := range motion.Axes {
		p, err := m.ctrl.Position(ctx, axis)
		if err != nil {
			return fmt.Errorf("reading %v position: %w", axis, err)
		}
		pos[i] = p
	}

	// At is when the reads began, so a snapshot never claims to be newer
	// than the oldest value in it.
	obs := AxisObservation{X: pos[0], Y: pos[1], Z: pos[2], At: start}
	m.publish(obs, Classify(obs, m.targets(), m.tolerance))
	m.metrics.observePoll("position", time.Since(start))
	return nil
}
