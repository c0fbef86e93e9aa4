package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
)

// interlock mirrors AtRobometLoad onto the XY clear-to-load output while
// auto mode runs. It writes when the flag changes, or when the polled
// output disagrees with the last write (someone else changed the line).
type interlock struct {
	ctrl     motion.Controller
	actuator *sync.Mutex
	interval time.Duration
	zones    func() (ZoneMembership, bool)
	io       func() (DigitalIOSnapshot, bool)
	metrics  *Metrics
	logger   Logger

	written   bool
	last      bool
	lastWrite time.Time
}

// run drives the output until stop or ctx is done. A failed write is returned.
func (il *interlock) run(ctx, stop context.Context) error {
	ticker := time.NewTicker(il.interval)
	defer ticker.Stop()

	for {
		if stop.Err() != nil {
			return nil
		}
		if err := il.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (il *interlock) step(ctx context.Context) error {
	z, ok := il.zones()
	if !ok {
		return nil
	}
	want := z.AtRobometLoad
	if il.written && want == il.last && !il.drifted(want) {
		return nil
	}

	il.actuator.Lock()
	err := il.ctrl.SetDigitalOutput(ctx, motion.DeviceXY, ChannelClearToLoad, want)
	il.actuator.Unlock()
	if err != nil {
		return fmt.Errorf("interlock: writing clear-to-load %t: %w", want, err)
	}

	il.written, il.last, il.lastWrite = true, want, time.Now()
	il.metrics.interlockWrite.Inc()
	il.logger.Debug("clear-to-load output written", "value", want)
	return nil
}

// drifted reports a read-back taken after the last write that disagrees with it.
func (il *interlock) drifted(want bool) bool {
	snap, ok := il.io()
	return ok && snap.At.After(il.lastWrite) && snap.ClearToLoadOutput() != want
}
