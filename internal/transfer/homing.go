package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
)

// homeAxes homes X, then Y, then Z. Each Home call blocks until the axis
// reports idle, so an axis never starts before the previous one finished.
// A failure stops the run where it is; earlier axes stay homed.
func homeAxes(ctx context.Context, ctrl motion.Controller, actuator *sync.Mutex, progress func(motion.Axis, bool)) error {
	actuator.Lock()
	defer actuator.Unlock()

	for _, axis := range motion.Axes {
		progress(axis, false)
		if err := ctrl.Home(ctx, axis); err != nil {
			return fmt.Errorf("homing %v: %w", axis, err)
		}
		progress(axis, true)
	}
	return nil
}
