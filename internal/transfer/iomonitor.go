package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
)

// ioMonitor polls the digital inputs and outputs of both controllers.
type ioMonitor struct {
	ctrl     motion.Controller
	interval time.Duration
	publish  func(DigitalIOSnapshot)
	metrics  *Metrics
}

func (m *ioMonitor) run(ctx context.Context) error {
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

func (m *ioMonitor) poll(ctx context.Context) error {
	start := time.Now()

	var io [2]DeviceIO
	for _, dev := range motion.Devices {
		in, err := m.ctrl.DigitalInputs(ctx, dev)
		if err != nil {
			return fmt.Errorf("reading %v inputs: %w", dev, err)
		}
		out, err := m.ctrl.DigitalOutputs(ctx, dev)
		if err != nil {
			return fmt.Errorf("reading %v outputs: %w", dev, err)
		}
		io[dev] = DeviceIO{Inputs: in, Outputs: out}
	}

	m.publish(DigitalIOSnapshot{XY: io[motion.DeviceXY], Z: io[motion.DeviceZ], At: start})
	m.metrics.observePoll("io", time.Since(start))
	return nil
}
