package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// sequencer runs transfer cycles back to back until stopped.
//
// Two contexts drive it. ctx is hard: cancelling it aborts whatever is in
// flight (disconnect, lost link, a sibling fault). stop is soft: it is
// observed only at the head of each wait, so a batch of commands issued
// by one phase always runs to completion.
type sequencer struct {
	cfg      Config
	ctrl     motion.Controller
	actuator *sync.Mutex
	hold     func() (positions.Set, func())
	position func() (AxisObservation, ZoneMembership, bool)
	io       func() (DigitalIOSnapshot, bool)
	onPhase  func(Phase, string)
	onCycle  func(CycleRecord)
	metrics  *Metrics
	logger   Logger

	phase      Phase
	phaseStart time.Time
	cycleID    string
}

// run loops cycles. It returns nil when stopped and the fault otherwise.
func (s *sequencer) run(ctx, stop context.Context) error {
	for {
		if err := s.cycle(ctx, stop); err != nil {
			if isCancellation(err) {
				return ctx.Err()
			}
			return err
		}
	}
}

// cycle performs one traversal from WaitRequest back to WaitRequest.
// The zone targets are taken once the request is seen and held until the
// cycle ends, so edits made meanwhile wait for the next cycle.
func (s *sequencer) cycle(ctx, stop context.Context) error {
	s.cycleID = "cyc-" + uuid.NewString()[:16]

	if err := s.wait(stop, PhaseWaitRequest, 0, s.signal(DigitalIOSnapshot.RequestToLoad, true)); err != nil {
		return err
	}
	t, release := s.hold()
	defer release()

	rec := CycleRecord{ID: s.cycleID, StartedAt: time.Now(), Targets: t}
	err := s.transfer(ctx, stop, t, &rec)

	rec.EndedAt = time.Now()
	rec.LastPhase = s.phase
	switch {
	case err == nil:
		rec.Outcome = CycleComplete
	case isCancellation(err):
		rec.Outcome = CycleStopped
	default:
		rec.Outcome = CycleFaulted
		rec.Error = err.Error()
	}
	s.onCycle(rec)
	return err
}

func (s *sequencer) transfer(ctx, stop context.Context, t positions.Set, rec *CycleRecord) error {
	load, xz, sras := t.RobometLoad, t.XZTransfer, t.SrasLoad

	if err := s.batch(ctx,
		s.move(motion.AxisX, load.X),
		s.move(motion.AxisY, load.Y),
		s.move(motion.AxisZ, load.Z),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseWaitClearToLoad, s.cfg.SignalTimeout, s.signal(s.cfg.ClearToLoad.read, true)); err != nil {
		return err
	}
	if err := s.batch(ctx,
		s.move(motion.AxisX, xz.X),
		s.move(motion.AxisY, xz.Y),
		s.move(motion.AxisZ, xz.Z),
		s.sleep(s.cfg.SettleDelay),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseConfirmXZArrival, s.cfg.ArrivalTimeout, s.at(func(z ZoneMembership) bool { return z.AtXZTransfer })); err != nil {
		return err
	}
	if err := s.batch(ctx,
		s.move(motion.AxisZ, 0),
		s.move(motion.AxisX, sras.X),
		s.move(motion.AxisY, sras.Y),
		s.move(motion.AxisZ, sras.Z),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseConfirmSrasArrival, s.cfg.ArrivalTimeout, s.at(func(z ZoneMembership) bool { return z.AtSrasLoad })); err != nil {
		return err
	}
	if err := s.batch(ctx, s.move(motion.AxisZ, 0)); err != nil {
		return err
	}

	// No scan-complete line exists on the instrument; the scan is a fixed dwell.
	s.enter(PhaseScanning)
	if err := s.batch(ctx, s.sleep(s.cfg.ScanDuration)); err != nil {
		return err
	}

	s.enter(PhaseReturnFromSras)
	if err := s.batch(ctx,
		s.move(motion.AxisY, sras.Y),
		s.move(motion.AxisZ, sras.Z),
		s.sleep(s.cfg.ResettleDelay),
		s.move(motion.AxisZ, 0),
		s.move(motion.AxisX, xz.X),
		s.move(motion.AxisY, xz.Y),
		s.move(motion.AxisZ, xz.Z),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseConfirmReturnXZ, s.cfg.ArrivalTimeout, s.at(func(z ZoneMembership) bool { return z.AtXZTransfer })); err != nil {
		return err
	}
	if err := s.batch(ctx,
		s.move(motion.AxisZ, load.Z),
		s.move(motion.AxisY, load.Y),
		s.move(motion.AxisX, load.X),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseConfirmReturnLoad, s.cfg.ArrivalTimeout, s.at(func(z ZoneMembership) bool { return z.AtRobometLoad })); err != nil {
		return err
	}
	if err := s.batch(ctx,
		s.output(ChannelSrasComplete, true),
		s.sleep(s.cfg.CompletePulse),
		s.output(ChannelSrasComplete, false),
	); err != nil {
		return err
	}

	if err := s.wait(stop, PhaseWaitClearDrop, s.cfg.SignalTimeout, s.signal(s.cfg.ClearToLoad.read, false)); err != nil {
		return err
	}
	if snap, ok := s.io(); ok && !snap.RequestToLoad() && !s.cfg.ClearToLoad.read(snap) {
		if err := s.batch(ctx, s.move(motion.AxisX, 0)); err != nil {
			return err
		}
		rec.Parked = true
	}
	return nil
}

// condition reports whether a wait is satisfied. Observations taken
// before since do not count.
type condition func(since time.Time) bool

// wait polls cond every PollInterval. stop is checked at the head of every
// iteration, before cond. Only observations polled after the phase was
// entered satisfy cond. A zero timeout waits indefinitely.
func (s *sequencer) wait(stop context.Context, phase Phase, timeout time.Duration, cond condition) error {
	s.enter(phase)
	since := s.phaseStart

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if stop.Err() != nil {
			return errStopped
		}
		if cond(since) {
			return nil
		}
		select {
		case <-stop.Done():
			return errStopped
		case <-deadline:
			return fmt.Errorf("%w: %s after %v", ErrWaitTimeout, phase, timeout)
		case <-ticker.C:
		}
	}
}

type step func(ctx context.Context) error

// batch runs steps in order while holding the actuator lock.
func (s *sequencer) batch(ctx context.Context, steps ...step) error {
	s.actuator.Lock()
	defer s.actuator.Unlock()
	for _, st := range steps {
		if err := st(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.phase, err)
		}
	}
	return nil
}

func (s *sequencer) move(axis motion.Axis, target int64) step {
	return func(ctx context.Context) error {
		s.logger.Debug("move", "axis", axis.String(), "target", target, "phase", s.phase.String())
		return s.ctrl.MoveAbsolute(ctx, axis, target)
	}
}

func (s *sequencer) output(channel int, value bool) step {
	return func(ctx context.Context) error {
		return s.ctrl.SetDigitalOutput(ctx, motion.DeviceXY, channel, value)
	}
}

func (s *sequencer) sleep(d time.Duration) step {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

func (s *sequencer) enter(p Phase) {
	now := time.Now()
	if !s.phaseStart.IsZero() {
		s.metrics.observePhase(s.phase, now.Sub(s.phaseStart))
	}
	s.phase = p
	s.phaseStart = now
	s.onPhase(p, s.cycleID)
}

// signal is satisfied once a fresh I/O snapshot shows read == want.
func (s *sequencer) signal(read func(DigitalIOSnapshot) bool, want bool) condition {
	return func(since time.Time) bool {
		snap, ok := s.io()
		return ok && !snap.At.Before(since) && read(snap) == want
	}
}

// at is satisfied once a fresh observation lies inside the zone picked by flag.
func (s *sequencer) at(flag func(ZoneMembership) bool) condition {
	return func(since time.Time) bool {
		obs, z, ok := s.position()
		return ok && !obs.At.Before(since) && flag(z)
	}
}
