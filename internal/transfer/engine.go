package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

// Status texts shown to the operator.
const (
	StatusNotConnected  = "Not Connected"
	StatusNotHomed      = "Connected. Not Homed."
	StatusHomingFmt     = "Homing %v..."
	StatusHomed         = "Homing Complete."
	StatusHomingFailed  = "Homing Failed."
	StatusAuto          = "Auto Mode"
	StatusAutoDisabled  = "Auto Mode Disabled"
	StatusAutoFaulted   = "Auto Mode Faulted"
	cleanupWriteTimeout = 2 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dialer opens a controller link.
type Dialer func(ctx context.Context) (motion.Controller, error)

// TargetSource supplies the zone targets at connect time.
// *positions.Store satisfies it.
type TargetSource interface {
	Load(ctx context.Context) positions.Set
}

// Deps holds the engine's collaborators.
type Deps struct {
	Dial    Dialer
	Targets TargetSource

	// Bus receives engine events. A private bus is created when nil.
	Bus *Bus

	// Registerer receives the engine metrics. A private registry is used when nil.
	Registerer prometheus.Registerer

	Logger Logger
}

// session is one controller connection and everything running on it.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	ctrl   motion.Controller
	wg     sync.WaitGroup
}

// autoRun is one activation of auto mode. Once inactive, its phase
// changes are no longer published.
type autoRun struct {
	stop   context.CancelFunc
	active atomic.Bool
}

type phaseState struct {
	Phase   Phase
	CycleID string
}

// Engine owns the controller session, the mode machine and every loop
// running against the stage.
//
// Thread Safety:
//   - Connect, Disconnect, Home and SetAuto serialise on an internal lock.
//   - Snapshot getters never block; they read the latest publication.
//   - All commands that actuate the stage (sequencer batches, interlock
//     writes, homing) are serialised by a separate actuator lock.
type Engine struct {
	cfg     Config
	dial    Dialer
	source  TargetSource
	bus     *Bus
	metrics *Metrics
	logger  Logger

	mu    sync.Mutex
	modes *modeMachine
	sess  *session
	auto  *autoRun

	actuator sync.Mutex

	mode        cell[Mode]
	status      cell[string]
	phase       cell[phaseState]
	observation cell[AxisObservation]
	zones       cell[ZoneMembership]
	io          cell[DigitalIOSnapshot]
	targets     cell[positions.Set]
	lastFault   cell[Fault]

	// held is the token of the cycle currently holding the targets, zero
	// when none. Edits arriving meanwhile park in pending.
	targetsMu sync.Mutex
	held      uint64
	holds     uint64
	pending   *positions.Set

	homed       atomic.Bool
	completed   atomic.Uint64
}

// New creates an Offline engine.
func New(cfg Config, deps Deps) *Engine {
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	e := &Engine{
		cfg:     cfg.withDefaults(),
		dial:    deps.Dial,
		source:  deps.Targets,
		bus:     deps.Bus,
		metrics: NewMetrics(deps.Registerer),
		logger:  deps.Logger,
	}
	e.modes = newModeMachine(e.onModeEnter)
	e.mode.store(ModeOffline)
	e.status.store(StatusNotConnected)
	e.phase.store(phaseState{Phase: PhaseIdle})
	e.metrics.setMode(ModeOffline)
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Connect opens the controller, clears the XY outputs, loads the zone
// targets, starts both monitors and raises SrasReady. The engine is then
// Online, and Homing straight away when HomeOnConnect is set.
//
// ctx bounds only the connect sequence; the session outlives it.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		return ErrAlreadyConnected
	}
	if e.dial == nil {
		return fmt.Errorf("%w: no controller dialer configured", ErrNotConnected)
	}

	ctrl, err := e.dial(ctx)
	if err != nil {
		e.raiseFault(FaultConnection, "connect", err)
		return fmt.Errorf("connecting to controller: %w", err)
	}

	if err := ctrl.SetAllDigitalOutputs(ctx, motion.DeviceXY, false); err != nil {
		ctrl.Close() //nolint:errcheck // Best effort cleanup on error path
		e.raiseFault(ClassifyFault(err), "connect", err)
		return fmt.Errorf("clearing XY outputs: %w", err)
	}

	if e.source != nil {
		e.targets.store(e.source.Load(ctx))
	} else {
		e.targets.store(positions.Set{})
	}

	if err := ctrl.SetDigitalOutput(ctx, motion.DeviceXY, ChannelSrasReady, true); err != nil {
		ctrl.Close() //nolint:errcheck // Best effort cleanup on error path
		e.raiseFault(ClassifyFault(err), "connect", err)
		return fmt.Errorf("raising SrasReady: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{ctx: sessCtx, cancel: cancel, ctrl: ctrl}
	e.sess = sess
	e.homed.Store(false)
	e.startMonitors(sess)

	if err := e.transition(evConnect, StatusNotHomed); err != nil {
		return err
	}
	e.logger.Info("controller connected")

	if e.cfg.HomeOnConnect {
		return e.startHoming(sess)
	}
	return nil
}

// Disconnect stops every loop, drops the XY outputs and closes the link.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNotConnected
	}
	e.detach()
	err := e.transition(evDisconnect, StatusNotConnected)
	e.mu.Unlock()

	sess.wg.Wait()

	if werr := sess.ctrl.SetAllDigitalOutputs(ctx, motion.DeviceXY, false); werr != nil {
		e.logger.Warn("clearing XY outputs on disconnect failed", "error", werr)
	}
	if cerr := sess.ctrl.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing controller: %w", cerr)
	}
	e.logger.Info("controller disconnected")
	return err
}

// Home starts a homing run (X, then Y, then Z) in the background.
// It is allowed only while Online.
func (e *Engine) Home(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return ErrNotConnected
	}
	return e.startHoming(e.sess)
}

// SetAuto switches auto mode. Enabling starts a fresh sequencer and zone
// interlock; disabling lets both stop at their next checkpoint, after
// which the engine returns to Online.
func (e *Engine) SetAuto(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil {
		return ErrNotConnected
	}

	if !enabled {
		switch e.modes.current() {
		case ModeAutoIdle:
			return nil
		case ModeAutoRunning:
		default:
			return fmt.Errorf("%w: auto mode is not running", ErrInvalidTransition)
		}
		if err := e.transition(evAutoOff, StatusAutoDisabled); err != nil {
			return err
		}
		e.auto.stop()
		e.logger.Info("auto mode disabled")
		return nil
	}

	if !e.modes.can(evAutoOn) {
		return fmt.Errorf("%w: auto mode needs Online, engine is %s", ErrInvalidTransition, e.modes.current())
	}

	e.actuator.Lock()
	err := sess.ctrl.SetDigitalOutput(sess.ctx, motion.DeviceXY, ChannelSrasError, false)
	e.actuator.Unlock()
	if err != nil {
		e.logger.Warn("clearing SrasError failed", "error", err)
	}

	if err := e.transition(evAutoOn, StatusAuto); err != nil {
		return err
	}
	e.startAuto(sess)
	e.logger.Info("auto mode enabled")
	return nil
}

// SetTargets replaces the zone targets. While a transfer cycle is in
// progress the change is deferred until that cycle ends, so zone
// classification and the moves of a cycle always use the same targets.
func (e *Engine) SetTargets(set positions.Set) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	if e.held != 0 {
		e.pending = &set
		e.logger.Info("zone targets changed during a cycle, applying when it ends")
		return
	}
	e.pending = nil
	e.targets.store(set)
}

// holdTargets pins the current targets for one cycle. The returned
// release applies any deferred edit; calling it more than once, or after
// another hold has started, does nothing.
func (e *Engine) holdTargets() (positions.Set, func()) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	e.holds++
	token := e.holds
	e.held = token
	return e.targets.get(), func() { e.releaseTargets(token) }
}

func (e *Engine) releaseTargets(token uint64) {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()

	if e.held != token {
		return
	}
	e.held = 0
	if e.pending != nil {
		e.targets.store(*e.pending)
		e.pending = nil
		e.logger.Info("deferred zone targets applied")
	}
}

// dropTargetHold ends the hold of a cycle that is being torn down.
func (e *Engine) dropTargetHold() {
	e.targetsMu.Lock()
	token := e.held
	e.targetsMu.Unlock()
	if token != 0 {
		e.releaseTargets(token)
	}
}

// TargetsPending reports whether a target edit is waiting for the
// current cycle to end.
func (e *Engine) TargetsPending() bool {
	e.targetsMu.Lock()
	defer e.targetsMu.Unlock()
	return e.pending != nil
}

// Close disconnects if a session is open.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Disconnect(ctx)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Mode returns the current engine mode.
func (e *Engine) Mode() Mode {
	return e.mode.get()
}

// Phase returns the current sequencer phase.
func (e *Engine) Phase() Phase {
	return e.phase.get().Phase
}

// Observation returns the latest axis positions.
func (e *Engine) Observation() (AxisObservation, bool) {
	return e.observation.load()
}

// Zones returns the latest zone membership.
func (e *Engine) Zones() (ZoneMembership, bool) {
	return e.zones.load()
}

// IO returns the latest digital I/O snapshot.
func (e *Engine) IO() (DigitalIOSnapshot, bool) {
	return e.io.load()
}

// Targets returns the zone targets in use.
func (e *Engine) Targets() positions.Set {
	return e.targets.get()
}

// CurrentTarget returns the stage position as a zone target, for
// teaching a zone from where the stage stands.
func (e *Engine) CurrentTarget() (positions.Target, error) {
	obs, ok := e.observation.load()
	if !ok || !e.mode.get().Connected() {
		return positions.Target{}, ErrNotConnected
	}
	return positions.Target{X: obs.X, Y: obs.Y, Z: obs.Z}, nil
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	Mode            Mode               `json:"mode"`
	Status          string             `json:"status"`
	Phase           Phase              `json:"phase"`
	CycleID         string             `json:"cycle_id,omitempty"`
	Homed           bool               `json:"homed"`
	Observation     *AxisObservation   `json:"observation,omitempty"`
	Zones           *ZoneMembership    `json:"zones,omitempty"`
	IO              *DigitalIOSnapshot `json:"io,omitempty"`
	Targets         positions.Set      `json:"targets"`
	TargetsPending  bool               `json:"targets_pending,omitempty"`
	LastFault       *Fault             `json:"last_fault,omitempty"`
	CyclesCompleted uint64             `json:"cycles_completed"`
}

// Status assembles the current Status.
func (e *Engine) Status() Status {
	ps := e.phase.get()
	st := Status{
		Mode:            e.mode.get(),
		Status:          e.status.get(),
		Phase:           ps.Phase,
		CycleID:         ps.CycleID,
		Homed:           e.homed.Load(),
		Targets:         e.targets.get(),
		TargetsPending:  e.TargetsPending(),
		CyclesCompleted: e.completed.Load(),
	}
	if obs, ok := e.observation.load(); ok {
		st.Observation = &obs
	}
	if z, ok := e.zones.load(); ok {
		st.Zones = &z
	}
	if snap, ok := e.io.load(); ok {
		st.IO = &snap
	}
	if f, ok := e.lastFault.load(); ok {
		st.LastFault = &f
	}
	return st
}

// LastFault returns the most recent fault.
func (e *Engine) LastFault() (Fault, bool) {
	return e.lastFault.load()
}

// startMonitors runs both monitors on sess. When either fails the link is
// considered lost. Caller holds e.mu.
func (e *Engine) startMonitors(sess *session) {
	g, gctx := errgroup.WithContext(sess.ctx)

	pm := &positionMonitor{
		ctrl:      sess.ctrl,
		interval:  e.cfg.PollInterval,
		tolerance: e.cfg.ZoneTolerance,
		targets:   e.targets.get,
		publish:   e.publishPosition,
		metrics:   e.metrics,
	}
	im := &ioMonitor{
		ctrl:     sess.ctrl,
		interval: e.cfg.PollInterval,
		publish:  e.publishIO,
		metrics:  e.metrics,
	}
	g.Go(func() error { return pm.run(gctx) })
	g.Go(func() error { return im.run(gctx) })

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		if err := g.Wait(); err != nil {
			e.connectionLost(sess, "monitor", err)
		}
	}()
}

// startHoming launches the homing run. Caller holds e.mu.
func (e *Engine) startHoming(sess *session) error {
	if err := e.transition(evHomeStart, fmt.Sprintf(StatusHomingFmt, motion.AxisX)); err != nil {
		return err
	}
	e.homed.Store(false)

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		err := homeAxes(sess.ctx, sess.ctrl, &e.actuator, e.homingProgress)
		e.homingFinished(sess, err)
	}()
	return nil
}

func (e *Engine) homingProgress(axis motion.Axis, done bool) {
	if !done {
		e.status.store(fmt.Sprintf(StatusHomingFmt, axis))
	}
	e.logger.Info("homing", "axis", axis.String(), "done", done)
	e.bus.Publish(Event{Type: EventHoming, Homing: &HomingProgress{Axis: axis.String(), Done: done}})
}

func (e *Engine) homingFinished(sess *session, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != sess {
		return
	}
	if err != nil {
		kind := ClassifyFault(err)
		e.raiseFault(kind, "homing", err)
		if kind == FaultConnection {
			e.teardown()
			return
		}
		_ = e.transition(evHomeFailed, StatusHomingFailed) //nolint:errcheck // Homing is the only source of this event
		return
	}
	e.homed.Store(true)
	_ = e.transition(evHomeDone, StatusHomed) //nolint:errcheck // Homing is the only source of this event
}

// startAuto launches the sequencer and the zone interlock. A fault in
// either stops both. Caller holds e.mu.
func (e *Engine) startAuto(sess *session) {
	g, gctx := errgroup.WithContext(sess.ctx)
	stop, cancel := context.WithCancel(gctx)
	run := &autoRun{stop: cancel}
	run.active.Store(true)

	seq := &sequencer{
		cfg:      e.cfg,
		ctrl:     sess.ctrl,
		actuator: &e.actuator,
		hold:     e.holdTargets,
		position: e.position,
		io:       e.io.load,
		onPhase: func(p Phase, cycleID string) {
			if run.active.Load() {
				e.publishPhase(p, cycleID)
			}
		},
		onCycle: e.publishCycle,
		metrics: e.metrics,
		logger:  e.logger,
	}
	il := &interlock{
		ctrl:     sess.ctrl,
		actuator: &e.actuator,
		interval: e.cfg.InterlockInterval,
		zones:    e.zones.load,
		io:       e.io.load,
		metrics:  e.metrics,
		logger:   e.logger,
	}
	g.Go(func() error { return seq.run(gctx, stop) })
	g.Go(func() error { return il.run(gctx, stop) })
	e.auto = run

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		err := g.Wait()
		cancel()
		e.autoFinished(sess, run, err)
	}()
}

func (e *Engine) autoFinished(sess *session, run *autoRun, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auto != run {
		return
	}
	e.auto = nil
	run.active.Store(false)

	if err == nil {
		e.publishPhase(PhaseIdle, "")
		_ = e.transition(evAutoStopped, StatusAutoDisabled) //nolint:errcheck // Guarded by e.auto
		return
	}

	kind := ClassifyFault(err)
	e.raiseFault(kind, "auto", err)
	e.publishPhase(PhaseIdle, "")
	if kind == FaultConnection {
		e.teardown()
		return
	}

	ctx, cancel := context.WithTimeout(sess.ctx, cleanupWriteTimeout)
	defer cancel()
	e.actuator.Lock()
	if werr := sess.ctrl.SetDigitalOutput(ctx, motion.DeviceXY, ChannelSrasError, true); werr != nil {
		e.logger.Warn("raising SrasError failed", "error", werr)
	}
	e.actuator.Unlock()

	_ = e.transition(evAutoStopped, StatusAutoFaulted) //nolint:errcheck // Guarded by e.auto
}

func (e *Engine) connectionLost(sess *session, source string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != sess {
		return
	}
	e.raiseFault(FaultConnection, source, err)
	e.teardown()
}

// teardown drops the session after a lost link without waiting for its
// goroutines. Caller holds e.mu.
func (e *Engine) teardown() {
	sess := e.sess
	e.detach()
	sess.ctrl.Close() //nolint:errcheck // Link is already broken

	_ = e.transition(evConnectionLost, StatusNotConnected) //nolint:errcheck // Session existed, so a connected mode is current
}

// detach cancels the current session and auto run. Goroutines belonging
// to them find themselves detached and exit quietly. Caller holds e.mu.
func (e *Engine) detach() {
	if e.auto != nil {
		e.auto.active.Store(false)
		e.auto.stop()
		e.auto = nil
		e.publishPhase(PhaseIdle, "")
	}
	e.dropTargetHold()
	e.sess.cancel()
	e.sess = nil
	e.homed.Store(false)
	e.observation.clear()
	e.zones.clear()
	e.io.clear()
}

// transition stores the status text and fires the mode event. Caller holds e.mu.
func (e *Engine) transition(event, status string) error {
	prev := e.status.get()
	e.status.store(status)
	if err := e.modes.fire(event); err != nil {
		e.status.store(prev)
		return err
	}
	return nil
}

func (e *Engine) onModeEnter(from, to Mode, event string) {
	e.mode.store(to)
	e.metrics.setMode(to)
	status := e.status.get()
	e.logger.Info("mode changed", "from", string(from), "to", string(to), "event", event, "status", status)
	e.bus.Publish(Event{Type: EventMode, Mode: to, Status: status})
}

// position returns the latest observation with zone membership at least
// as new as it.
func (e *Engine) position() (AxisObservation, ZoneMembership, bool) {
	obs, ok := e.observation.load()
	if !ok {
		return AxisObservation{}, ZoneMembership{}, false
	}
	z, ok := e.zones.load()
	return obs, z, ok
}

func (e *Engine) publishPosition(obs AxisObservation, z ZoneMembership) {
	prevObs, hadObs := e.observation.load()
	prevZones, _ := e.zones.load()
	// Zones first: a reader that sees obs also sees its membership.
	e.zones.store(z)
	e.observation.store(obs)
	e.metrics.setZones(z)

	if hadObs && prevObs.X == obs.X && prevObs.Y == obs.Y && prevObs.Z == obs.Z && prevZones == z {
		return
	}
	e.bus.Publish(Event{Type: EventPosition, At: obs.At, Observation: &obs, Zones: &z})
}

func (e *Engine) publishIO(snap DigitalIOSnapshot) {
	prev, had := e.io.load()
	e.io.store(snap)
	if had && sameBits(prev, snap) {
		return
	}
	e.bus.Publish(Event{Type: EventIO, At: snap.At, IO: &snap})
}

func (e *Engine) publishPhase(p Phase, cycleID string) {
	e.phase.store(phaseState{Phase: p, CycleID: cycleID})
	e.metrics.setPhase(p)
	e.logger.Debug("phase changed", "phase", p.String(), "cycle_id", cycleID)
	e.bus.Publish(Event{Type: EventPhase, Phase: &p, CycleID: cycleID})
}

func (e *Engine) publishCycle(rec CycleRecord) {
	if rec.Outcome == CycleComplete {
		e.completed.Add(1)
	}
	e.metrics.observeCycle(rec)
	e.logger.Info("cycle finished",
		"cycle_id", rec.ID,
		"outcome", string(rec.Outcome),
		"last_phase", rec.LastPhase.String(),
		"parked", rec.Parked,
		"duration", rec.Duration().String(),
	)
	e.bus.Publish(Event{Type: EventCycle, At: rec.EndedAt, Cycle: &rec})
}

func (e *Engine) raiseFault(kind FaultKind, source string, err error) {
	ps := e.phase.get()
	f := Fault{
		ID:      "flt-" + uuid.NewString()[:16],
		At:      time.Now(),
		Kind:    kind,
		Source:  source,
		Phase:   ps.Phase,
		CycleID: ps.CycleID,
		Message: err.Error(),
	}
	e.lastFault.store(f)
	e.metrics.observeFault(f)
	e.logger.Error("fault", "kind", string(kind), "source", source, "phase", ps.Phase.String(), "error", err)
	e.bus.Publish(Event{Type: EventFault, At: f.At, Fault: &f})
}

func sameBits(a, b DigitalIOSnapshot) bool {
	return slices.Equal(a.XY.Inputs, b.XY.Inputs) && slices.Equal(a.XY.Outputs, b.XY.Outputs) &&
		slices.Equal(a.Z.Inputs, b.Z.Inputs) && slices.Equal(a.Z.Outputs, b.Z.Outputs)
}
