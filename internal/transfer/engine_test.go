package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
)

const (
	inputRTL = 0 // RequestToLoad, channel 1
	inputCTL = 3 // requester CTL, channel 4
)

var testTargets = positions.Set{
	RobometLoad: positions.Target{X: 5000, Y: 1000, Z: 300},
	XZTransfer:  positions.Target{X: 20000, Y: 1000, Z: 300},
	SrasLoad:    positions.Target{X: 40000, Y: 8000, Z: 2500},
}

type staticTargets positions.Set

func (s staticTargets) Load(context.Context) positions.Set { return positions.Set(s) }

func testConfig() Config {
	return Config{
		PollInterval:      2 * time.Millisecond,
		ZoneTolerance:     DefaultZoneTolerance,
		InterlockInterval: time.Millisecond,
		SettleDelay:       time.Millisecond,
		ResettleDelay:     time.Millisecond,
		CompletePulse:     time.Millisecond,
		ScanDuration:      time.Millisecond,
		ClearToLoad:       SignalSource{Channel: 4},
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *motion.Simulator) {
	t.Helper()
	sim := motion.NewSimulator(motion.SimulatorConfig{})
	e := New(cfg, Deps{
		Dial:    func(context.Context) (motion.Controller, error) { return sim, nil },
		Targets: staticTargets(testTargets),
	})
	t.Cleanup(func() {
		if err := e.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return e, sim
}

func connect(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "first observation", func() bool {
		_, okPos := e.Observation()
		_, okIO := e.IO()
		return okPos && okIO
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func moves(journal []string) []string {
	var out []string
	for _, entry := range journal {
		if strings.HasPrefix(entry, "move ") {
			out = append(out, entry)
		}
	}
	return out
}

func nextCycle(t *testing.T, events <-chan Event) CycleRecord {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventCycle {
				return *ev.Cycle
			}
		case <-timeout:
			t.Fatal("timed out waiting for a cycle record")
		}
	}
}

func TestEngine_ConnectSequence(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)

	if got := e.Mode(); got != ModeOnline {
		t.Fatalf("mode = %s, want online", got)
	}
	journal := sim.Journal()
	if len(journal) < 2 || journal[0] != "set xy all 0" || journal[1] != "set xy 1 1" {
		t.Errorf("connect journal = %v, want clear outputs then SrasReady", journal)
	}
	if got := e.Targets(); got != testTargets {
		t.Errorf("targets = %+v, want %+v", got, testTargets)
	}
	if err := e.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
	if st := e.Status(); st.Status != StatusNotHomed {
		t.Errorf("status = %q, want %q", st.Status, StatusNotHomed)
	}
}

func TestEngine_HomeOnConnect(t *testing.T) {
	cfg := testConfig()
	cfg.HomeOnConnect = true
	e, sim := newTestEngine(t, cfg)
	connect(t, e)

	waitFor(t, "homing complete", func() bool { return e.Status().Homed })
	if got := e.Mode(); got != ModeOnline {
		t.Errorf("mode after homing = %s, want online", got)
	}
	var homes []string
	for _, entry := range sim.Journal() {
		if strings.HasPrefix(entry, "home ") {
			homes = append(homes, entry)
		}
	}
	if strings.Join(homes, ",") != "home X,home Y,home Z" {
		t.Errorf("homes = %v, want X, Y, Z", homes)
	}
	if st := e.Status(); st.Status != StatusHomed {
		t.Errorf("status = %q, want %q", st.Status, StatusHomed)
	}
}

func TestEngine_HomingFailureReturnsOnline(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)
	sim.Fail(motion.OpHome, motion.ErrAxisFault)

	if err := e.Home(context.Background()); err != nil {
		t.Fatalf("Home: %v", err)
	}
	waitFor(t, "homing fault", func() bool { _, ok := e.LastFault(); return ok })
	waitFor(t, "online", func() bool { return e.Mode() == ModeOnline })

	f, _ := e.LastFault()
	if f.Kind != FaultCommand || f.Source != "homing" {
		t.Errorf("fault = %+v, want command fault from homing", f)
	}
	if e.Status().Homed {
		t.Error("homed after failed homing")
	}
}

func TestEngine_AutoRequiresOnline(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	if err := e.SetAuto(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetAuto while offline = %v, want ErrNotConnected", err)
	}
	connect(t, e)
	if err := e.SetAuto(false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetAuto(false) while online = %v, want ErrInvalidTransition", err)
	}
}

func TestEngine_FullCycle(t *testing.T) {
	tests := []struct {
		name       string
		dropRTL    bool
		wantParked bool
	}{
		{"requester done parks X", true, true},
		{"request held keeps position", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sim := newTestEngine(t, testConfig())
			events, unsubscribe := e.Bus().Subscribe(1024)
			defer unsubscribe()
			connect(t, e)

			if err := e.SetAuto(true); err != nil {
				t.Fatalf("SetAuto: %v", err)
			}
			waitFor(t, "WaitRequest", func() bool { return e.Phase() == PhaseWaitRequest })

			sim.SetInput(motion.DeviceXY, inputRTL, true)
			waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })
			if got := sim.Target(motion.AxisX); got != testTargets.RobometLoad.X {
				t.Fatalf("X target = %d, want RobometLoad %d", got, testTargets.RobometLoad.X)
			}

			sim.SetInput(motion.DeviceXY, inputCTL, true)
			waitFor(t, "WaitClearDrop", func() bool { return e.Phase() == PhaseWaitClearDrop })

			if tt.dropRTL {
				sim.SetInput(motion.DeviceXY, inputRTL, false)
			}
			sim.SetInput(motion.DeviceXY, inputCTL, false)

			rec := nextCycle(t, events)
			if rec.Outcome != CycleComplete {
				t.Fatalf("outcome = %s (%s), want complete", rec.Outcome, rec.Error)
			}
			if rec.Parked != tt.wantParked {
				t.Errorf("parked = %v, want %v", rec.Parked, tt.wantParked)
			}

			wantX := testTargets.RobometLoad.X
			if tt.wantParked {
				wantX = 0
			}
			if got := sim.Target(motion.AxisX); got != wantX {
				t.Errorf("X target = %d, want %d", got, wantX)
			}

			if tt.dropRTL {
				waitFor(t, "back to WaitRequest", func() bool { return e.Phase() == PhaseWaitRequest })
			} else {
				waitFor(t, "next cycle holds for CTL", func() bool { return e.Phase() == PhaseWaitClearToLoad })
			}
			if got := e.Status().CyclesCompleted; got != 1 {
				t.Errorf("cycles completed = %d, want 1", got)
			}

			journal := sim.Journal()
			if !containsAll(journal, "set xy 3 1", "set xy 3 0") {
				t.Errorf("SrasComplete pulse missing from %v", journal)
			}
		})
	}
}

func TestEngine_FullCycleMoveOrder(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	events, unsubscribe := e.Bus().Subscribe(1024)
	defer unsubscribe()
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })
	sim.SetInput(motion.DeviceXY, inputCTL, true)
	waitFor(t, "WaitClearDrop", func() bool { return e.Phase() == PhaseWaitClearDrop })
	sim.SetInput(motion.DeviceXY, inputRTL, false)
	sim.SetInput(motion.DeviceXY, inputCTL, false)
	nextCycle(t, events)

	want := []string{
		"move X 5000", "move Y 1000", "move Z 300",
		"move X 20000", "move Y 1000", "move Z 300",
		"move Z 0", "move X 40000", "move Y 8000", "move Z 2500",
		"move Z 0",
		"move Y 8000", "move Z 2500", "move Z 0", "move X 20000", "move Y 1000", "move Z 300",
		"move Z 300", "move Y 1000", "move X 5000",
		"move X 0",
	}
	if got := moves(sim.Journal()); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("moves =\n%v\nwant\n%v", got, want)
	}
}

func TestEngine_AutoOffDuringWait(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })
	firstCycle := e.Status().CycleID

	if err := e.SetAuto(false); err != nil {
		t.Fatalf("SetAuto(false): %v", err)
	}
	waitFor(t, "online", func() bool { return e.Mode() == ModeOnline })
	if got := e.Phase(); got != PhaseIdle {
		t.Errorf("phase after stop = %s, want Idle", got)
	}

	before := len(moves(sim.Journal()))
	sim.SetInput(motion.DeviceXY, inputCTL, true)
	time.Sleep(20 * time.Millisecond)
	if after := len(moves(sim.Journal())); after != before {
		t.Fatalf("moves issued after auto off: %v", moves(sim.Journal())[before:])
	}

	sim.SetInput(motion.DeviceXY, inputRTL, false)
	sim.SetInput(motion.DeviceXY, inputCTL, false)
	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto again: %v", err)
	}
	waitFor(t, "fresh WaitRequest", func() bool { return e.Phase() == PhaseWaitRequest })
	if id := e.Status().CycleID; id == firstCycle || id == "" {
		t.Errorf("cycle id = %q, want a fresh one (previous %q)", id, firstCycle)
	}
	if after := len(moves(sim.Journal())); after != before {
		t.Errorf("re-enabled engine moved before a request: %v", moves(sim.Journal())[before:])
	}
}

func TestEngine_TargetEditDeferredUntilCycleEnds(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	events, unsubscribe := e.Bus().Subscribe(1024)
	defer unsubscribe()
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })

	edited := testTargets
	edited.XZTransfer.X += 5000
	e.SetTargets(edited)
	if got := e.Targets(); got != testTargets {
		t.Errorf("targets changed mid-cycle: %+v", got)
	}
	if !e.Status().TargetsPending {
		t.Error("edit not reported as pending")
	}

	sim.SetInput(motion.DeviceXY, inputCTL, true)
	waitFor(t, "WaitClearDrop", func() bool { return e.Phase() == PhaseWaitClearDrop })
	sim.SetInput(motion.DeviceXY, inputRTL, false)
	sim.SetInput(motion.DeviceXY, inputCTL, false)

	rec := nextCycle(t, events)
	if rec.Outcome != CycleComplete {
		t.Fatalf("outcome = %s (%s), want complete", rec.Outcome, rec.Error)
	}
	if rec.Targets != testTargets {
		t.Errorf("cycle targets = %+v, want the ones held at the request", rec.Targets)
	}
	journal := sim.Journal()
	if !containsAll(journal, "move X 20000") || containsAll(journal, "move X 25000") {
		t.Errorf("cycle did not use the held XZTransfer target: %v", moves(journal))
	}

	waitFor(t, "deferred targets applied", func() bool { return e.Targets() == edited })
	if e.TargetsPending() {
		t.Error("edit still pending after the cycle ended")
	}
	if got := e.Mode(); got != ModeAutoRunning {
		t.Errorf("mode = %s, want auto_running", got)
	}
}

func TestEngine_TargetEditBeforeRequestUsedByCycle(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	waitFor(t, "WaitRequest", func() bool { return e.Phase() == PhaseWaitRequest })

	edited := testTargets
	edited.RobometLoad.X = 7777
	e.SetTargets(edited)
	if got := e.Targets(); got != edited {
		t.Fatalf("targets = %+v, want the edit applied while idle", got)
	}

	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })
	if got := sim.Target(motion.AxisX); got != 7777 {
		t.Errorf("X target = %d, want edited RobometLoad 7777", got)
	}
	waitFor(t, "classified at RobometLoad", func() bool {
		z, ok := e.Zones()
		return ok && z.AtRobometLoad
	})
}

func TestEngine_CommandFaultAbortsCycle(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	events, unsubscribe := e.Bus().Subscribe(1024)
	defer unsubscribe()
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })

	sim.Fail(motion.OpMove, motion.ErrRejected)
	before := len(moves(sim.Journal()))
	sim.SetInput(motion.DeviceXY, inputCTL, true)

	rec := nextCycle(t, events)
	if rec.Outcome != CycleFaulted || rec.LastPhase != PhaseWaitClearToLoad {
		t.Errorf("cycle = %s at %s, want faulted at WaitClearToLoad", rec.Outcome, rec.LastPhase)
	}
	waitFor(t, "online", func() bool { return e.Mode() == ModeOnline })

	f, ok := e.LastFault()
	if !ok || f.Kind != FaultCommand {
		t.Fatalf("last fault = %+v, want command fault", f)
	}
	if !strings.Contains(f.Message, "rejected") {
		t.Errorf("fault message = %q, want the controller rejection", f.Message)
	}
	if e.Status().Status != StatusAutoFaulted {
		t.Errorf("status = %q, want %q", e.Status().Status, StatusAutoFaulted)
	}

	sim.Fail(motion.OpMove, nil)
	time.Sleep(20 * time.Millisecond)
	if after := len(moves(sim.Journal())); after != before {
		t.Errorf("moves issued after fault: %v", moves(sim.Journal())[before:])
	}
	if !containsAll(sim.Journal(), "set xy 4 1") {
		t.Error("SrasError not raised after fault")
	}
}

func TestEngine_WaitTimeoutEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.SignalTimeout = 20 * time.Millisecond
	e, sim := newTestEngine(t, cfg)
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)

	waitFor(t, "timeout fault", func() bool { _, ok := e.LastFault(); return ok })
	waitFor(t, "online", func() bool { return e.Mode() == ModeOnline })

	f, _ := e.LastFault()
	if f.Kind != FaultWaitTimeout || f.Phase != PhaseWaitClearToLoad {
		t.Errorf("fault = %+v, want wait_timeout in WaitClearToLoad", f)
	}
}

func TestEngine_WaitRequestIsUnbounded(t *testing.T) {
	cfg := testConfig()
	cfg.SignalTimeout = 5 * time.Millisecond
	cfg.ArrivalTimeout = 5 * time.Millisecond
	e, _ := newTestEngine(t, cfg)
	connect(t, e)

	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if e.Mode() != ModeAutoRunning || e.Phase() != PhaseWaitRequest {
		t.Errorf("mode %s phase %s, want auto_running in WaitRequest", e.Mode(), e.Phase())
	}
}

func TestEngine_ConnectionLossGoesOffline(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)
	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}

	sim.Fail(motion.OpPosition, motion.ErrConnection)
	waitFor(t, "offline", func() bool { return e.Mode() == ModeOffline })

	f, _ := e.LastFault()
	if f.Kind != FaultConnection {
		t.Errorf("fault kind = %s, want connection", f.Kind)
	}
	st := e.Status()
	if st.Observation != nil || st.Phase != PhaseIdle || st.Status != StatusNotConnected {
		t.Errorf("status after loss = %+v", st)
	}
	if err := e.SetAuto(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetAuto after loss = %v, want ErrNotConnected", err)
	}
}

func TestEngine_DisconnectDuringCycle(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	connect(t, e)
	if err := e.SetAuto(true); err != nil {
		t.Fatalf("SetAuto: %v", err)
	}
	sim.SetInput(motion.DeviceXY, inputRTL, true)
	waitFor(t, "WaitClearToLoad", func() bool { return e.Phase() == PhaseWaitClearToLoad })

	if err := e.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if e.Mode() != ModeOffline {
		t.Errorf("mode = %s, want offline", e.Mode())
	}
	if _, err := sim.Position(context.Background(), motion.AxisX); !errors.Is(err, motion.ErrNotConnected) {
		t.Errorf("controller still open after Disconnect: %v", err)
	}
	if err := e.Disconnect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestEngine_CurrentTarget(t *testing.T) {
	e, sim := newTestEngine(t, testConfig())
	if _, err := e.CurrentTarget(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CurrentTarget offline = %v, want ErrNotConnected", err)
	}
	connect(t, e)

	if err := sim.MoveAbsolute(context.Background(), motion.AxisY, 1234); err != nil {
		t.Fatalf("MoveAbsolute: %v", err)
	}
	waitFor(t, "observed move", func() bool {
		obs, _ := e.Observation()
		return obs.Y == 1234
	})
	got, err := e.CurrentTarget()
	if err != nil {
		t.Fatalf("CurrentTarget: %v", err)
	}
	if got != (positions.Target{Y: 1234}) {
		t.Errorf("CurrentTarget = %+v, want y=1234", got)
	}
}

func containsAll(journal []string, entries ...string) bool {
	seen := make(map[string]bool, len(journal))
	for _, j := range journal {
		seen[j] = true
	}
	for _, e := range entries {
		if !seen[e] {
			return false
		}
	}
	return true
}
