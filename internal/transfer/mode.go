package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Mode machine events.
const (
	evConnect        = "connect"
	evDisconnect     = "disconnect"
	evConnectionLost = "connection_lost"
	evHomeStart      = "home_start"
	evHomeDone       = "home_done"
	evHomeFailed     = "home_failed"
	evAutoOn         = "auto_on"
	evAutoOff        = "auto_off"
	evAutoStopped    = "auto_stopped"
)

var connectedModes = []string{
	string(ModeOnline), string(ModeHoming), string(ModeAutoIdle), string(ModeAutoRunning),
}

var modeEvents = fsm.Events{
	{Name: evConnect, Src: []string{string(ModeOffline)}, Dst: string(ModeOnline)},
	{Name: evDisconnect, Src: connectedModes, Dst: string(ModeOffline)},
	{Name: evConnectionLost, Src: connectedModes, Dst: string(ModeOffline)},
	{Name: evHomeStart, Src: []string{string(ModeOnline)}, Dst: string(ModeHoming)},
	{Name: evHomeDone, Src: []string{string(ModeHoming)}, Dst: string(ModeOnline)},
	{Name: evHomeFailed, Src: []string{string(ModeHoming)}, Dst: string(ModeOnline)},
	{Name: evAutoOn, Src: []string{string(ModeOnline)}, Dst: string(ModeAutoRunning)},
	{Name: evAutoOff, Src: []string{string(ModeAutoRunning)}, Dst: string(ModeAutoIdle)},
	{Name: evAutoStopped, Src: []string{string(ModeAutoRunning), string(ModeAutoIdle)}, Dst: string(ModeOnline)},
}

// modeMachine guards EngineMode transitions. Callers serialise access;
// onEnter runs synchronously after each successful transition.
type modeMachine struct {
	fsm     *fsm.FSM
	onEnter func(from, to Mode, event string)
}

func newModeMachine(onEnter func(from, to Mode, event string)) *modeMachine {
	m := &modeMachine{onEnter: onEnter}
	m.fsm = fsm.NewFSM(
		string(ModeOffline),
		modeEvents,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if m.onEnter != nil {
					m.onEnter(Mode(e.Src), Mode(e.Dst), e.Event)
				}
			},
		},
	)
	return m
}

func (m *modeMachine) current() Mode {
	return Mode(m.fsm.Current())
}

func (m *modeMachine) can(event string) bool {
	return m.fsm.Can(event)
}

// fire applies event, mapping refusals to ErrInvalidTransition.
func (m *modeMachine) fire(event string) error {
	err := m.fsm.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.current())
}
