package transfer

import (
	"testing"
	"time"
)

func TestSequencer_SignalIgnoresStaleSnapshots(t *testing.T) {
	entered := time.Now()
	snap := DigitalIOSnapshot{
		XY: DeviceIO{Inputs: []bool{true, false, false, false}},
		At: entered.Add(-time.Millisecond),
	}
	s := &sequencer{io: func() (DigitalIOSnapshot, bool) { return snap, true }}
	rtl := s.signal(DigitalIOSnapshot.RequestToLoad, true)

	if rtl(entered) {
		t.Error("RTL satisfied by a snapshot polled before the wait began")
	}
	snap.At = entered
	if !rtl(entered) {
		t.Error("RTL not satisfied by a fresh snapshot")
	}

	s.io = func() (DigitalIOSnapshot, bool) { return DigitalIOSnapshot{}, false }
	if s.signal(DigitalIOSnapshot.RequestToLoad, false)(time.Time{}) {
		t.Error("low signal satisfied without any snapshot")
	}
}

func TestSequencer_AtIgnoresStaleObservations(t *testing.T) {
	entered := time.Now()
	obs := AxisObservation{X: 5000, At: entered.Add(-time.Millisecond)}
	s := &sequencer{position: func() (AxisObservation, ZoneMembership, bool) {
		return obs, ZoneMembership{AtRobometLoad: true}, true
	}}
	atLoad := s.at(func(z ZoneMembership) bool { return z.AtRobometLoad })

	if atLoad(entered) {
		t.Error("arrival confirmed from an observation taken before the phase")
	}
	obs.At = entered.Add(time.Millisecond)
	if !atLoad(entered) {
		t.Error("arrival not confirmed from a fresh observation")
	}
}
