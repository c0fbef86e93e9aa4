package transfer

import "time"

// SignalSource locates a handshake line in the XY I/O snapshot.
type SignalSource struct {
	// Output selects the output bank; otherwise the input bank is read.
	Output bool

	// Channel is 1-based.
	Channel int
}

func (s SignalSource) read(snap DigitalIOSnapshot) bool {
	if s.Output {
		return bit(snap.XY.Outputs, s.Channel)
	}
	return bit(snap.XY.Inputs, s.Channel)
}

// Config tunes the engine's loops and waits.
type Config struct {
	// PollInterval is the monitor cadence and the sequencer wait tick.
	PollInterval time.Duration

	// ZoneTolerance is the half-width of every zone window, in steps.
	ZoneTolerance int64

	// InterlockInterval is the pause between zone interlock iterations.
	InterlockInterval time.Duration

	// SettleDelay follows the move to XZTransfer; ResettleDelay is the
	// re-pick pause at SrasLoad before lifting Z.
	SettleDelay   time.Duration
	ResettleDelay time.Duration

	// CompletePulse is how long SrasComplete is held high.
	CompletePulse time.Duration

	// ScanDuration is the fixed dwell standing in for the scan.
	ScanDuration time.Duration

	// SignalTimeout bounds the clear-to-load waits and ArrivalTimeout the
	// zone arrival waits. Zero waits forever. WaitRequest is never bounded.
	SignalTimeout  time.Duration
	ArrivalTimeout time.Duration

	// HomeOnConnect starts homing as soon as a connection is established.
	HomeOnConnect bool

	// ClearToLoad is the line the sequencer treats as CTL.
	ClearToLoad SignalSource
}

// DefaultConfig returns the bench defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      DefaultPollInterval,
		ZoneTolerance:     DefaultZoneTolerance,
		InterlockInterval: 50 * time.Millisecond,
		SettleDelay:       DefaultPollInterval,
		ResettleDelay:     500 * time.Millisecond,
		CompletePulse:     time.Second,
		ScanDuration:      10 * time.Second,
		SignalTimeout:     10 * time.Minute,
		ArrivalTimeout:    2 * time.Minute,
		HomeOnConnect:     true,
		ClearToLoad:       SignalSource{Channel: 4},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ZoneTolerance <= 0 {
		c.ZoneTolerance = d.ZoneTolerance
	}
	if c.InterlockInterval <= 0 {
		c.InterlockInterval = d.InterlockInterval
	}
	if c.ClearToLoad.Channel <= 0 {
		c.ClearToLoad = d.ClearToLoad
	}
	return c
}
