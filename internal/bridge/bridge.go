package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/mqtt"
	"github.com/TKAles/transfercontrollerdaemon/internal/transfer"
)

const (
	// commandTimeout bounds one operator command. Connect dials the
	// controller, so this is generous.
	commandTimeout = 30 * time.Second

	// recordTimeout bounds one history write.
	recordTimeout = 5 * time.Second

	// eventBuffer is the bus subscription depth.
	eventBuffer = 256

	// pruneInterval is how often expired history is removed.
	pruneInterval = time.Hour

	// commandQueue is how many commands may wait behind the one executing.
	commandQueue = 8
)

// Engine is the part of transfer.Engine the bridge drives.
type Engine interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Home(ctx context.Context) error
	SetAuto(enabled bool) error
	Mode() transfer.Mode
	Status() transfer.Status
	Bus() *transfer.Bus
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Telemetry receives time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WritePosition(x, y, z int64, zones map[string]bool, at time.Time)
	WriteIO(device string, inputs, outputs []bool, at time.Time)
	WriteCycle(id, outcome, lastPhase string, duration time.Duration, parked bool, at time.Time)
	WriteFault(kind, source, phase, message string, at time.Time)
}

// Recorder persists finished cycles and faults. history.SQLiteRepository
// satisfies it.
type Recorder interface {
	RecordCycle(ctx context.Context, rec transfer.CycleRecord) error
	RecordFault(ctx context.Context, f transfer.Fault) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Auditor records operator commands. audit.SQLiteRepository satisfies it.
type Auditor interface {
	Record(ctx context.Context, e *audit.Entry) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge. Only Engine is required; each sink that is
// nil is skipped.
type Options struct {
	Engine    Engine
	MQTT      MQTTClient
	Topics    mqtt.Topics
	Telemetry Telemetry
	Recorder  Recorder
	Audit     Auditor
	Logger    Logger

	// Retention enables periodic pruning of the Recorder. Zero disables it.
	Retention time.Duration
}

// Bridge relays engine events to MQTT, InfluxDB and the history database,
// and turns MQTT commands into engine calls.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	engine    Engine
	mqtt      MQTTClient
	topics    mqtt.Topics
	telemetry Telemetry
	recorder  Recorder
	audit     Auditor
	logger    Logger
	retention time.Duration

	// Commands run one at a time off the MQTT router goroutine.
	commands chan queuedCommand

	unsubscribe func()
	wg          sync.WaitGroup
	stopOnce    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a bridge. Call Start to begin relaying.
func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.MQTT != nil && opts.Topics.Station == "" {
		return nil, fmt.Errorf("station topics are required with MQTT")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		engine:    opts.Engine,
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		telemetry: opts.Telemetry,
		recorder:  opts.Recorder,
		audit:     opts.Audit,
		logger:    opts.Logger,
		retention: opts.Retention,
		commands:  make(chan queuedCommand, commandQueue),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start subscribes to the engine bus and the command topics and publishes
// the current mode.
func (b *Bridge) Start(ctx context.Context) error {
	events, unsubscribe := b.engine.Bus().Subscribe(eventBuffer)
	b.unsubscribe = unsubscribe

	if b.mqtt != nil {
		if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.handleMQTTMessage); err != nil {
			unsubscribe()
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", b.topics.AllCommands())
	}

	st := b.engine.Status()
	b.publishState("mode", ModeState{Mode: st.Mode, Status: st.Status, Timestamp: time.Now().UTC()})

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		for ev := range events {
			b.handleEvent(ev)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.commandLoop()
	}()

	if (b.recorder != nil || b.audit != nil) && b.retention > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.pruneLoop(ctx)
		}()
	}

	b.logInfo("bridge started", "station", b.topics.Station)
	return nil
}

// Stop unsubscribes from the engine and waits for in-flight work.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

type queuedCommand struct {
	name string
	cmd  CommandMessage
}

// handleMQTTMessage decodes a command topic and queues it for the engine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	name, ok := b.topics.CommandName(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	var cmd CommandMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			b.publishAck(name, cmd, ErrCodeInvalidPayload, err)
			return nil
		}
	}

	b.logInfo("received command", "command", name, "command_id", cmd.ID, "source", cmd.Source)

	select {
	case b.commands <- queuedCommand{name: name, cmd: cmd}:
	default:
		b.publishAck(name, cmd, ErrCodeBusy, errors.New("command queue full"))
	}
	return nil
}

func (b *Bridge) commandLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case q := <-b.commands:
			code, err := b.execute(q.name, q.cmd)
			b.recordAudit(q.name, q.cmd, err)
			b.publishAck(q.name, q.cmd, code, err)
		}
	}
}

// execute runs one command and classifies any failure.
func (b *Bridge) execute(name string, cmd CommandMessage) (string, error) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var err error
	switch name {
	case CommandConnect:
		err = b.engine.Connect(ctx)
	case CommandDisconnect:
		err = b.engine.Disconnect(ctx)
	case CommandHome:
		err = b.engine.Home(ctx)
	case CommandAuto:
		if cmd.Enabled == nil {
			return ErrCodeInvalidPayload, errors.New(`auto requires "enabled"`)
		}
		err = b.engine.SetAuto(*cmd.Enabled)
	default:
		return ErrCodeInvalidCommand, fmt.Errorf("unknown command: %s", name)
	}

	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, transfer.ErrNotConnected):
		return ErrCodeNotConnected, err
	case errors.Is(err, transfer.ErrInvalidTransition), errors.Is(err, transfer.ErrAlreadyConnected):
		return ErrCodeInvalidState, err
	default:
		return ErrCodeEngineError, err
	}
}

// recordAudit stores a command that reached the engine. Commands rejected
// before execution (bad payload, unknown name) are not operator actions.
func (b *Bridge) recordAudit(name string, cmd CommandMessage, err error) {
	if b.audit == nil {
		return
	}
	action := name
	switch name {
	case CommandConnect, CommandDisconnect, CommandHome:
	case CommandAuto:
		if cmd.Enabled == nil {
			return
		}
		action = audit.ActionAutoOff
		if *cmd.Enabled {
			action = audit.ActionAutoOn
		}
	default:
		return
	}

	e := audit.NewEntry(action, audit.SourceMQTT, cmd.Source, err)
	if cmd.ID != "" {
		e.Details = map[string]any{"command_id": cmd.ID}
	}
	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()
	if recErr := b.audit.Record(ctx, e); recErr != nil {
		b.logError("failed to record audit entry", recErr, "command", name)
	}
}

func (b *Bridge) publishAck(name string, cmd CommandMessage, code string, err error) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Command:   name,
		Timestamp: time.Now().UTC(),
		Status:    AckAccepted,
		Mode:      b.engine.Mode(),
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: code, Message: err.Error()}
		b.logError("command failed", err, "command", name, "code", code)
	}
	b.publish(b.topics.Event("ack"), ack, false)
}

// handleEvent fans one engine event out to every configured sink.
func (b *Bridge) handleEvent(ev transfer.Event) {
	switch ev.Type {
	case transfer.EventMode:
		b.publishState("mode", ModeState{Mode: ev.Mode, Status: ev.Status, Timestamp: ev.At.UTC()})

	case transfer.EventPhase:
		if ev.Phase != nil {
			b.publishState("phase", PhaseState{Phase: *ev.Phase, CycleID: ev.CycleID, Timestamp: ev.At.UTC()})
		}

	case transfer.EventPosition:
		if ev.Observation == nil || ev.Zones == nil {
			return
		}
		b.publishState("position", PositionState{Observation: *ev.Observation, Zones: *ev.Zones})
		if b.telemetry != nil {
			obs := ev.Observation
			b.telemetry.WritePosition(obs.X, obs.Y, obs.Z, zoneFields(*ev.Zones), obs.At)
		}

	case transfer.EventIO:
		if ev.IO == nil {
			return
		}
		b.publishState("io", ev.IO)
		if b.telemetry != nil {
			b.telemetry.WriteIO("xy", ev.IO.XY.Inputs, ev.IO.XY.Outputs, ev.IO.At)
			b.telemetry.WriteIO("z", ev.IO.Z.Inputs, ev.IO.Z.Outputs, ev.IO.At)
		}

	case transfer.EventHoming:
		if ev.Homing != nil {
			b.publish(b.topics.Event("homing"), ev.Homing, false)
		}

	case transfer.EventCycle:
		if ev.Cycle != nil {
			b.recordCycle(*ev.Cycle)
		}

	case transfer.EventFault:
		if ev.Fault != nil {
			b.recordFault(*ev.Fault)
		}
	}
}

func (b *Bridge) recordCycle(rec transfer.CycleRecord) {
	b.publish(b.topics.Event("cycle"), rec, false)
	if b.telemetry != nil {
		b.telemetry.WriteCycle(rec.ID, string(rec.Outcome), rec.LastPhase.String(), rec.Duration(), rec.Parked, rec.EndedAt)
	}
	if b.recorder != nil {
		ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		defer cancel()
		if err := b.recorder.RecordCycle(ctx, rec); err != nil {
			b.logError("failed to record cycle", err, "cycle_id", rec.ID)
		}
	}
}

func (b *Bridge) recordFault(f transfer.Fault) {
	b.publish(b.topics.Event("fault"), f, false)
	if b.telemetry != nil {
		b.telemetry.WriteFault(string(f.Kind), f.Source, f.Phase.String(), f.Message, f.At)
	}
	if b.recorder != nil {
		ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		defer cancel()
		if err := b.recorder.RecordFault(ctx, f); err != nil {
			b.logError("failed to record fault", err, "fault_id", f.ID)
		}
	}
}

func (b *Bridge) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		b.prune()
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) prune() {
	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()

	before := time.Now().Add(-b.retention)
	if b.recorder != nil {
		n, err := b.recorder.Prune(ctx, before)
		if err != nil {
			b.logError("failed to prune history", err)
		} else if n > 0 {
			b.logInfo("pruned history", "rows", n)
		}
	}
	if b.audit != nil {
		n, err := b.audit.Prune(ctx, before)
		if err != nil {
			b.logError("failed to prune audit log", err)
		} else if n > 0 {
			b.logInfo("pruned audit log", "rows", n)
		}
	}
}

func (b *Bridge) publishState(name string, v any) {
	b.publish(b.topics.State(name), v, true)
}

func (b *Bridge) publish(topic string, v any, retained bool) {
	if b.mqtt == nil || !b.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal payload", err, "topic", topic)
		return
	}
	if err := b.mqtt.Publish(topic, payload, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

func zoneFields(z transfer.ZoneMembership) map[string]bool {
	return map[string]bool{
		"home":         z.AtHome,
		"robomet_load": z.AtRobometLoad,
		"xz_transfer":  z.AtXZTransfer,
		"sras_load":    z.AtSrasLoad,
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
