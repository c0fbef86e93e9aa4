package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPosition = "stage_position"
	MeasurementIO       = "handshake_io"
	MeasurementCycle    = "transfer_cycle"
	MeasurementFault    = "engine_fault"
)

// WritePosition records one stage position sample and the zone flags
// computed from it. Non-blocking; points are batched.
func (c *Client) WritePosition(x, y, z int64, zones map[string]bool, at time.Time) {
	fields := map[string]any{"x": x, "y": y, "z": z}
	for name, in := range zones {
		fields["at_"+name] = in
	}
	c.writePoint(MeasurementPosition, nil, fields, at)
}

// WriteIO records the digital lines of one controller. Channels are
// written as in1..inN and out1..outN.
func (c *Client) WriteIO(device string, inputs, outputs []bool, at time.Time) {
	fields := make(map[string]any, len(inputs)+len(outputs))
	for i, v := range inputs {
		fields[fmt.Sprintf("in%d", i+1)] = v
	}
	for i, v := range outputs {
		fields[fmt.Sprintf("out%d", i+1)] = v
	}
	if len(fields) == 0 {
		return
	}
	c.writePoint(MeasurementIO, map[string]string{"device": device}, fields, at)
}

// WriteCycle records a finished transfer cycle.
func (c *Client) WriteCycle(id, outcome, lastPhase string, duration time.Duration, parked bool, at time.Time) {
	c.writePoint(MeasurementCycle,
		map[string]string{"outcome": outcome},
		map[string]any{
			"cycle_id":         id,
			"last_phase":       lastPhase,
			"duration_seconds": duration.Seconds(),
			"parked":           parked,
		},
		at,
	)
}

// WriteFault records an engine fault.
func (c *Client) WriteFault(kind, source, phase, message string, at time.Time) {
	c.writePoint(MeasurementFault,
		map[string]string{"kind": kind, "source": source},
		map[string]any{"phase": phase, "message": message},
		at,
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	all["station"] = c.station

	c.writeAPI.WritePoint(write.NewPoint(measurement, all, fields, at))
}
