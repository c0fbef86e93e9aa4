package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the daemon publishes or subscribes to.
//
// Hierarchy (one subtree per station):
//
//	transferd/{station}/state/{name}     retained engine state (mode, phase, position, io)
//	transferd/{station}/event/{kind}     cycle, fault and homing events
//	transferd/{station}/command/{name}   operator commands (connect, disconnect, home, auto)
//	transferd/{station}/system/status    online/offline, also the Last Will
const TopicPrefix = "transferd"

// Topics builds the topics of one station.
//
//	topics := mqtt.Topics{Station: "bench-1"}
//	topics.State("mode") // "transferd/bench-1/state/mode"
type Topics struct {
	Station string
}

func (t Topics) base() string {
	return TopicPrefix + "/" + t.Station
}

// State returns the retained state topic for name.
func (t Topics) State(name string) string {
	return fmt.Sprintf("%s/state/%s", t.base(), name)
}

// Event returns the topic for events of kind.
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), kind)
}

// Command returns the topic carrying command name.
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// AllCommands matches every command topic of the station.
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// SystemStatus returns the station's online/offline topic.
func (t Topics) SystemStatus() string {
	return t.base() + "/system/status"
}

// CommandName extracts the command name from a topic matched by AllCommands.
func (t Topics) CommandName(topic string) (string, bool) {
	prefix := t.base() + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(topic, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
