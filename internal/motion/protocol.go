package motion

import (
	"fmt"
	"strconv"
	"strings"
)

// Zaber ASCII protocol framing.
//
// Commands:  /<device> <axis> <id> <command...>\n
// Replies:   @<device> <axis> <id> <OK|RJ> <IDLE|BUSY> <warning> <data...>\r\n
//
// Lines starting with '#' (info) or '!' (alert) are unsolicited and skipped.
// Message IDs run 0..99 and let the client drop replies to commands that
// already timed out.
const (
	maxMessageID   = 100
	noWarning      = "--"
	statusIdle     = "IDLE"
	replyAccepted  = "OK"
	replyRejected  = "RJ"
	minReplyFields = 5
)

// reply is one parsed controller response.
type reply struct {
	Device   int
	Axis     int
	ID       int // -1 when the reply carries no message ID
	Rejected bool
	Idle     bool
	Warning  string
	Data     string
}

// Fault reports whether the warning flag is a fault (F*).
func (r reply) Fault() bool {
	return strings.HasPrefix(r.Warning, "F")
}

// formatCommand renders a command line. An empty body polls status.
func formatCommand(device, axis, id int, body string) string {
	if body == "" {
		return fmt.Sprintf("/%d %d %d\n", device, axis, id)
	}
	return fmt.Sprintf("/%d %d %d %s\n", device, axis, id, body)
}

// parseReply parses a reply line. ok is false for lines that are not
// replies (info, alert, blank) and should be skipped.
func parseReply(line string) (r reply, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || line[0] != '@' {
		return reply{}, false, nil
	}

	// Strip an optional ":XX" checksum.
	if i := strings.LastIndexByte(line, ':'); i > 0 && len(line)-i == 3 {
		line = line[:i]
	}

	fields := strings.Fields(line[1:])
	if len(fields) < minReplyFields {
		return reply{}, true, fmt.Errorf("%w: %q", ErrBadReply, line)
	}

	r.ID = -1
	if r.Device, err = strconv.Atoi(fields[0]); err != nil {
		return reply{}, true, fmt.Errorf("%w: device in %q", ErrBadReply, line)
	}
	if r.Axis, err = strconv.Atoi(fields[1]); err != nil {
		return reply{}, true, fmt.Errorf("%w: axis in %q", ErrBadReply, line)
	}

	rest := fields[2:]
	if id, convErr := strconv.Atoi(rest[0]); convErr == nil {
		r.ID = id
		rest = rest[1:]
	}
	if len(rest) < 3 {
		return reply{}, true, fmt.Errorf("%w: %q", ErrBadReply, line)
	}

	switch rest[0] {
	case replyAccepted:
	case replyRejected:
		r.Rejected = true
	default:
		return reply{}, true, fmt.Errorf("%w: flag %q in %q", ErrBadReply, rest[0], line)
	}
	r.Idle = rest[1] == statusIdle
	r.Warning = rest[2]
	r.Data = strings.Join(rest[3:], " ")

	return r, true, nil
}

// parseBits parses a space-separated list of 0/1 values.
func parseBits(data string) ([]bool, error) {
	fields := strings.Fields(data)
	bits := make([]bool, len(fields))
	for i, f := range fields {
		switch f {
		case "0":
		case "1":
			bits[i] = true
		default:
			return nil, fmt.Errorf("%w: bit %q", ErrBadReply, f)
		}
	}
	return bits, nil
}

// parsePosition parses a single integer step position.
func parsePosition(data string) (int64, error) {
	pos, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: position %q", ErrBadReply, data)
	}
	return pos, nil
}

func bitString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
