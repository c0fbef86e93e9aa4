package motion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDevice answers Zaber ASCII commands on the far end of a net.Pipe.
type fakeDevice struct {
	mu       sync.Mutex
	received []string
	respond  func(device, axis int, body string) (flag, status, warn, data string)
	silent   bool
}

func (f *fakeDevice) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		var device, axis, id int
		if _, err := fmt.Sscanf(line, "/%d %d %d", &device, &axis, &id); err != nil {
			continue
		}
		fields := strings.Fields(line)
		body := strings.Join(fields[3:], " ")

		f.mu.Lock()
		f.received = append(f.received, body)
		silent := f.silent
		f.mu.Unlock()
		if silent {
			continue
		}

		flag, status, warn, data := f.respond(device, axis, body)
		fmt.Fprintf(conn, "@%02d %d %02d %s %s %s %s\r\n", device, axis, id, flag, status, warn, data)
	}
}

func (f *fakeDevice) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func newTestClient(t *testing.T, dev *fakeDevice) *Client {
	t.Helper()
	clientConn, deviceConn := net.Pipe()
	go dev.serve(deviceConn)
	c := NewClient(clientConn, Config{
		CommandTimeout:   200 * time.Millisecond,
		HomePollInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		c.Close()          //nolint:errcheck // Test cleanup
		deviceConn.Close() //nolint:errcheck // Test cleanup
	})
	return c
}

func okReply(data string) func(int, int, string) (string, string, string, string) {
	return func(int, int, string) (string, string, string, string) {
		return "OK", "IDLE", "--", data
	}
}

func TestClient_Position(t *testing.T) {
	dev := &fakeDevice{respond: okReply("12345")}
	c := newTestClient(t, dev)

	pos, err := c.Position(context.Background(), AxisY)
	if err != nil {
		t.Fatalf("Position() error = %v", err)
	}
	if pos != 12345 {
		t.Errorf("Position() = %d, want 12345", pos)
	}
	if got := dev.commands(); len(got) != 1 || got[0] != "get pos" {
		t.Errorf("commands = %v, want [get pos]", got)
	}
}

func TestClient_MoveAbsolute(t *testing.T) {
	dev := &fakeDevice{respond: okReply("0")}
	c := newTestClient(t, dev)

	if err := c.MoveAbsolute(context.Background(), AxisZ, -400); err != nil {
		t.Fatalf("MoveAbsolute() error = %v", err)
	}
	if got := dev.commands(); got[0] != "move abs -400" {
		t.Errorf("command = %q, want %q", got[0], "move abs -400")
	}
}

func TestClient_DigitalIO(t *testing.T) {
	dev := &fakeDevice{respond: func(_, _ int, body string) (string, string, string, string) {
		switch body {
		case "io get di":
			return "OK", "IDLE", "--", "1 0 1 0"
		case "io get do":
			return "OK", "IDLE", "--", "0 1 0 0"
		default:
			return "OK", "IDLE", "--", "0"
		}
	}}
	c := newTestClient(t, dev)
	ctx := context.Background()

	in, err := c.DigitalInputs(ctx, DeviceXY)
	if err != nil {
		t.Fatalf("DigitalInputs() error = %v", err)
	}
	if len(in) != 4 || !in[0] || in[1] || !in[2] {
		t.Errorf("DigitalInputs() = %v", in)
	}

	if err := c.SetDigitalOutput(ctx, DeviceXY, 2, true); err != nil {
		t.Fatalf("SetDigitalOutput() error = %v", err)
	}
	if err := c.SetAllDigitalOutputs(ctx, DeviceXY, false); err != nil {
		t.Fatalf("SetAllDigitalOutputs() error = %v", err)
	}

	want := []string{"io get di", "io set do 2 1", "io get do", "io set do port 0 0 0 0"}
	got := dev.commands()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %v, want %v", got, want)
	}

	if err := c.SetDigitalOutput(ctx, DeviceXY, 0, true); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("SetDigitalOutput(channel 0) error = %v, want ErrInvalidChannel", err)
	}
}

func TestClient_Home(t *testing.T) {
	var polls int
	dev := &fakeDevice{respond: func(_, _ int, body string) (string, string, string, string) {
		if body == "home" {
			return "OK", "BUSY", "--", "0"
		}
		polls++
		if polls < 3 {
			return "OK", "BUSY", "--", "0"
		}
		return "OK", "IDLE", "--", "0"
	}}
	c := newTestClient(t, dev)

	if err := c.Home(context.Background(), AxisX); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	got := dev.commands()
	if got[0] != "home" || len(got) != 4 {
		t.Errorf("commands = %v, want home then 3 status polls", got)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		respond func(int, int, string) (string, string, string, string)
		want    error
	}{
		{
			name: "rejected",
			respond: func(int, int, string) (string, string, string, string) {
				return "RJ", "IDLE", "--", "BADDATA"
			},
			want: ErrRejected,
		},
		{
			name: "fault flag",
			respond: func(int, int, string) (string, string, string, string) {
				return "OK", "IDLE", "FS", "0"
			},
			want: ErrAxisFault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeDevice{respond: tt.respond})
			err := c.MoveAbsolute(context.Background(), AxisX, 10)
			if !errors.Is(err, tt.want) {
				t.Errorf("MoveAbsolute() error = %v, want %v", err, tt.want)
			}
			if IsConnectionError(err) {
				t.Error("command fault classified as connection error")
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	dev := &fakeDevice{silent: true, respond: okReply("0")}
	c := newTestClient(t, dev)

	_, err := c.Position(context.Background(), AxisX)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("Position() error = %v, want ErrCommandTimeout", err)
	}
}

func TestClient_ClosedLink(t *testing.T) {
	clientConn, deviceConn := net.Pipe()
	c := NewClient(clientConn, Config{CommandTimeout: 200 * time.Millisecond})
	deviceConn.Close() //nolint:errcheck // Simulates unplugged cable

	_, err := c.Position(context.Background(), AxisX)
	if !IsConnectionError(err) {
		t.Errorf("Position() error = %v, want connection error", err)
	}

	c.Close() //nolint:errcheck // Test cleanup
	if _, err := c.Position(context.Background(), AxisX); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Position() after Close() error = %v, want ErrNotConnected", err)
	}
}

func TestOpen_Sim(t *testing.T) {
	ctrl, err := Open(context.Background(), Config{Connection: "sim://"})
	if err != nil {
		t.Fatalf("Open(sim://) error = %v", err)
	}
	defer ctrl.Close() //nolint:errcheck // Test cleanup

	if _, ok := ctrl.(*Simulator); !ok {
		t.Errorf("Open(sim://) returned %T, want *Simulator", ctrl)
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), Config{Connection: "usb://stage"})
	if !IsConnectionError(err) {
		t.Errorf("Open() error = %v, want connection error", err)
	}
}
