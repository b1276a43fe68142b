// Package fryer provides the shell commands talking to the oven node.
package fryer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robotalks/airfryer/pkg/cli/sh"
	"github.com/robotalks/airfryer/pkg/l0/comm"
	"github.com/robotalks/airfryer/pkg/telemetry/mqtt"
)

// UserInput is the reply of the input command.
type UserInput struct {
	Code int32  `json:"code"`
	Name string `json:"name"`
}

func (u UserInput) String() string {
	return fmt.Sprintf("%s (%d)", u.Name, u.Code)
}

// RawReply is the reply of the raw command.
type RawReply struct {
	Bytes string `json:"bytes"`
	Frame string `json:"frame,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r RawReply) String() string {
	switch {
	case r.Bytes == "":
		return "(no reply)"
	case r.Frame != "":
		return r.Bytes + "\n" + r.Frame
	}
	return r.Bytes + "\n" + r.Error
}

var (
	// InternalOp reads the internal temperature.
	InternalOp = sh.Op{
		Name:    "internal",
		Aliases: []string{"in"},
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			return s.Client().ReadInternalTemperature(ctx)
		},
	}

	// ReferenceOp reads the reference temperature.
	ReferenceOp = sh.Op{
		Name:    "reference",
		Aliases: []string{"ref"},
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			return s.Client().ReadReferenceTemperature(ctx)
		},
	}

	// InputOp reads the last user command on the node.
	InputOp = sh.Op{
		Name: "input",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			cmd, err := s.Client().ReadUserInput(ctx)
			if err != nil {
				return nil, err
			}
			return UserInput{Code: int32(cmd), Name: cmd.String()}, nil
		},
	}

	// SignalOp sends a control signal.
	SignalOp = sh.Op{
		Name:    "signal",
		Aliases: []string{"sig"},
		Help:    "PERCENT(-100..100)",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			v, err := intArg(args, "PERCENT")
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendControlSignal(ctx, v)
		},
	}

	// RefSignalOp sends the reference temperature in use.
	RefSignalOp = sh.Op{
		Name: "refsignal",
		Help: "CELSIUS",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			v, err := floatArg(args, "CELSIUS")
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendReferenceSignal(ctx, v)
		},
	}

	// SystemOp sends the system state.
	SystemOp = sh.Op{
		Name: "system",
		Help: "on|off",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			on, err := onOffArg(args)
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendSystemState(ctx, on)
		},
	}

	// FunctioningOp sends the functioning state.
	FunctioningOp = sh.Op{
		Name:    "functioning",
		Aliases: []string{"func"},
		Help:    "on|off",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			on, err := onOffArg(args)
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendFunctioningState(ctx, on)
		},
	}

	// ModeOp selects the control mode.
	ModeOp = sh.Op{
		Name: "mode",
		Help: "dashboard|terminal",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("MODE required")
			}
			var mode comm.ControlMode
			switch strings.ToLower(args[0]) {
			case "dashboard", "d":
				mode = comm.ModeDashboard
			case "terminal", "t":
				mode = comm.ModeTerminal
			default:
				return nil, fmt.Errorf("invalid MODE %q", args[0])
			}
			return nil, s.Client().SetControlMode(ctx, mode)
		},
	}

	// TimerOp sends the timer value.
	TimerOp = sh.Op{
		Name: "timer",
		Help: "VALUE",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			v, err := intArg(args, "VALUE")
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendTimerValue(ctx, v)
		},
	}

	// IntOp pushes a plain int.
	IntOp = sh.Op{
		Name: "int",
		Help: "VALUE",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			v, err := intArg(args, "VALUE")
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendInt(ctx, v)
		},
	}

	// FloatOp pushes a plain float.
	FloatOp = sh.Op{
		Name: "float",
		Help: "VALUE",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			v, err := floatArg(args, "VALUE")
			if err != nil {
				return nil, err
			}
			return nil, s.Client().SendFloat(ctx, v)
		},
	}

	// StringOp pushes a string.
	StringOp = sh.Op{
		Name:    "string",
		Aliases: []string{"str"},
		Help:    "TEXT...",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			return nil, s.Client().SendString(ctx, strings.Join(args, " "))
		},
	}

	// RawOp sends raw bytes and dumps the reply.
	RawOp = sh.Op{
		Name: "raw",
		Help: "HEX... (checksum appended with -c as first arg)",
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			appendCRC := len(args) > 0 && args[0] == "-c"
			if appendCRC {
				args = args[1:]
			}
			data, err := hexArgs(args)
			if err != nil {
				return nil, err
			}
			if appendCRC {
				data = comm.AppendChecksum(data)
			}
			client := s.Client()
			if err := client.Port.Send(data); err != nil {
				return nil, err
			}
			reply, err := client.Port.Receive(ctx, client.MaxResponse, client.Timeout)
			if err != nil {
				return nil, err
			}
			res := RawReply{Bytes: fmt.Sprintf("% x", reply)}
			if len(reply) > 0 {
				if f, err := comm.Decode(reply); err != nil {
					res.Error = err.Error()
				} else {
					res.Frame = f.String()
				}
			}
			return res, nil
		},
	}

	// CRCOp computes the checksum of the given bytes.
	CRCOp = sh.Op{
		Name:    "crc",
		Help:    "HEX...",
		Offline: true,
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			data, err := hexArgs(args)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("0x%04x", comm.Checksum(data)), nil
		},
	}

	// WatchOp prints samples published by controllers over MQTT.
	WatchOp = sh.Op{
		Name:      "watch",
		Help:      "SECONDS [NODE]",
		Offline:   true,
		Unbounded: true,
		Run: func(ctx context.Context, s *sh.Shell, args []string) (interface{}, error) {
			secs, err := intArg(args, "SECONDS")
			if err != nil {
				return nil, err
			}
			node := "+"
			if len(args) > 1 {
				node = args[1]
			}
			if s.Config.MQTTBrokerURL == "" {
				return nil, fmt.Errorf("AIRFRYER_MQTT_URL not set")
			}
			q, err := mqtt.NewQueueFromURL(s.Config.MQTTBrokerURL)
			if err != nil {
				return nil, err
			}
			return Watch(ctx, q, node, time.Duration(secs)*time.Second)
		},
	}
)

// Ops lists all node commands.
var Ops = []*sh.Op{
	&InternalOp,
	&ReferenceOp,
	&InputOp,
	&SignalOp,
	&RefSignalOp,
	&SystemOp,
	&FunctioningOp,
	&ModeOp,
	&TimerOp,
	&IntOp,
	&FloatOp,
	&StringOp,
	&RawOp,
	&CRCOp,
	&WatchOp,
}

func init() {
	sh.AddOps(Ops...)
}

// Watch collects the samples of node for d.
func Watch(ctx context.Context, q *mqtt.Queue, node string, d time.Duration) ([]string, error) {
	token := q.Connect()
	if token.Wait(); token.Error() != nil {
		return nil, token.Error()
	}
	defer q.Close()

	var lock sync.Mutex
	lines := []string{}
	sub := q.Sub(mqtt.SampleTopic(node), func(topic string, payload []byte) {
		lock.Lock()
		lines = append(lines, topic+" "+string(payload))
		lock.Unlock()
	})
	defer sub.Close()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	lock.Lock()
	defer lock.Unlock()
	return append([]string(nil), lines...), nil
}

func intArg(args []string, name string) (int32, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s required", name)
	}
	v, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return int32(v), nil
}

func floatArg(args []string, name string) (float32, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s required", name)
	}
	v, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return float32(v), nil
}

func onOffArg(args []string) (bool, error) {
	if len(args) < 1 {
		return false, fmt.Errorf("on|off required")
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid state %q", args[0])
}

func hexArgs(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("HEX required")
	}
	s := strings.Join(args, "")
	s = strings.ReplaceAll(strings.TrimPrefix(s, "0x"), ":", "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid HEX: %v", err)
	}
	return data, nil
}
