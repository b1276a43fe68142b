package sim

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/airfryer/pkg/l0/comm"
)

// DefaultReference is the setpoint the simulated panel reports.
const DefaultReference = 180.0

// NodeState is what the simulated node learned from the controller.
type NodeState struct {
	Signal      int32
	Reference   float32
	System      bool
	Functioning bool
	Mode        comm.ControlMode
	Timer       int32
	Int         int32
	Float       float32
	Text        string
}

// Node simulates the sensor and panel node on the other end of the serial
// link. It implements comm.Port: requests are answered from the Oven and
// the panel settings, commands update NodeState.
type Node struct {
	Oven    *Oven
	Address byte
	Key     comm.Key

	lock      sync.Mutex
	reference float32
	input     comm.UserCommand
	state     NodeState
	pending   []byte
	closed    bool
}

// NewNode creates a node reporting reference as the panel setpoint.
func NewNode(oven *Oven, reference float64) *Node {
	return &Node{
		Oven:      oven,
		Address:   comm.DefaultAddress,
		Key:       comm.DefaultKey,
		reference: float32(reference),
		input:     comm.CmdNone,
	}
}

// SetReference changes the setpoint on the panel.
func (n *Node) SetReference(v float64) {
	n.lock.Lock()
	n.reference = float32(v)
	n.lock.Unlock()
}

// SetInput simulates a button press on the panel.
func (n *Node) SetInput(cmd comm.UserCommand) {
	n.lock.Lock()
	n.input = cmd
	n.lock.Unlock()
}

// State returns a copy of the controller provided state.
func (n *Node) State() NodeState {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.state
}

// Send implements comm.Port.
func (n *Node) Send(b []byte) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return &comm.TransportError{Op: "send", Err: os.ErrClosed}
	}
	n.pending = nil
	f, err := comm.Decode(b)
	if err != nil {
		glog.Warningf("sim: drop frame [% x]: %v", b, err)
		return nil
	}
	if f.Address != n.Address {
		return nil
	}
	if f.Type.Keyed() {
		key, body, ok := f.Key()
		if !ok || key != n.Key {
			glog.Warningf("sim: reject %s: bad key or payload", f)
			return nil
		}
		n.handleKeyed(f, body)
		return nil
	}
	n.handlePlain(f)
	return nil
}

func (n *Node) handleKeyed(f *comm.Frame, body []byte) {
	switch f.Type {
	case comm.TypeReqInternalTemp:
		n.reply(f.Type, comm.FloatPayload(float32(n.Oven.Temperature())))
	case comm.TypeReqReferenceTemp:
		n.reply(f.Type, comm.FloatPayload(n.reference))
	case comm.TypeReqUserInput:
		n.reply(f.Type, comm.IntPayload(int32(n.input)))
		n.input = comm.CmdNone
	case comm.TypeControlMode:
		n.state.Mode = comm.ControlMode(body[0])
	default:
		v, err := (&comm.Frame{Type: comm.TypeInt, Payload: body}).Int32()
		if err != nil {
			glog.Warningf("sim: %s: %v", f.Type, err)
			return
		}
		switch f.Type {
		case comm.TypeControlSignal:
			n.state.Signal = v
		case comm.TypeReferenceSignal:
			n.state.Reference, _ = (&comm.Frame{Type: comm.TypeFloat, Payload: body}).Float32()
		case comm.TypeSystemState:
			n.state.System = v != 0
		case comm.TypeFunctioningState:
			n.state.Functioning = v != 0
		case comm.TypeTimerValue:
			n.state.Timer = v
		}
	}
}

func (n *Node) handlePlain(f *comm.Frame) {
	var err error
	switch f.Type {
	case comm.TypeInt:
		n.state.Int, err = f.Int32()
	case comm.TypeFloat:
		n.state.Float, err = f.Float32()
	case comm.TypeString:
		n.state.Text, err = f.Text()
	default:
		glog.Warningf("sim: ignore %s", f)
	}
	if err != nil {
		glog.Warningf("sim: %s: %v", f.Type, err)
	}
}

func (n *Node) reply(dt comm.DataType, payload []byte) {
	b, err := comm.Encode(n.Address, comm.FuncSend, dt, payload)
	if err != nil {
		glog.Errorf("sim: encode %s: %v", dt, err)
		return
	}
	n.pending = b
}

// Receive implements comm.Port.
func (n *Node) Receive(ctx context.Context, maxLength int, timeout time.Duration) ([]byte, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return nil, &comm.TransportError{Op: "receive", Err: os.ErrClosed}
	}
	out := n.pending
	n.pending = nil
	if maxLength > 0 && len(out) > maxLength {
		out = out[:maxLength]
	}
	return out, nil
}

// Close implements comm.Port.
func (n *Node) Close() error {
	n.lock.Lock()
	n.closed = true
	n.pending = nil
	n.lock.Unlock()
	return nil
}
