package comm

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Defaults for Client.
const (
	DefaultTimeout      = time.Second
	DefaultMaxResponse  = 255
	DefaultWriteRetries = 2
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Client provides the controller side of the request/response exchange.
// It's not safe for concurrent use: the link carries one exchange at a time.
type Client struct {
	Port        Port
	Address     byte
	Key         Key
	Timeout     time.Duration
	MaxResponse int
	// WriteRetries is the number of extra attempts for a failing send.
	WriteRetries int
	// RetryBackoff is the wait before the first retry, doubled afterwards.
	RetryBackoff time.Duration
}

// NewClient creates a Client with defaults over port.
func NewClient(port Port) *Client {
	return &Client{
		Port:         port,
		Address:      DefaultAddress,
		Key:          DefaultKey,
		Timeout:      DefaultTimeout,
		MaxResponse:  DefaultMaxResponse,
		WriteRetries: DefaultWriteRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// Request sends a request frame and returns the validated reply.
func (c *Client) Request(ctx context.Context, dt DataType) (*Frame, error) {
	if err := c.send(ctx, FuncRequest, dt, KeyedPayload(c.Key)); err != nil {
		return nil, err
	}
	data, err := c.Port.Receive(ctx, c.MaxResponse, c.Timeout)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoResponse
	}
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if glog.V(3) {
		glog.Infof("REPLY %s", f)
	}
	if f.Address != c.Address || f.Type != dt {
		return nil, &UnexpectedFrameError{Request: dt, Frame: f}
	}
	return f, nil
}

// Command sends a keyed system command. No reply is expected.
func (c *Client) Command(ctx context.Context, dt DataType, body ...byte) error {
	return c.send(ctx, dt.Function(), dt, KeyedPayload(c.Key, body...))
}

// Push sends a plain data frame (int, float or string).
func (c *Client) Push(ctx context.Context, dt DataType, payload []byte) error {
	return c.send(ctx, FuncSend, dt, payload)
}

func (c *Client) send(ctx context.Context, fn FunctionCode, dt DataType, payload []byte) error {
	b, err := Encode(c.Address, fn, dt, payload)
	if err != nil {
		return err
	}
	if glog.V(3) {
		glog.Infof("SEND %s [% x]", dt, b)
	}
	backoff := c.RetryBackoff
	for attempt := 0; ; attempt++ {
		err = c.Port.Send(b)
		if err == nil || attempt >= c.WriteRetries {
			return err
		}
		glog.Warningf("send %s failed (attempt %d/%d): %v", dt, attempt+1, c.WriteRetries+1, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// ReadInternalTemperature requests the oven internal temperature.
func (c *Client) ReadInternalTemperature(ctx context.Context) (float32, error) {
	return c.requestFloat(ctx, TypeReqInternalTemp)
}

// ReadReferenceTemperature requests the reference (target) temperature.
func (c *Client) ReadReferenceTemperature(ctx context.Context) (float32, error) {
	return c.requestFloat(ctx, TypeReqReferenceTemp)
}

// ReadUserInput requests the last command entered on the node.
func (c *Client) ReadUserInput(ctx context.Context) (UserCommand, error) {
	f, err := c.Request(ctx, TypeReqUserInput)
	if err != nil {
		return CmdNone, err
	}
	v, err := f.Int32()
	return UserCommand(v), err
}

func (c *Client) requestFloat(ctx context.Context, dt DataType) (float32, error) {
	f, err := c.Request(ctx, dt)
	if err != nil {
		return 0, err
	}
	return f.Float32()
}

// SendControlSignal reports the control signal in percent.
func (c *Client) SendControlSignal(ctx context.Context, signal int32) error {
	return c.Command(ctx, TypeControlSignal, IntPayload(signal)...)
}

// SendReferenceSignal reports the reference temperature in use.
func (c *Client) SendReferenceSignal(ctx context.Context, ref float32) error {
	return c.Command(ctx, TypeReferenceSignal, FloatPayload(ref)...)
}

// SendSystemState reports whether the system is on.
func (c *Client) SendSystemState(ctx context.Context, on bool) error {
	return c.Command(ctx, TypeSystemState, boolPayload(on)...)
}

// SendFunctioningState reports whether the oven is working.
func (c *Client) SendFunctioningState(ctx context.Context, working bool) error {
	return c.Command(ctx, TypeFunctioningState, boolPayload(working)...)
}

// SetControlMode selects the reference source on the node.
func (c *Client) SetControlMode(ctx context.Context, mode ControlMode) error {
	return c.Command(ctx, TypeControlMode, byte(mode))
}

// SendTimerValue reports the remaining timer value.
func (c *Client) SendTimerValue(ctx context.Context, v int32) error {
	return c.Command(ctx, TypeTimerValue, IntPayload(v)...)
}

// SendInt pushes a plain int.
func (c *Client) SendInt(ctx context.Context, v int32) error {
	return c.Push(ctx, TypeInt, IntPayload(v))
}

// SendFloat pushes a plain float.
func (c *Client) SendFloat(ctx context.Context, v float32) error {
	return c.Push(ctx, TypeFloat, FloatPayload(v))
}

// SendString pushes a length-prefixed string.
func (c *Client) SendString(ctx context.Context, s string) error {
	payload, err := StringPayload(s)
	if err != nil {
		return err
	}
	return c.Push(ctx, TypeString, payload)
}

func boolPayload(v bool) []byte {
	if v {
		return IntPayload(1)
	}
	return IntPayload(0)
}
