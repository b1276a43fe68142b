package comm

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Port is the byte-level link to the node.
type Port interface {
	// Send writes all bytes.
	Send(b []byte) error
	// Receive waits up to timeout for a response of at most maxLength
	// bytes. An empty result means nothing arrived, not an error.
	Receive(ctx context.Context, maxLength int, timeout time.Duration) ([]byte, error)
	// Close releases the link. Only the first call has effect.
	Close() error
}

// StreamPort implements Port over an io.ReadWriter whose Read already
// supports a timeout (e.g. a serial port with VTIME set): a Read returning
// no data is treated as a quiet line, not as an error.
type StreamPort struct {
	ReadWriter io.ReadWriter

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// NewStreamPort wraps rw.
func NewStreamPort(rw io.ReadWriter) *StreamPort {
	return &StreamPort{ReadWriter: rw}
}

// Send implements Port.
func (p *StreamPort) Send(b []byte) error {
	if p.closed {
		return &TransportError{Op: "send", Err: ErrClosed}
	}
	for len(b) > 0 {
		n, err := p.ReadWriter.Write(b)
		if err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		if n == 0 {
			return &TransportError{Op: "send", Err: io.ErrShortWrite}
		}
		b = b[n:]
	}
	return nil
}

// Receive implements Port. Reads are accumulated until the deadline
// passes, maxLength bytes arrived, or the line goes quiet after at least
// one byte. ctx is checked between reads, so cancellation is observed
// within one read timeout.
func (p *StreamPort) Receive(ctx context.Context, maxLength int, timeout time.Duration) ([]byte, error) {
	if p.closed {
		return nil, &TransportError{Op: "receive", Err: ErrClosed}
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, maxLength)
	chunk := make([]byte, maxLength)
	for len(buf) < maxLength {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := p.ReadWriter.Read(chunk[:maxLength-len(buf)])
		buf = append(buf, chunk[:n]...)
		if err != nil && !isQuietRead(err) {
			return nil, &TransportError{Op: "receive", Err: err}
		}
		if n == 0 && (len(buf) > 0 || !time.Now().Before(deadline)) {
			break
		}
	}
	if glog.V(4) {
		glog.Infof("RCV [% x]", buf)
	}
	return buf, nil
}

// Close implements Port.
func (p *StreamPort) Close() error {
	p.closeOnce.Do(func() {
		p.closed = true
		if closer, ok := p.ReadWriter.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				p.closeErr = &TransportError{Op: "close", Err: err}
			}
		}
	})
	return p.closeErr
}

func isQuietRead(err error) bool {
	return err == io.EOF || os.IsTimeout(err)
}
