package hl7v2

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// StartBlock is the MLLP start-of-message byte (VT).
	StartBlock = 0x0B

	// EndBlock is the MLLP end-of-message byte (FS).
	EndBlock = 0x1C

	// CarriageReturn trails the end block.
	CarriageReturn = 0x0D

	// maxAckSize bounds the acknowledgment read buffer.
	maxAckSize = 1 << 16
)

// Frame wraps raw HL7 v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func Frame(data []byte) []byte {
	out := make([]byte, 0, len(data)+3)
	out = append(out, StartBlock)
	out = append(out, data...)
	out = append(out, EndBlock, CarriageReturn)
	return out
}

// Unframe extracts one message from MLLP-framed bytes. It returns the
// message, any bytes after the frame, and whether a complete frame was found.
func Unframe(data []byte) (message, rest []byte, found bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end = start + 1 + end
	return data[start+1 : end], data[end+2:], true
}

// Client sends framed messages to one MLLP endpoint, one connection per
// send. Integration engines at the receiving end expect short-lived
// connections, so there is no pooling.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates an MLLP client for addr ("host:port").
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

// Send frames and delivers the message, then reads one MLLP-framed
// acknowledgment. The context bounds the whole exchange.
func (c *Client) Send(ctx context.Context, msg *Message) ([]byte, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("mllp: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write(Frame(msg.Encode())); err != nil {
		return nil, fmt.Errorf("mllp: write: %w", err)
	}

	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > maxAckSize {
				return nil, fmt.Errorf("mllp: acknowledgment exceeds %d bytes", maxAckSize)
			}
			if ack, _, found := Unframe(buf); found {
				return ack, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("mllp: read acknowledgment: %w", err)
		}
	}
}
