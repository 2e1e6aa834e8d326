package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/rescale/cloudcmd/internal/constants"
)

// AskFunc answers a question the daemon asks while running a command.
type AskFunc func(prompt string) (string, error)

// Client sends petitions to the daemon.
type Client struct {
	address string
}

// NewClient creates a client for address. An empty address uses DefaultAddress.
func NewClient(address string) *Client {
	if address == "" {
		address = DefaultAddress()
	}
	return &Client{address: address}
}

// Address returns where the client connects.
func (c *Client) Address() string {
	return c.address
}

// IsServerRunning checks if something accepts connections on the address.
func (c *Client) IsServerRunning(ctx context.Context) bool {
	conn, err := dial(ctx, c.address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) open(ctx context.Context, line string) (net.Conn, error) {
	conn, err := dial(ctx, c.address)
	if err != nil {
		return nil, err
	}

	data, err := NewPetition(line).Encode()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to encode petition: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send petition: %w", err)
	}

	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &stoppingConn{Conn: conn, stop: stop}, nil
}

type stoppingConn struct {
	net.Conn
	stop func() bool
}

func (c *stoppingConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// Exec sends line and copies the command output to out until the daemon
// reports the exit code, which it returns. ask answers confirmations; with a
// nil ask the connection is dropped when the daemon asks something.
func (c *Client) Exec(ctx context.Context, line string, out io.Writer, ask AskFunc) (int, error) {
	conn, err := c.open(ctx, line)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		data, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("daemon closed the connection without an exit code: %w", ErrClosed)
			}
			return 0, fmt.Errorf("failed to read response: %w", err)
		}

		f, err := DecodeFrame(data)
		if err != nil {
			return 0, fmt.Errorf("failed to decode response: %w", err)
		}

		switch f.Type {
		case FrameOutput:
			if _, err := io.WriteString(out, f.Data); err != nil {
				return 0, err
			}
		case FrameAsk:
			if ask == nil {
				return 0, fmt.Errorf("daemon asked %q but no answer can be given", f.Line)
			}
			answer, err := ask(f.Line)
			if err != nil {
				return 0, err
			}
			reply, err := NewAnswer(answer).Encode()
			if err != nil {
				return 0, err
			}
			if _, err := conn.Write(reply); err != nil {
				return 0, fmt.Errorf("failed to send answer: %w", err)
			}
		case FrameResult:
			return f.Code, nil
		default:
			return 0, fmt.Errorf("unexpected frame %q", f.Type)
		}
	}
}

// Listen registers as a state listener and calls handle for every state line
// until ctx is done or the daemon closes the connection. Set interactive for
// shells so the daemon can tell them apart from one-shot clients.
func (c *Client) Listen(ctx context.Context, interactive bool, handle func(line string)) error {
	line := "registerstatelistener"
	if interactive {
		line = string(constants.InteractiveMarker) + line
	}
	conn, err := c.open(ctx, line)
	if err != nil {
		return err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		state, err := reader.ReadString(constants.StateSeparator)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			return fmt.Errorf("failed to read state: %w", err)
		}
		handle(strings.TrimSuffix(state, string(constants.StateSeparator)))
	}
}
