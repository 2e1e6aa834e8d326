package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rescale/cloudcmd/internal/constants"
	"github.com/rescale/cloudcmd/internal/daemon"
	"github.com/rescale/cloudcmd/internal/logging"
)

type petition struct {
	line string
	conn daemon.Conn
}

// Server accepts client connections and hands their petitions to the
// dispatcher. It implements daemon.Transport.
type Server struct {
	address  string
	listener net.Listener
	logger   *logging.Logger

	petitions chan petition

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewServer listens on address (a socket path, or a pipe name on Windows).
// An empty address uses DefaultAddress.
func NewServer(address string, logger *logging.Logger) (*Server, error) {
	if address == "" {
		address = DefaultAddress()
	}
	listener, err := listen(address)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, address, logger), nil
}

// NewServerWithListener serves petitions arriving on listener.
func NewServerWithListener(listener net.Listener, address string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address:   address,
		listener:  listener,
		logger:    logger,
		petitions: make(chan petition),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.logger.Info().Str("address", address).Msg("IPC server started")
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// Address returns where the server listens.
func (s *Server) Address() string {
	return s.address
}

// Accept returns the next petition. A connection whose petition could not
// be read is delivered as constants.ErrorPetition.
func (s *Server) Accept() (string, daemon.Conn, error) {
	select {
	case p := <-s.petitions:
		return p.line, p.conn, nil
	case <-s.ctx.Done():
		return "", nil, daemon.ErrTransportClosed
	}
}

// Close stops listening. Connections already handed over stay open.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug().Msg("Stopping IPC server")
		s.cancel()
		s.closeErr = s.listener.Close()
		s.wg.Wait()
		cleanup(s.address)
		s.logger.Info().Msg("IPC server stopped")
	})
	return s.closeErr
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Failed to accept IPC connection")
			continue
		}

		// Readers are not waited for: a silent client holds one until its deadline.
		go s.readPetition(conn)
	}
}

// readPetition reads the opening frame and queues the petition.
func (s *Server) readPetition(nc net.Conn) {
	c := newServerConn(nc)
	nc.SetReadDeadline(time.Now().Add(constants.IPCConnectionDeadline))
	line := constants.ErrorPetition

	f, err := c.readFrame()
	switch {
	case err != nil:
		if !errors.Is(err, io.EOF) {
			s.logger.Warn().Err(err).Msg("Failed to read petition")
		}
	case f.Type != FramePetition:
		s.logger.Warn().Str("type", string(f.Type)).Msg("Connection did not start with a petition")
	default:
		line = f.Line
	}
	nc.SetReadDeadline(time.Time{})

	select {
	case s.petitions <- petition{line: line, conn: c}:
	case <-s.ctx.Done():
		nc.Close()
	}
}

// serverConn is the daemon side of one client connection.
type serverConn struct {
	conn net.Conn
	r    *bufio.Reader

	mu     sync.Mutex
	closed bool
}

func newServerConn(conn net.Conn) *serverConn {
	return &serverConn{conn: conn, r: bufio.NewReader(conn)}
}

func (c *serverConn) readFrame() (*Frame, error) {
	data, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return DecodeFrame(data)
}

func (c *serverConn) writeFrame(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return c.writeRaw(data)
}

func (c *serverConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := c.conn.Write(data)
	return err
}

// Write sends command output.
func (c *serverConn) Write(p []byte) (int, error) {
	if err := c.writeFrame(&Frame{Type: FrameOutput, Data: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Ask sends prompt and waits for the client's answer.
func (c *serverConn) Ask(prompt string) (string, error) {
	if err := c.writeFrame(&Frame{Type: FrameAsk, Line: prompt}); err != nil {
		return "", err
	}
	f, err := c.readFrame()
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if f.Type != FrameAnswer {
		return "", fmt.Errorf("expected an answer, got %q", f.Type)
	}
	return f.Line, nil
}

// Finish sends the exit code and closes the connection.
func (c *serverConn) Finish(code int) error {
	err := c.writeFrame(&Frame{Type: FrameResult, Code: code})
	c.Close()
	return err
}

// WriteState pushes one state line.
func (c *serverConn) WriteState(line string) error {
	return c.writeRaw(append([]byte(line), constants.StateSeparator))
}

func (c *serverConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
