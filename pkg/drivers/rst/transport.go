package rst

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	bufferSize   = 256                   // largest reply the controller can produce
	pollInterval = 25 * time.Millisecond // blocking read slice
)

// Port is the byte-level transport the session drives. go.bug.st/serial.Port
// satisfies it; tests and the simulator provide their own.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Drain() error
}

// ReplyMode tells the session how a command is answered.
type ReplyMode int

const (
	NoReply    ReplyMode = iota // fire and forget
	Terminated                  // reply ends with the sentinel
	Ack                         // short reply, the sentinel may be missing
)

func (m ReplyMode) String() string {
	switch m {
	case NoReply:
		return "no-reply"
	case Terminated:
		return "terminated"
	case Ack:
		return "ack"
	default:
		return "unknown"
	}
}

// Session owns the serial handle and performs one command/response exchange
// at a time. The link is half-duplex, so the lock is held from the purge
// before the write until the reply has been read.
type Session struct {
	mu      sync.Mutex
	port    Port
	dialect *Dialect
	logger  log.FieldLogger
	poll    time.Duration
}

// NewSession wraps an open port. The port read timeout is set to the poll
// interval so that each Read call is a bounded suspension point.
func NewSession(port Port, dialect *Dialect, logger log.FieldLogger) (*Session, error) {
	if err := port.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrTransport, err)
	}

	return &Session{
		port:    port,
		dialect: dialect,
		logger:  logger.WithField("component", "session"),
		poll:    pollInterval,
	}, nil
}

// Close releases the port. Later calls to Send return ErrNotConnected.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	s.port.ResetInputBuffer()
	s.port.ResetOutputBuffer()
	err := s.port.Close()
	s.port = nil
	return err
}

// Send writes cmd and, unless mode is NoReply or timeout is zero, reads the
// reply. The returned payload has the sentinel and any async tokens removed.
// On failure the error is one of ErrTimeout, ErrBufferExhausted, ErrTransport
// or ErrNotConnected; a partial reply is never returned as success except in
// Ack mode, where a reply truncated before the sentinel is the normal case.
func (s *Session) Send(cmd string, mode ReplyMode, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", ErrNotConnected
	}

	if err := s.write(cmd); err != nil {
		return "", err
	}
	if mode == NoReply || timeout <= 0 {
		return "", nil
	}

	resp, err := s.read(mode, timeout)
	if err != nil {
		s.logger.Debugf("%s -> error: %v", cmd, err)
		return "", err
	}
	s.logger.Debugf("%s -> %q", cmd, resp)
	return resp, nil
}

func (s *Session) write(cmd string) error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: purge input: %v", ErrTransport, err)
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("%w: purge output: %v", ErrTransport, err)
	}

	data := []byte(cmd)
	for written := 0; written < len(data); {
		n, err := s.port.Write(data[written:])
		if err != nil {
			return fmt.Errorf("%w: write %q: %v", ErrTransport, cmd, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write %q: short write", ErrTransport, cmd)
		}
		written += n
	}

	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrTransport, err)
	}
	return nil
}

// read accumulates bytes until a non-async field terminated by the sentinel
// is found. Async fields are dropped and reading continues within the same
// time budget. Bytes after the accepted field are discarded; the next write
// purges the line anyway.
func (s *Session) read(mode ReplyMode, timeout time.Duration) (string, error) {
	buf := make([]byte, 0, bufferSize)
	chunk := make([]byte, bufferSize)
	deadline := time.Now().Add(timeout)

	for {
		for {
			i := bytes.IndexByte(buf, s.dialect.Sentinel)
			if i < 0 {
				break
			}
			field := string(buf[:i])
			buf = buf[i+1:]
			if s.dialect.IsAsync(field) {
				s.logger.Debugf("Ignoring async token %q", field)
				continue
			}
			if len(buf) > 0 {
				s.logger.Debugf("Discarding %d trailing bytes %q", len(buf), buf)
			}
			return field, nil
		}

		if len(buf) >= bufferSize {
			return "", fmt.Errorf("%w: %d bytes", ErrBufferExhausted, len(buf))
		}

		if !time.Now().Before(deadline) {
			if mode == Ack && len(buf) > 0 && !s.dialect.IsAsync(string(buf)) {
				return string(buf), nil
			}
			return "", fmt.Errorf("%w after %v (%d bytes pending)", ErrTimeout, timeout, len(buf))
		}

		n, err := s.port.Read(chunk[:bufferSize-len(buf)])
		if err != nil {
			return "", fmt.Errorf("%w: read: %v", ErrTransport, err)
		}
		buf = append(buf, chunk[:n]...)
	}
}
