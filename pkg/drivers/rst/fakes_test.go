package rst

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLogger() log.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// fakePort answers commands from a script. Each command maps to a queue of
// raw replies; the last reply repeats. Unscripted commands get no reply.
type fakePort struct {
	mu       sync.Mutex
	replies  map[string][]string
	written  []string
	out      []byte
	closed   bool
	writeErr error
}

func newFakePort() *fakePort {
	return &fakePort{replies: make(map[string][]string)}
}

func (p *fakePort) on(cmd string, replies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[cmd] = replies
}

func (p *fakePort) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	cmd := string(b)
	p.written = append(p.written, cmd)

	queue, ok := p.replies[cmd]
	if !ok || len(queue) == 0 {
		return len(b), nil
	}
	p.out = append(p.out, queue[0]...)
	if len(queue) > 1 {
		p.replies[cmd] = queue[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if len(p.out) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error            { return nil }
func (p *fakePort) ResetOutputBuffer() error           { return nil }
func (p *fakePort) Drain() error                       { return nil }

// connectScript scripts the exchanges Mount.Connect performs.
func connectScript(p *fakePort, tracking bool, alt, az string) {
	p.on(":AV#", "RST 2.1#")
	p.on(":AH#", "1#")
	p.on(":GH#", "1#")
	if tracking {
		p.on(":AT#", "1#")
	} else {
		p.on(":AT#", "0#")
	}
	p.on(":GZ#", "AZ"+az+"#")
	p.on(":GA#", "AL"+alt+"#")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 20, 22, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustDialect(t *testing.T, name string) *Dialect {
	t.Helper()
	d, err := LookupDialect(name)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func hasCommand(cmds []string, prefix string) bool {
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
