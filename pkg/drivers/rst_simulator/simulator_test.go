package rst_simulator

import (
	"io"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSimulator(t *testing.T, cfg Config) (*Simulator, *clock) {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	clk := &clock{t: time.Date(2026, 3, 20, 22, 0, 0, 0, time.UTC)}
	s := New(cfg, logger)
	s.SetClock(clk.Now)
	require.NoError(t, s.SetReadTimeout(time.Millisecond))
	return s, clk
}

// exchange writes cmd and returns everything the simulator queued in reply.
func exchange(t *testing.T, s *Simulator, cmd string) string {
	t.Helper()
	_, err := s.Write([]byte(cmd))
	require.NoError(t, err)

	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := s.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			return sb.String()
		}
		sb.Write(buf[:n])
	}
}

func quietConfig() Config {
	cfg := DefaultConfig
	cfg.InjectAsync = false
	return cfg
}

func TestSimulatorHandshake(t *testing.T) {
	s, _ := newTestSimulator(t, DefaultConfig)

	assert.Equal(t, "RST-SIM 1.0#", exchange(t, s, ":AV#"))
	assert.Equal(t, "RST-SIM 1.0#", exchange(t, s, "!AV#"))
	assert.Empty(t, exchange(t, s, "AV#"), "unframed commands are ignored")
}

func TestSimulatorParkPosition(t *testing.T) {
	s, _ := newTestSimulator(t, DefaultConfig)

	assert.Equal(t, "AL+00*00'00#", exchange(t, s, ":GA#"))
	assert.Equal(t, "AZ180*00'00.0#", exchange(t, s, ":GZ#"))
	assert.Equal(t, "0#", exchange(t, s, ":AT#"))
	assert.Equal(t, "1#", exchange(t, s, ":GH#"))
}

func TestSimulatorSlew(t *testing.T) {
	s, clk := newTestSimulator(t, DefaultConfig)

	exchange(t, s, ":CtA#")
	assert.Equal(t, "1#", exchange(t, s, ":Sr02:30:00.0#"))
	assert.Equal(t, "1#", exchange(t, s, ":Sd+45*15:30.0#"))
	assert.Equal(t, "0#", exchange(t, s, ":MS#"))
	assert.Equal(t, "100%#", exchange(t, s, ":GGgr#"))

	clk.Advance(2 * time.Second)
	assert.Equal(t, "60%#", exchange(t, s, ":GGgr#"))

	clk.Advance(5 * time.Second)
	assert.Equal(t, "GOTO_DONE#0%#", exchange(t, s, ":GGgr#"))
	assert.Equal(t, "RA02:30:00.0#", exchange(t, s, ":GR#"))
	assert.Equal(t, "DE+45*15'30#", exchange(t, s, ":GD#"))
}

func TestSimulatorSlewRejected(t *testing.T) {
	s, _ := newTestSimulator(t, quietConfig())

	assert.Equal(t, "1#", exchange(t, s, ":Sd-60*00:00.0#"))
	assert.Equal(t, "L#", exchange(t, s, ":MS#"))

	assert.Equal(t, "1#", exchange(t, s, ":Sa-10*00:00.0#"))
	assert.Equal(t, "H#", exchange(t, s, ":MA#"))

	assert.Equal(t, "0#", exchange(t, s, ":Sr25:00:00.0#"), "target out of range")
}

func TestSimulatorAbort(t *testing.T) {
	s, _ := newTestSimulator(t, quietConfig())

	exchange(t, s, ":Sa+30*00:00.0#")
	exchange(t, s, ":Sz090*00'00.0#")
	assert.Equal(t, "0#", exchange(t, s, ":MA#"))
	assert.Equal(t, "|#", exchange(t, s, ":D#"))

	assert.Empty(t, exchange(t, s, ":Q#"))
	assert.Equal(t, "#", exchange(t, s, ":D#"))
	assert.Equal(t, "AZ180*00'00.0#", exchange(t, s, ":GZ#"), "aborted slew leaves the pointing")
}

func TestSimulatorHoming(t *testing.T) {
	cfg := quietConfig()
	cfg.HomingFaults = 1
	s, clk := newTestSimulator(t, cfg)

	exchange(t, s, ":Ch#")
	assert.Equal(t, "0#", exchange(t, s, ":AH#"))

	clk.Advance(time.Duration(cfg.HomingSeconds+1) * time.Second)
	assert.Equal(t, "1#", exchange(t, s, ":AH#"))
	assert.Equal(t, "0#", exchange(t, s, ":GH#"), "first homing stops short")

	exchange(t, s, ":Ch#")
	clk.Advance(time.Duration(cfg.HomingSeconds+1) * time.Second)
	assert.Equal(t, "1#", exchange(t, s, ":GH#"))
	assert.Equal(t, "AL+40*00'00#", exchange(t, s, ":GA#"))
	assert.Equal(t, "AZ000*00'00.0#", exchange(t, s, ":GZ#"))
}

func TestSimulatorHomingToken(t *testing.T) {
	s, _ := newTestSimulator(t, DefaultConfig)

	exchange(t, s, ":Ch#")
	assert.Equal(t, "HOMING#0#", exchange(t, s, ":AH#"))
}

func TestSimulatorMove(t *testing.T) {
	s, clk := newTestSimulator(t, quietConfig())

	exchange(t, s, ":CtA#")
	assert.Equal(t, "1#", exchange(t, s, ":Ck02.000+10.000#"))

	exchange(t, s, ":RM#")
	exchange(t, s, ":Mn#")
	clk.Advance(10 * time.Second)
	exchange(t, s, ":Qn#")

	assert.Equal(t, "DE+15*00'00#", exchange(t, s, ":GD#"))
	assert.Equal(t, "RA02:00:00.0#", exchange(t, s, ":GR#"))
}

func TestSimulatorTracking(t *testing.T) {
	s, _ := newTestSimulator(t, quietConfig())

	assert.Equal(t, "Ct0#", exchange(t, s, ":Ct?#"))
	exchange(t, s, ":CtM#")
	exchange(t, s, ":CtA#")
	assert.Equal(t, "Ct2#", exchange(t, s, ":Ct?#"))
	assert.Equal(t, "1#", exchange(t, s, ":AT#"))
	exchange(t, s, ":CtL#")
	assert.Equal(t, "0#", exchange(t, s, ":AT#"))
}

func TestSimulatorSiteAndClock(t *testing.T) {
	s, _ := newTestSimulator(t, quietConfig())

	assert.Equal(t, "+03*42'00#", exchange(t, s, ":Gg#"))
	assert.Equal(t, "1#", exchange(t, s, ":Sg-05*30'00#"))
	assert.Equal(t, "-05*30'00#", exchange(t, s, ":Gg#"))

	assert.Equal(t, "1#", exchange(t, s, ":SL21:05:09#"))
	assert.Equal(t, "21:05:09#", exchange(t, s, ":GL#"))

	assert.Equal(t, "CU1=0200#", exchange(t, s, ":CU1#"))
	exchange(t, s, ":Cu1=0400#")
	assert.Equal(t, "CU1=0400#", exchange(t, s, ":CU1#"))

	assert.Equal(t, "12.4V#", exchange(t, s, ":GV#"))
	assert.Equal(t, "30.0#", exchange(t, s, ":NGle#"))
}

func TestSimulatorClose(t *testing.T) {
	s, _ := newTestSimulator(t, quietConfig())

	require.NoError(t, s.Close())
	_, err := s.Write([]byte(":AV#"))
	assert.ErrorIs(t, err, ErrPortClosed)
	_, err = s.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrPortClosed)
}
