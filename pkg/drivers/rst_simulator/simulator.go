// Package rst_simulator emulates an RST mount controller at the byte level.
// A Simulator satisfies the serial port interface the driver uses, so the
// whole protocol stack runs against it unchanged.
package rst_simulator

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrPortClosed = errors.New("simulated port closed")

const (
	asyncSlewDone = "GOTO_DONE"
	asyncHoming   = "HOMING"
)

type motion struct {
	active bool
	start  time.Time
	end    time.Time
	altAz  bool
	a, b   float64 // target ra/dec or alt/az
}

// Simulator is an in-memory RST controller.
type Simulator struct {
	mu     sync.Mutex
	cfg    Config
	logger log.FieldLogger
	now    func() time.Time

	in          []byte // partial command being written
	out         []byte // pending reply bytes
	readTimeout time.Duration
	closed      bool
	pending     []string // async tokens for the next reply

	// Pointing is held as ra/dec while tracking and as alt/az otherwise.
	tracking bool
	class    byte
	ra, dec  float64
	alt, az  float64

	slew      motion
	targetRA  float64
	targetDec float64
	targetAlt float64
	targetAz  float64

	homing    bool
	homeEnd   time.Time
	homeOK    bool
	faultsDue int

	moveRate  string
	moving    map[byte]time.Time
	speeds    [4]int
	longitude string
	latitude  string
	timezone  string
	localTime string
	localDate string
	voltage   float64
}

func New(cfg Config, logger log.FieldLogger) *Simulator {
	return &Simulator{
		cfg:         cfg,
		logger:      logger.WithField("component", "rst-simulator"),
		now:         time.Now,
		readTimeout: 25 * time.Millisecond,
		class:       '0',
		alt:         cfg.ParkAltitude,
		az:          cfg.ParkAzimuth,
		homeOK:      cfg.StartHomed,
		faultsDue:   cfg.HomingFaults,
		moveRate:    "RG",
		moving:      make(map[byte]time.Time),
		speeds:      [4]int{8, 200, 800, 1600},
		longitude:   formatSigned(cfg.Longitude),
		latitude:    formatSigned(cfg.Latitude),
		timezone:    "+00",
		localTime:   "00:00:00",
		localDate:   "01/01/00",
		voltage:     12.4,
	}
}

// SetClock replaces the time source.
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrPortClosed
	}

	for _, c := range p {
		if c != '#' {
			s.in = append(s.in, c)
			continue
		}
		cmd := string(s.in)
		s.in = s.in[:0]
		s.handle(cmd)
	}
	return len(p), nil
}

// Read returns pending reply bytes. With nothing pending it waits for the
// read timeout and returns 0 bytes, like a serial port does.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(s.out) > 0 {
		n := copy(p, s.out)
		s.out = s.out[n:]
		s.mu.Unlock()
		return n, nil
	}
	timeout := s.readTimeout
	s.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.out = nil
	return nil
}

func (s *Simulator) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = t
	return nil
}

func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = s.out[:0]
	return nil
}

func (s *Simulator) ResetOutputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = s.in[:0]
	return nil
}

func (s *Simulator) Drain() error { return nil }

func (s *Simulator) reply(payload string) {
	for _, token := range s.pending {
		s.out = append(s.out, token...)
		s.out = append(s.out, '#')
	}
	s.pending = s.pending[:0]
	s.out = append(s.out, payload...)
	s.out = append(s.out, '#')
}

func (s *Simulator) queueAsync(token string) {
	if !s.cfg.InjectAsync || slices.Contains(s.pending, token) {
		return
	}
	s.pending = append(s.pending, token)
}

func (s *Simulator) flag(b bool) {
	if b {
		s.reply("1")
	} else {
		s.reply("0")
	}
}

func (s *Simulator) lst() float64 {
	return localSiderealTime(s.now(), s.cfg.Longitude)
}

func (s *Simulator) equatorial() (float64, float64) {
	if s.tracking {
		return s.ra, s.dec
	}
	return toEquatorial(s.alt, s.az, s.lst(), s.cfg.Latitude)
}

func (s *Simulator) horizontal() (float64, float64) {
	if !s.tracking {
		return s.alt, s.az
	}
	return toHorizontal(s.ra, s.dec, s.lst(), s.cfg.Latitude)
}

func (s *Simulator) setTracking(on bool) {
	switch {
	case on && !s.tracking:
		s.ra, s.dec = toEquatorial(s.alt, s.az, s.lst(), s.cfg.Latitude)
	case !on && s.tracking:
		s.alt, s.az = toHorizontal(s.ra, s.dec, s.lst(), s.cfg.Latitude)
	}
	s.tracking = on
}

func (s *Simulator) pointEquatorial(ra, dec float64) {
	if s.tracking {
		s.ra, s.dec = ra, dec
		return
	}
	s.alt, s.az = toHorizontal(ra, dec, s.lst(), s.cfg.Latitude)
}

func (s *Simulator) pointHorizontal(alt, az float64) {
	if !s.tracking {
		s.alt, s.az = alt, az
		return
	}
	s.ra, s.dec = toEquatorial(alt, az, s.lst(), s.cfg.Latitude)
}

// advance completes motions whose time has passed.
func (s *Simulator) advance() {
	now := s.now()

	if s.slew.active && !now.Before(s.slew.end) {
		s.slew.active = false
		if s.slew.altAz {
			s.pointHorizontal(s.slew.a, s.slew.b)
		} else {
			s.pointEquatorial(s.slew.a, s.slew.b)
		}
		s.logger.Debug("Slew finished")
		s.queueAsync(asyncSlewDone)
	}

	if s.homing {
		if now.Before(s.homeEnd) {
			s.queueAsync(asyncHoming)
			return
		}
		s.homing = false
		if s.homeOK {
			s.tracking = false
			s.alt, s.az = s.cfg.Latitude, 0
		}
		s.logger.Debugf("Homing finished, reference found: %v", s.homeOK)
	}
}

func (s *Simulator) startSlew(altAz bool, a, b float64) {
	now := s.now()
	s.slew = motion{
		active: true,
		start:  now,
		end:    now.Add(time.Duration(s.cfg.SlewSeconds * float64(time.Second))),
		altAz:  altAz,
		a:      a,
		b:      b,
	}
}

func (s *Simulator) remaining() int {
	if !s.slew.active {
		return 0
	}
	total := s.slew.end.Sub(s.slew.start)
	if total <= 0 {
		return 0
	}
	pct := int(math.Ceil(100 * float64(s.slew.end.Sub(s.now())) / float64(total)))
	return max(0, min(100, pct))
}

func (s *Simulator) handle(cmd string) {
	if len(cmd) == 0 || (cmd[0] != ':' && cmd[0] != '!') {
		s.logger.Debugf("Ignoring unframed command %q", cmd)
		return
	}
	verb := cmd[1:]
	s.advance()
	s.logger.Debugf("Command %q", verb)

	switch {
	case verb == "AV":
		s.reply(s.cfg.Firmware)
	case verb == "GR":
		ra, _ := s.equatorial()
		s.reply("RA" + formatHours(ra))
	case verb == "GD":
		_, dec := s.equatorial()
		s.reply("DE" + formatSigned(dec))
	case verb == "GA":
		alt, _ := s.horizontal()
		s.reply("AL" + formatSigned(alt))
	case verb == "GZ":
		_, az := s.horizontal()
		s.reply("AZ" + formatAzimuth(az))

	case strings.HasPrefix(verb, "Sr"):
		s.setTarget(verb[2:], &s.targetRA, 0, 24)
	case strings.HasPrefix(verb, "Sd"):
		s.setTarget(verb[2:], &s.targetDec, -90, 90)
	case strings.HasPrefix(verb, "Sa"):
		s.setTarget(verb[2:], &s.targetAlt, -90, 90)
	case strings.HasPrefix(verb, "Sz"):
		s.setTarget(verb[2:], &s.targetAz, 0, 360)

	case verb == "MS":
		if s.targetDec < s.cfg.MinDeclination {
			s.reply("L")
			return
		}
		s.startSlew(false, s.targetRA, s.targetDec)
		s.reply("0")
	case verb == "MA":
		if s.targetAlt < s.cfg.MinAltitude {
			s.reply("H")
			return
		}
		s.startSlew(true, s.targetAlt, s.targetAz)
		s.reply("0")
	case verb == "GGgr":
		s.reply(fmt.Sprintf("%d%%", s.remaining()))
	case verb == "D":
		if s.slew.active {
			s.reply("|")
		} else {
			s.reply("")
		}
	case strings.HasPrefix(verb, "Ck"), strings.HasPrefix(verb, "CN"):
		s.sync(verb[2:])
	case verb == "pS":
		ra, _ := s.equatorial()
		if wrap(s.lst()-ra, 24) < 12 {
			s.reply("East")
		} else {
			s.reply("West")
		}

	case verb == "Q":
		s.slew.active = false
		s.homing = false
		clear(s.moving)
	case verb == "RG", verb == "RC", verb == "RM", verb == "RS":
		s.moveRate = verb
	case len(verb) == 2 && verb[0] == 'M' && strings.IndexByte("nsew", verb[1]) >= 0:
		s.moving[verb[1]] = s.now()
	case len(verb) == 2 && verb[0] == 'Q' && strings.IndexByte("nsew", verb[1]) >= 0:
		s.stopMove(verb[1])
	case strings.HasPrefix(verb, "Cu"):
		s.setSpeed(verb[2:])
	case strings.HasPrefix(verb, "CU"):
		id, err := strconv.Atoi(verb[2:])
		if err != nil || id < 0 || id >= len(s.speeds) {
			s.reply("0")
			return
		}
		s.reply(fmt.Sprintf("CU%d=%04d", id, s.speeds[id]))

	case verb == "Ch":
		s.startHoming()
	case verb == "AH":
		s.flag(!s.homing)
	case verb == "GH":
		s.flag(!s.homing && s.homeOK)

	case verb == "AT":
		s.flag(s.tracking)
	case verb == "Ct?":
		s.reply("Ct" + string(s.class))
	case verb == "CtA":
		s.setTracking(true)
	case verb == "CtL":
		s.setTracking(false)
	case verb == "CtR":
		s.class = '0'
	case verb == "CtS":
		s.class = '1'
	case verb == "CtM":
		s.class = '2'

	case verb == "NGle":
		s.reply(strconv.FormatFloat(s.cfg.SoftLimitEast, 'f', 1, 64))
	case verb == "NGlw":
		s.reply(strconv.FormatFloat(s.cfg.SoftLimitWest, 'f', 1, 64))
	case verb == "GV":
		s.reply(fmt.Sprintf("%.1fV", s.voltage))

	case strings.HasPrefix(verb, "SL"):
		s.setString(&s.localTime, verb[2:])
	case strings.HasPrefix(verb, "SC"):
		s.setString(&s.localDate, verb[2:])
	case verb == "GL":
		s.reply(s.localTime)
	case verb == "GC":
		s.reply(s.localDate)
	case strings.HasPrefix(verb, "Sg"):
		s.setString(&s.longitude, verb[2:])
	case strings.HasPrefix(verb, "St"):
		s.setString(&s.latitude, verb[2:])
	case strings.HasPrefix(verb, "SG"):
		s.setString(&s.timezone, verb[2:])
	case verb == "Gg":
		s.reply(s.longitude)
	case verb == "Gt":
		s.reply(s.latitude)
	case verb == "GG":
		s.reply(s.timezone)

	default:
		s.logger.Warnf("Unknown command %q", cmd)
	}
}

func (s *Simulator) setTarget(arg string, dst *float64, lo, hi float64) {
	v, err := parseAngle(arg)
	if err != nil || v < lo || v > hi {
		s.logger.Debugf("Rejecting target %q: %v", arg, err)
		s.reply("0")
		return
	}
	*dst = v
	s.reply("1")
}

// sync parses "RR.RRR±DD.DDD".
func (s *Simulator) sync(arg string) {
	i := strings.IndexAny(arg, "+-")
	if i < 0 {
		s.reply("0")
		return
	}
	ra, err1 := strconv.ParseFloat(arg[:i], 64)
	dec, err2 := strconv.ParseFloat(arg[i:], 64)
	if err1 != nil || err2 != nil || ra < 0 || ra >= 24 || math.Abs(dec) > 90 {
		s.reply("0")
		return
	}
	s.pointEquatorial(ra, dec)
	s.reply("1")
}

func (s *Simulator) setSpeed(arg string) {
	id, value, ok := strings.Cut(arg, "=")
	if !ok {
		return
	}
	n, err1 := strconv.Atoi(id)
	v, err2 := strconv.Atoi(value)
	if err1 != nil || err2 != nil || n < 0 || n >= len(s.speeds) {
		return
	}
	s.speeds[n] = v
}

var moveDegreesPerSecond = map[string]float64{
	"RG": 0.5 / 3600 * 15,
	"RC": 8.0 / 3600 * 15,
	"RM": 0.5,
	"RS": 3,
}

func (s *Simulator) stopMove(dir byte) {
	started, ok := s.moving[dir]
	if !ok {
		return
	}
	delete(s.moving, dir)

	delta := s.now().Sub(started).Seconds() * moveDegreesPerSecond[s.moveRate]
	ra, dec := s.equatorial()
	switch dir {
	case 'n':
		dec = math.Min(90, dec+delta)
	case 's':
		dec = math.Max(-90, dec-delta)
	case 'e':
		ra = wrap(ra+delta/15, 24)
	case 'w':
		ra = wrap(ra-delta/15, 24)
	}
	s.pointEquatorial(ra, dec)
}

func (s *Simulator) startHoming() {
	s.slew.active = false
	s.homing = true
	s.homeEnd = s.now().Add(time.Duration(s.cfg.HomingSeconds * float64(time.Second)))
	s.homeOK = true
	if s.faultsDue > 0 {
		s.faultsDue--
		s.homeOK = false
	}
}

func (s *Simulator) setString(dst *string, value string) {
	*dst = value
	s.reply("1")
}
