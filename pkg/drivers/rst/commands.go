package rst

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Protocol verbs, without prefix and sentinel.
const (
	// Position
	verbGetRA       = "GR" // Read right ascension, reply "RAHH:MM:SS.S"
	verbGetDec      = "GD" // Read declination, reply "DE±DD*MM'SS"
	verbGetAlt      = "GA" // Read altitude, reply "AL±DD*MM'SS"
	verbGetAz       = "GZ" // Read azimuth, reply "AZDDD*MM'SS"
	verbSetTargetRA = "Sr" // Set target right ascension
	verbSetTargetDe = "Sd" // Set target declination
	verbSetTargetAl = "Sa" // Set target altitude
	verbSetTargetAz = "Sz" // Set target azimuth
	verbGotoEq      = "MS" // Slew to the equatorial target
	verbGotoAltAz   = "MA" // Slew to the horizontal target
	verbSlewPercent = "GGgr"
	verbDistance    = "D" // Distance bars, empty when the mount is still
	verbSyncFirst   = "Ck"
	verbSyncNext    = "CN"
	verbSideOfPier  = "pS"

	// Motion
	verbAbort     = "Q"
	verbMoveNorth = "Mn"
	verbMoveSouth = "Ms"
	verbMoveEast  = "Me"
	verbMoveWest  = "Mw"
	verbStopNorth = "Qn"
	verbStopSouth = "Qs"
	verbStopEast  = "Qe"
	verbStopWest  = "Qw"
	verbSetSpeed  = "Cu%d=%04d"
	verbGetSpeed  = "CU%d"

	// Homing
	verbHome       = "Ch" // Start homing
	verbHomingDone = "AH" // Homing finished, "1" or "0"
	verbHomeStatus = "GH" // Homing result, "1" when the reference was found

	// Tracking
	verbTrackingOn       = "AT"  // Tracking enabled, "1" or "0"
	verbTrackingClass    = "Ct?" // Rate class digit
	verbTrackEnable      = "CtA"
	verbTrackSidereal    = "CtR"
	verbTrackOff         = "CtL"
	verbTrackLunar       = "CtM"
	verbTrackSolar       = "CtS"
	verbSoftLimitEast    = "NGle"
	verbSoftLimitWest    = "NGlw"
	verbFirmwareVersion  = "AV"
	verbInputVoltage     = "GV"
	verbSetLocalTime     = "SL%02d:%02d:%02d"
	verbSetLocalDate     = "SC%02d/%02d/%02d"
	verbGetLocalTime     = "GL"
	verbGetLocalDate     = "GC"
	verbSetSiteLongitude = "Sg"
	verbSetSiteLatitude  = "St"
	verbSetSiteTimezone  = "SG"
	verbGetSiteLongitude = "Gg"
	verbGetSiteLatitude  = "Gt"
	verbGetSiteTimezone  = "GG"
)

// Direction of an open-loop move.
type Direction int

const (
	DirNorth Direction = iota
	DirSouth
	DirEast
	DirWest
)

func (d Direction) String() string {
	switch d {
	case DirNorth:
		return "north"
	case DirSouth:
		return "south"
	case DirEast:
		return "east"
	case DirWest:
		return "west"
	default:
		return "unknown"
	}
}

// MoveRate selects one of the four open-loop speeds.
type MoveRate int

const (
	RateGuide MoveRate = iota
	RateCentering
	RateFind
	RateMax
)

var moveRates = []struct {
	name string
	verb string
}{
	{"Guide", "RG"},
	{"Centering", "RC"},
	{"Find", "RM"},
	{"Max", "RS"},
}

// MoveRateNames returns the open-loop rate names, indexed by MoveRate.
func MoveRateNames() []string {
	names := make([]string, len(moveRates))
	for i, r := range moveRates {
		names[i] = r.name
	}
	return names
}

// RateClass is the tracking rate family reported by the controller.
type RateClass byte

const (
	ClassSidereal RateClass = '0'
	ClassSolar    RateClass = '1'
	ClassLunar    RateClass = '2'
	ClassGuide    RateClass = '3'
)

// Controller issues protocol verbs. It is stateless apart from the session;
// sequencing and caching belong to Mount.
type Controller struct {
	session *Session
	dialect *Dialect
	logger  log.FieldLogger
}

func NewController(session *Session, dialect *Dialect, logger log.FieldLogger) *Controller {
	return &Controller{
		session: session,
		dialect: dialect,
		logger:  logger.WithField("component", "controller"),
	}
}

// The command helpers take a complete body; callers format arguments
// themselves.
func (c *Controller) query(body string) (string, error) {
	return c.session.Send(c.dialect.Command(body), Terminated, c.dialect.QueryTimeout)
}

func (c *Controller) status(body string) (string, error) {
	return c.session.Send(c.dialect.Command(body), Terminated, c.dialect.StatusTimeout)
}

func (c *Controller) fire(body string) error {
	_, err := c.session.Send(c.dialect.Command(body), NoReply, 0)
	return err
}

// ack sends a target-set style command and checks the acknowledgement byte.
func (c *Controller) ack(body string) error {
	resp, err := c.session.Send(c.dialect.Command(body), Ack, c.dialect.TargetTimeout)
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != c.dialect.AckByte {
		return rejected(body, fmt.Sprintf("acknowledgement %q", resp))
	}
	return nil
}

// trimEcho removes the echo tag some replies start with ("RA", "DE", ...).
func trimEcho(resp string, tag string) string {
	resp = strings.TrimSpace(resp)
	if tag != "" && strings.HasPrefix(resp, tag) {
		resp = resp[len(tag):]
	}
	return strings.TrimLeft(resp, " =")
}

func parseFlag(verb string, resp string) (bool, error) {
	switch trimEcho(resp, verb) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, malformed(verb, resp, ErrParse)
	}
}

func (c *Controller) queryAngle(verb string, tag string, f Format) (float64, error) {
	resp, err := c.query(verb)
	if err != nil {
		return 0, err
	}
	v, err := Decode(f, trimEcho(resp, tag))
	if err != nil {
		return 0, malformed(verb, resp, err)
	}
	return v, nil
}

// FirmwareVersion reads the controller firmware version.
func (c *Controller) FirmwareVersion() (string, error) {
	resp, err := c.query(verbFirmwareVersion)
	if err != nil {
		return "", err
	}
	version := trimEcho(resp, verbFirmwareVersion)
	if version == "" {
		return "", malformed(verbFirmwareVersion, resp, ErrParse)
	}
	return version, nil
}

// RightAscension reads the current right ascension in hours.
func (c *Controller) RightAscension() (float64, error) {
	return c.queryAngle(verbGetRA, "RA", FormatHours)
}

// Declination reads the current declination in degrees.
func (c *Controller) Declination() (float64, error) {
	return c.queryAngle(verbGetDec, "DE", FormatSignedDMS)
}

// Altitude reads the current altitude in degrees.
func (c *Controller) Altitude() (float64, error) {
	return c.queryAngle(verbGetAlt, "AL", FormatSignedDMS)
}

// Azimuth reads the current azimuth in degrees.
func (c *Controller) Azimuth() (float64, error) {
	return c.queryAngle(verbGetAz, "AZ", FormatAzimuthDMSt)
}

// SetTarget writes the equatorial goto target.
func (c *Controller) SetTarget(ra, dec float64) error {
	if err := c.ack(verbSetTargetRA + HoursToHMS(ra)); err != nil {
		return err
	}
	return c.ack(verbSetTargetDe + DegreesToSignedDMSt(dec))
}

// SetTargetAltAz writes the horizontal goto target.
func (c *Controller) SetTargetAltAz(alt, az float64) error {
	if err := c.ack(verbSetTargetAl + DegreesToSignedDMSt(alt)); err != nil {
		return err
	}
	return c.ack(verbSetTargetAz + DegreesToAzimuthDMSt(az))
}

func (c *Controller) gotoTarget(verb string) error {
	resp, err := c.query(verb)
	if err != nil {
		return err
	}
	if len(resp) > 0 {
		if reason, ok := c.dialect.SlewRejects[resp[0]]; ok {
			return rejected(verb, reason)
		}
	}
	return nil
}

// SlewToTarget starts a goto to the equatorial target.
func (c *Controller) SlewToTarget() error { return c.gotoTarget(verbGotoEq) }

// SlewToAltAzTarget starts a goto to the horizontal target.
func (c *Controller) SlewToAltAzTarget() error { return c.gotoTarget(verbGotoAltAz) }

// SlewRemaining reports how much of the current slew is left, in percent.
// Dialects without the progress verb only know moving (100) or still (0).
func (c *Controller) SlewRemaining() (int, error) {
	if !c.dialect.SlewProgress {
		resp, err := c.status(verbDistance)
		if err != nil {
			return 0, err
		}
		if strings.TrimSpace(resp) == "" {
			return 0, nil
		}
		return 100, nil
	}

	resp, err := c.status(verbSlewPercent)
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(resp), "%"))
	if err != nil || pct < 0 || pct > 100 {
		return 0, malformed(verbSlewPercent, resp, ErrParse)
	}
	return pct, nil
}

// Sync tells the mount it is pointing at ra/dec. The first sync after
// connecting uses a different verb than the following ones.
func (c *Controller) Sync(ra, dec float64, first bool) error {
	verb := verbSyncNext
	if first {
		verb = verbSyncFirst
	}
	sign := byte('+')
	if dec < 0 {
		sign = '-'
		dec = -dec
	}
	return c.ack(verb + fmt.Sprintf("%06.3f%c%06.3f", ra, sign, dec))
}

// Abort stops any motion.
func (c *Controller) Abort() error { return c.fire(verbAbort) }

// Move starts an open-loop move at the given rate.
func (c *Controller) Move(dir Direction, rate MoveRate) error {
	if rate < RateGuide || rate > RateMax {
		return fmt.Errorf("invalid move rate %d", rate)
	}
	var verb string
	switch dir {
	case DirNorth:
		verb = verbMoveNorth
	case DirSouth:
		verb = verbMoveSouth
	case DirEast:
		verb = verbMoveEast
	case DirWest:
		verb = verbMoveWest
	default:
		return fmt.Errorf("invalid direction %d", dir)
	}
	if err := c.fire(moveRates[rate].verb); err != nil {
		return err
	}
	return c.fire(verb)
}

// StopMove ends an open-loop move in the given direction.
func (c *Controller) StopMove(dir Direction) error {
	switch dir {
	case DirNorth:
		return c.fire(verbStopNorth)
	case DirSouth:
		return c.fire(verbStopSouth)
	case DirEast:
		return c.fire(verbStopEast)
	case DirWest:
		return c.fire(verbStopWest)
	default:
		return fmt.Errorf("invalid direction %d", dir)
	}
}

// SetSpeed writes one of the axis speed presets (0 guide .. 3 max).
func (c *Controller) SetSpeed(id MoveRate, speed int) error {
	if speed < 0 || speed > 9999 {
		return fmt.Errorf("speed %d out of range", speed)
	}
	return c.fire(fmt.Sprintf(verbSetSpeed, int(id), speed))
}

// Speed reads one of the axis speed presets.
func (c *Controller) Speed(id MoveRate) (int, error) {
	verb := fmt.Sprintf(verbGetSpeed, int(id))
	resp, err := c.query(verb)
	if err != nil {
		return 0, err
	}
	speed, err := strconv.Atoi(trimEcho(resp, verb))
	if err != nil {
		return 0, malformed(verb, resp, err)
	}
	return speed, nil
}

// Home starts the homing sequence.
func (c *Controller) Home() error { return c.fire(verbHome) }

// HomingDone reports whether the homing sequence has stopped.
func (c *Controller) HomingDone() (bool, error) {
	resp, err := c.status(verbHomingDone)
	if err != nil {
		return false, err
	}
	return parseFlag(verbHomingDone, resp)
}

// HomeStatusOK reports whether the last homing found its reference, as
// opposed to stopping early.
func (c *Controller) HomeStatusOK() (bool, error) {
	resp, err := c.status(verbHomeStatus)
	if err != nil {
		return false, err
	}
	return parseFlag(verbHomeStatus, resp)
}

// TrackingOn reports whether the mount is tracking.
func (c *Controller) TrackingOn() (bool, error) {
	resp, err := c.query(verbTrackingOn)
	if err != nil {
		return false, err
	}
	return parseFlag(verbTrackingOn, resp)
}

// TrackingClass reads the tracking rate family.
func (c *Controller) TrackingClass() (RateClass, error) {
	resp, err := c.query(verbTrackingClass)
	if err != nil {
		return 0, err
	}
	digit := trimEcho(resp, "Ct")
	if len(digit) != 1 {
		return 0, malformed(verbTrackingClass, resp, ErrParse)
	}
	switch class := RateClass(digit[0]); class {
	case ClassSidereal, ClassSolar, ClassLunar, ClassGuide:
		return class, nil
	default:
		return 0, malformed(verbTrackingClass, resp, ErrParse)
	}
}

// EnableTracking switches tracking on with the current rate class.
func (c *Controller) EnableTracking() error { return c.fire(verbTrackEnable) }

// DisableTracking switches tracking off.
func (c *Controller) DisableTracking() error { return c.fire(verbTrackOff) }

// SelectClass selects the tracking rate family.
func (c *Controller) SelectClass(class RateClass) error {
	switch class {
	case ClassSidereal, ClassGuide:
		return c.fire(verbTrackSidereal)
	case ClassSolar:
		return c.fire(verbTrackSolar)
	case ClassLunar:
		return c.fire(verbTrackLunar)
	default:
		return fmt.Errorf("invalid rate class %q", class)
	}
}

func (c *Controller) softLimit(verb string) (float64, error) {
	resp, err := c.query(verb)
	if err != nil {
		return 0, err
	}
	deg, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, malformed(verb, resp, err)
	}
	return deg, nil
}

// SoftLimits reads the east and west soft limits, in hours from the meridian.
func (c *Controller) SoftLimits() (east, west float64, err error) {
	if !c.dialect.SoftLimits {
		return 0, 0, rejected(verbSoftLimitEast, "not supported by "+c.dialect.Name)
	}
	e, err := c.softLimit(verbSoftLimitEast)
	if err != nil {
		return 0, 0, err
	}
	w, err := c.softLimit(verbSoftLimitWest)
	if err != nil {
		return 0, 0, err
	}
	return e / 15, w / 15, nil
}

// InputVoltage reads the controller supply voltage.
func (c *Controller) InputVoltage() (float64, error) {
	resp, err := c.query(verbInputVoltage)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(trimEcho(resp, verbInputVoltage), "V"), 64)
	if err != nil {
		return 0, malformed(verbInputVoltage, resp, err)
	}
	return v, nil
}

// BeyondThePole reports whether the telescope is on the west side of the pier
// looking east.
func (c *Controller) BeyondThePole() (bool, error) {
	resp, err := c.query(verbSideOfPier)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(resp) {
	case "East":
		return false, nil
	case "West":
		return true, nil
	default:
		return false, malformed(verbSideOfPier, resp, ErrParse)
	}
}

// SetLocalTime writes the controller clock.
func (c *Controller) SetLocalTime(h, m, s int) error {
	return c.ack(fmt.Sprintf(verbSetLocalTime, h, m, s))
}

// SetLocalDate writes the controller calendar; yy is the two-digit year.
func (c *Controller) SetLocalDate(month, day, yy int) error {
	return c.ack(fmt.Sprintf(verbSetLocalDate, month, day, yy))
}

// LocalTime reads the controller clock as HH:MM:SS.
func (c *Controller) LocalTime() (string, error) {
	resp, err := c.query(verbGetLocalTime)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// LocalDate reads the controller calendar as MM/DD/YY.
func (c *Controller) LocalDate() (string, error) {
	resp, err := c.query(verbGetLocalDate)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// SetSiteLongitude writes the site longitude, west positive.
func (c *Controller) SetSiteLongitude(deg float64) error {
	s := DegreesToSignedDMS(deg)
	if c.dialect.SiteDirectionSuffix {
		dir := "W"
		if deg < 0 {
			dir = "E"
		}
		s = DegreesToSignedDMS(math.Abs(deg))[1:] + dir
	}
	return c.ack(verbSetSiteLongitude + s)
}

// SetSiteLatitude writes the site latitude, north positive.
func (c *Controller) SetSiteLatitude(deg float64) error {
	s := DegreesToSignedDMS(deg)
	if c.dialect.SiteDirectionSuffix {
		dir := "N"
		if deg < 0 {
			dir = "S"
		}
		s = DegreesToSignedDMS(math.Abs(deg))[1:] + dir
	}
	return c.ack(verbSetSiteLatitude + s)
}

// SetSiteTimezone writes the UTC offset, DST included.
func (c *Controller) SetSiteTimezone(hours float64) error {
	return c.ack(verbSetSiteTimezone + FormatTimezone(hours))
}

// SiteLongitude reads the site longitude, west positive.
func (c *Controller) SiteLongitude() (float64, error) {
	resp, err := c.query(verbGetSiteLongitude)
	if err != nil {
		return 0, err
	}
	v, err := ParseSiteAngle(resp)
	if err != nil {
		return 0, malformed(verbGetSiteLongitude, resp, err)
	}
	return v, nil
}

// SiteLatitude reads the site latitude.
func (c *Controller) SiteLatitude() (float64, error) {
	resp, err := c.query(verbGetSiteLatitude)
	if err != nil {
		return 0, err
	}
	v, err := ParseSiteAngle(resp)
	if err != nil {
		return 0, malformed(verbGetSiteLatitude, resp, err)
	}
	return v, nil
}

// SiteTimezone reads the UTC offset in hours.
func (c *Controller) SiteTimezone() (float64, error) {
	resp, err := c.query(verbGetSiteTimezone)
	if err != nil {
		return 0, err
	}
	v, err := ParseTimezone(resp)
	if err != nil {
		return 0, malformed(verbGetSiteTimezone, resp, err)
	}
	return v, nil
}
