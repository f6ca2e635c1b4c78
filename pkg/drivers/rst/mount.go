package rst

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"rstalpaca/pkg/site"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of the mount as seen by the driver.
type State int

const (
	StateDisconnected State = iota
	StateIdle
	StateHoming
	StateParked
	StateUnparking
	StateSlewing
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateHoming:
		return "homing"
	case StateParked:
		return "parked"
	case StateUnparking:
		return "unparking"
	case StateSlewing:
		return "slewing"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// TrackingRate is the rate family the mount tracks at.
type TrackingRate int

const (
	TrackSidereal TrackingRate = iota
	TrackSolar
	TrackLunar
	TrackCustom
	TrackStopped
)

func (r TrackingRate) String() string {
	switch r {
	case TrackSidereal:
		return "sidereal"
	case TrackSolar:
		return "solar"
	case TrackLunar:
		return "lunar"
	case TrackCustom:
		return "custom"
	case TrackStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Rate offsets from sidereal in arcseconds per second of time.
const (
	SiderealRate = 15.041067 // arcsec/s

	solarOffset = 15.0 - SiderealRate
	lunarOffset = 14.685 - SiderealRate
	solarBand   = 0.02
	lunarBand   = 0.1
)

// classifyRate picks the rate family closest to a requested RA offset. Rates
// outside the solar and lunar bands run at sidereal and are reported as custom.
func classifyRate(raRate, decRate float64) TrackingRate {
	switch {
	case math.Abs(raRate-lunarOffset) <= lunarBand:
		return TrackLunar
	case math.Abs(raRate-solarOffset) <= solarBand:
		return TrackSolar
	case raRate == 0 && decRate == 0:
		return TrackSidereal
	default:
		return TrackCustom
	}
}

func (r TrackingRate) class() RateClass {
	switch r {
	case TrackSolar:
		return ClassSolar
	case TrackLunar:
		return ClassLunar
	default:
		return ClassSidereal
	}
}

func (r TrackingRate) nominalOffset() float64 {
	switch r {
	case TrackSolar:
		return solarOffset
	case TrackLunar:
		return lunarOffset
	default:
		return 0
	}
}

func rateForClass(c RateClass) TrackingRate {
	switch c {
	case ClassSolar:
		return TrackSolar
	case ClassLunar:
		return TrackLunar
	case ClassGuide:
		return TrackCustom
	default:
		return TrackSidereal
	}
}

// MountConfig holds the behavior settings read from the driver configuration.
type MountConfig struct {
	SyncOnConnect            bool          // push site, time and date after connecting
	StopTrackingOnDisconnect bool          // send tracking-off before closing the port
	ParkAltitude             float64       // designated park position, degrees
	ParkAzimuth              float64       // designated park position, degrees
	ParkTolerance            float64       // degrees, both axes
	SlewSettle               time.Duration // minimum delay before the first slew poll
	WriteSettle              time.Duration // gap between consecutive site and clock writes
	UnparkEnableGap          time.Duration // gap between the two tracking-enable commands
}

var DefaultMountConfig = MountConfig{
	SyncOnConnect:            true,
	StopTrackingOnDisconnect: false,
	ParkAltitude:             0,
	ParkAzimuth:              180,
	ParkTolerance:            1,
	SlewSettle:               2 * time.Second,
	WriteSettle:              250 * time.Millisecond,
	UnparkEnableGap:          250 * time.Millisecond,
}

const maxHomingRetries = 1

// positionCache keeps the last good reading of an axis pair and counts
// consecutive failures.
type positionCache struct {
	a, b     float64
	valid    bool
	failures int
}

func (c *positionCache) store(a, b float64) {
	c.a, c.b = a, b
	c.valid = true
	c.failures = 0
}

// fallback absorbs a single transient failure by returning the cached pair.
// A second consecutive failure, or no cached pair, propagates the error.
func (c *positionCache) fallback(err error, logger log.FieldLogger, what string) (float64, float64, error) {
	c.failures++
	if !c.valid || c.failures > 1 || errors.Is(err, ErrNotConnected) {
		return 0, 0, err
	}
	logger.Warnf("%s read failed, using cached value: %v", what, err)
	return c.a, c.b, nil
}

// Status is a point-in-time view of the mount.
type Status struct {
	State          string    `json:"state"`
	RightAscension float64   `json:"ra"`
	Declination    float64   `json:"dec"`
	Altitude       float64   `json:"alt"`
	Azimuth        float64   `json:"az"`
	Homed          bool      `json:"homed"`
	Parked         bool      `json:"parked"`
	Tracking       bool      `json:"tracking"`
	Slewing        bool      `json:"slewing"`
	TrackingRate   string    `json:"tracking_rate"`
	Firmware       string    `json:"firmware"`
	TimeStamp      time.Time `json:"timestamp"`
}

// Mount sequences the catalog operations, keeps the lifecycle state and the
// cached readings. All methods are safe for concurrent use; the lock is held
// across each exchange with the controller.
type Mount struct {
	mu      sync.Mutex
	cfg     MountConfig
	dialect *Dialect
	site    site.Provider
	logger  log.FieldLogger

	session  *Session
	ctl      *Controller
	firmware string

	state        State
	homingReturn State // state restored when homing fails
	homed        bool
	parked       bool
	tracking     bool
	parking      bool
	unparking    bool
	synced       bool
	homeRetries  int
	slewStarted  time.Time

	eq positionCache // ra, dec
	hz positionCache // alt, az

	rate    TrackingRate
	raRate  float64
	decRate float64

	limitsValid bool
	limitEast   float64
	limitWest   float64

	now   func() time.Time
	sleep func(time.Duration)
}

func NewMount(cfg MountConfig, dialect *Dialect, provider site.Provider, logger log.FieldLogger) *Mount {
	return &Mount{
		cfg:     cfg,
		dialect: dialect,
		site:    provider,
		logger:  logger.WithField("component", "mount"),
		state:   StateDisconnected,
		rate:    TrackStopped,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

func (m *Mount) checkConnected() error {
	if m.state == StateDisconnected {
		return ErrNotConnected
	}
	return nil
}

// restingState is the state the mount settles in when nothing is in progress.
func (m *Mount) restingState() State {
	switch {
	case m.parked:
		return StateParked
	case m.tracking:
		return StateTracking
	default:
		return StateIdle
	}
}

// Connect opens a session on port, checks the controller answers and reads
// the homing, tracking and park status.
func (m *Mount) Connect(port Port) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return fmt.Errorf("%w: already connected", ErrInvalidState)
	}

	session, err := NewSession(port, m.dialect, m.logger)
	if err != nil {
		port.Close()
		return err
	}
	ctl := NewController(session, m.dialect, m.logger)

	version, err := ctl.FirmwareVersion()
	if err != nil {
		session.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	m.session, m.ctl, m.firmware = session, ctl, version
	m.synced, m.parking, m.unparking = false, false, false
	m.eq, m.hz = positionCache{}, positionCache{}
	m.limitsValid = false
	m.rate, m.raRate, m.decRate = TrackStopped, 0, 0
	m.state = StateIdle

	m.logger.Infof("Connected to RST controller, firmware %s (%s dialect)", version, m.dialect.Name)

	if err := m.refreshLocked(); err != nil {
		m.logger.Warnf("Failed to read initial mount status: %v", err)
	}
	m.state = m.restingState()

	if m.cfg.SyncOnConnect && m.site != nil {
		if err := m.syncSiteLocked(); err != nil {
			m.logger.Warnf("Failed to synchronize site data: %v", err)
		}
	}

	return nil
}

// Disconnect closes the session, optionally stopping tracking first.
func (m *Mount) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}

	if m.cfg.StopTrackingOnDisconnect {
		if err := m.ctl.DisableTracking(); err != nil {
			m.logger.Warnf("Failed to stop tracking: %v", err)
		}
	}

	err := m.session.Close()
	m.session, m.ctl = nil, nil
	m.state = StateDisconnected
	m.homed, m.parked, m.tracking = false, false, false
	m.parking, m.unparking = false, false
	m.logger.Info("Disconnected from RST controller")

	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrTransport, err)
	}
	return nil
}

// refreshLocked reads the homed and tracking flags and derives parked.
func (m *Mount) refreshLocked() error {
	done, err := m.ctl.HomingDone()
	if err != nil {
		return err
	}
	homed := false
	if done {
		if homed, err = m.ctl.HomeStatusOK(); err != nil {
			return err
		}
	}
	tracking, err := m.ctl.TrackingOn()
	if err != nil {
		return err
	}
	m.homed, m.tracking = homed, tracking
	if tracking && m.rate == TrackStopped {
		m.rate = TrackSidereal
	}
	if !tracking {
		m.rate = TrackStopped
	}

	alt, az, err := m.horizontalLocked()
	if err != nil {
		return err
	}
	m.parked = m.atPark(alt, az)
	return nil
}

// atPark derives the parked flag: homed, not tracking and within tolerance of
// the park position on both axes.
func (m *Mount) atPark(alt, az float64) bool {
	if !m.homed || m.tracking {
		return false
	}
	dAz := math.Abs(math.Mod(az-m.cfg.ParkAzimuth+540, 360) - 180)
	return math.Abs(alt-m.cfg.ParkAltitude) <= m.cfg.ParkTolerance && dAz <= m.cfg.ParkTolerance
}

func (m *Mount) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mount) Connected() bool {
	return m.State() != StateDisconnected
}

func (m *Mount) FirmwareVersion() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return "", err
	}
	return m.firmware, nil
}

// EquatorialPosition returns RA in hours and Dec in degrees. RA is read
// before Dec and the pair is only cached when both succeed.
func (m *Mount) EquatorialPosition() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, err
	}
	return m.equatorialLocked()
}

func (m *Mount) equatorialLocked() (float64, float64, error) {
	if m.unparking {
		return m.eq.a, m.eq.b, nil
	}

	ra, err := m.ctl.RightAscension()
	var dec float64
	if err == nil {
		dec, err = m.ctl.Declination()
	}
	if err != nil {
		return m.eq.fallback(err, m.logger, "equatorial position")
	}
	m.eq.store(ra, dec)
	return ra, dec, nil
}

// HorizontalPosition returns altitude and azimuth in degrees. Azimuth is read
// before altitude.
func (m *Mount) HorizontalPosition() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, err
	}
	return m.horizontalLocked()
}

func (m *Mount) horizontalLocked() (float64, float64, error) {
	if m.unparking {
		return m.hz.a, m.hz.b, nil
	}

	az, err := m.ctl.Azimuth()
	var alt float64
	if err == nil {
		alt, err = m.ctl.Altitude()
	}
	if err != nil {
		return m.hz.fallback(err, m.logger, "horizontal position")
	}
	m.hz.store(alt, az)
	return alt, az, nil
}

func (m *Mount) checkMovable() error {
	if err := m.checkConnected(); err != nil {
		return err
	}
	switch m.state {
	case StateParked, StateHoming, StateUnparking:
		return fmt.Errorf("%w: mount is %s", ErrInvalidState, m.state)
	}
	return nil
}

// SlewToCoordinates starts an asynchronous goto. Progress is polled with
// IsSlewComplete.
func (m *Mount) SlewToCoordinates(ra, dec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkMovable(); err != nil {
		return err
	}
	if ra < 0 || ra >= 24 {
		return fmt.Errorf("%w: right ascension %f", ErrInvalidValue, ra)
	}
	if dec < -90 || dec > 90 {
		return fmt.Errorf("%w: declination %f", ErrInvalidValue, dec)
	}

	if err := m.ctl.SetTarget(ra, dec); err != nil {
		return err
	}
	if err := m.ctl.SlewToTarget(); err != nil {
		return err
	}

	m.logger.Infof("Slewing to RA %s Dec %s", HoursToHMS(ra), DegreesToSignedDMS(dec))
	m.state = StateSlewing
	m.slewStarted = m.now()
	return nil
}

// IsSlewComplete polls the slew progress. It reports false until the settle
// delay after the goto has elapsed.
func (m *Mount) IsSlewComplete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return false, err
	}
	return m.slewCompleteLocked()
}

func (m *Mount) slewCompleteLocked() (bool, error) {
	if m.state != StateSlewing {
		return true, nil
	}
	if m.now().Sub(m.slewStarted) < m.cfg.SlewSettle {
		return false, nil
	}

	remaining, err := m.ctl.SlewRemaining()
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	if m.parking {
		m.parking = false
		if alt, az, err := m.horizontalLocked(); err == nil {
			m.parked = m.atPark(alt, az)
		} else {
			m.logger.Warnf("Failed to read park position: %v", err)
		}
		if !m.parked {
			m.logger.Warn("Park slew finished away from the park position or mount not homed")
		}
	}
	m.state = m.restingState()
	m.logger.Infof("Slew complete, mount %s", m.state)
	return true, nil
}

// SyncToCoordinates tells the mount it is pointing at ra/dec.
func (m *Mount) SyncToCoordinates(ra, dec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkMovable(); err != nil {
		return err
	}
	if m.state == StateSlewing {
		return fmt.Errorf("%w: mount is slewing", ErrInvalidState)
	}
	if ra < 0 || ra >= 24 || dec < -90 || dec > 90 {
		return fmt.Errorf("%w: sync to %f, %f", ErrInvalidValue, ra, dec)
	}

	if err := m.ctl.Sync(ra, dec, !m.synced); err != nil {
		return err
	}
	m.synced = true
	m.eq.store(ra, dec)
	return nil
}

// FindHome starts homing. Progress is polled with IsHomingComplete.
func (m *Mount) FindHome() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.state == StateSlewing || m.state == StateUnparking {
		return fmt.Errorf("%w: mount is %s", ErrInvalidState, m.state)
	}

	if err := m.ctl.Home(); err != nil {
		return err
	}
	if m.state != StateHoming {
		m.homingReturn = m.state
	}
	m.homeRetries = 0
	m.state = StateHoming
	m.logger.Info("Homing started")
	return nil
}

// IsHomingComplete polls homing started by FindHome. A homing that stops
// without finding its reference is restarted once before failing.
func (m *Mount) IsHomingComplete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return false, err
	}
	if m.state != StateHoming {
		return true, nil
	}

	done, err := m.pollHomingLocked()
	if err != nil || !done {
		return false, err
	}
	m.parked = false
	m.state = m.restingState()
	m.logger.Info("Homing complete")
	return true, nil
}

func (m *Mount) pollHomingLocked() (bool, error) {
	done, err := m.ctl.HomingDone()
	if err != nil || !done {
		return false, err
	}
	ok, err := m.ctl.HomeStatusOK()
	if err != nil {
		return false, err
	}
	if ok {
		m.homed = true
		return true, nil
	}

	if m.homeRetries < maxHomingRetries {
		m.homeRetries++
		m.logger.Warnf("Homing stopped before reaching the reference, retrying (%d/%d)", m.homeRetries, maxHomingRetries)
		if err := m.ctl.Home(); err != nil {
			return false, err
		}
		return false, nil
	}

	m.homed = false
	m.unparking = false
	m.state = m.homingReturn
	return false, rejected(verbHome, "homing did not reach its reference after retry")
}

// Park slews to the designated park position with tracking off.
func (m *Mount) Park() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.state == StateParked {
		return nil
	}
	if m.state == StateHoming || m.state == StateUnparking {
		return fmt.Errorf("%w: mount is %s", ErrInvalidState, m.state)
	}

	if err := m.ctl.DisableTracking(); err != nil {
		return err
	}
	m.tracking = false
	m.rate, m.raRate, m.decRate = TrackStopped, 0, 0

	// Tracking is already off on the controller; a tracking mount that fails
	// to start the park slew is left at rest.
	fail := func(err error) error {
		if m.state == StateTracking {
			m.state = m.restingState()
		}
		return err
	}
	if err := m.ctl.SetTargetAltAz(m.cfg.ParkAltitude, m.cfg.ParkAzimuth); err != nil {
		return fail(err)
	}
	if err := m.ctl.SlewToAltAzTarget(); err != nil {
		return fail(err)
	}

	m.logger.Infof("Parking at alt %.2f az %.2f", m.cfg.ParkAltitude, m.cfg.ParkAzimuth)
	m.parking = true
	m.state = StateSlewing
	m.slewStarted = m.now()
	return nil
}

// IsParkComplete polls a park slew.
func (m *Mount) IsParkComplete() (bool, error) {
	return m.IsSlewComplete()
}

// IsParked derives the parked status from the homed and tracking flags and
// the current position.
func (m *Mount) IsParked() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return false, err
	}
	switch m.state {
	case StateSlewing, StateHoming, StateUnparking:
		return m.parked, nil
	}

	tracking, err := m.ctl.TrackingOn()
	if err != nil {
		return false, err
	}
	m.tracking = tracking
	alt, az, err := m.horizontalLocked()
	if err != nil {
		return false, err
	}
	m.parked = m.atPark(alt, az)
	m.state = m.restingState()
	return m.parked, nil
}

// SetPark makes the current position the park position and returns it.
func (m *Mount) SetPark() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, err
	}
	alt, az, err := m.horizontalLocked()
	if err != nil {
		return 0, 0, err
	}
	m.cfg.ParkAltitude, m.cfg.ParkAzimuth = alt, az
	m.logger.Infof("Park position set to alt %.2f az %.2f", alt, az)
	return alt, az, nil
}

// ParkPosition returns the designated park altitude and azimuth.
func (m *Mount) ParkPosition() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.ParkAltitude, m.cfg.ParkAzimuth
}

// Unpark homes the mount and then enables tracking. Progress is polled with
// IsUnparkComplete; position reads return cached values meanwhile.
func (m *Mount) Unpark() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.state == StateSlewing || m.state == StateHoming {
		return fmt.Errorf("%w: mount is %s", ErrInvalidState, m.state)
	}
	if m.state == StateUnparking {
		return nil
	}

	if err := m.ctl.Home(); err != nil {
		return err
	}
	m.homingReturn = m.state
	m.homeRetries = 0
	m.unparking = true
	m.state = StateUnparking
	m.logger.Info("Unparking")
	return nil
}

// IsUnparkComplete polls an unpark. After homing succeeds tracking is enabled
// twice; the controller can ignore a single enable near the horizon.
func (m *Mount) IsUnparkComplete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return false, err
	}
	if m.state != StateUnparking {
		return true, nil
	}

	done, err := m.pollHomingLocked()
	if err != nil || !done {
		return false, err
	}

	for i := 0; i < 2; i++ {
		if i > 0 {
			m.sleep(m.cfg.UnparkEnableGap)
		}
		if err := m.ctl.EnableTracking(); err != nil {
			return false, err
		}
	}

	m.unparking = false
	m.parked = false
	m.tracking = true
	m.rate = TrackSidereal
	m.raRate, m.decRate = 0, 0
	m.state = StateTracking
	m.logger.Info("Unpark complete, tracking")
	return true, nil
}

// Abort stops any motion. It is accepted in every state, clears the slewing
// and unparking conditions and leaves the parked and homed flags alone.
func (m *Mount) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.parking = false
	m.unparking = false
	if m.state == StateDisconnected {
		return nil
	}

	err := m.ctl.Abort()
	m.state = m.restingState()
	m.logger.Infof("Abort, mount %s", m.state)
	return err
}

// MoveAxis starts an open-loop move at one of the preset rates.
func (m *Mount) MoveAxis(dir Direction, rate MoveRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkMovable(); err != nil {
		return err
	}
	return m.ctl.Move(dir, rate)
}

// StopAxis ends an open-loop move.
func (m *Mount) StopAxis(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	return m.ctl.StopMove(dir)
}

// SetTracking switches sidereal tracking on or off.
func (m *Mount) SetTracking(on bool) error {
	if !on {
		return m.SetTrackingRate(TrackStopped, 0, 0)
	}
	return m.SetTrackingRate(TrackSidereal, 0, 0)
}

// SetTrackingRate selects a rate family and enables tracking. For TrackCustom
// the family is chosen from the requested RA offset (arcsec/s from sidereal);
// rates that match no family track at sidereal and are echoed back as set.
func (m *Mount) SetTrackingRate(kind TrackingRate, raRate, decRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}

	if kind == TrackStopped {
		if err := m.ctl.DisableTracking(); err != nil {
			return err
		}
		m.tracking = false
		m.rate = TrackStopped
		if m.state == StateTracking {
			m.state = StateIdle
		}
		return nil
	}

	if m.state == StateParked || m.state == StateUnparking || m.state == StateHoming {
		return fmt.Errorf("%w: mount is %s", ErrInvalidState, m.state)
	}

	if kind == TrackCustom {
		kind = classifyRate(raRate, decRate)
	} else {
		raRate, decRate = kind.nominalOffset(), 0
	}

	if err := m.ctl.SelectClass(kind.class()); err != nil {
		return err
	}
	if err := m.ctl.EnableTracking(); err != nil {
		return err
	}

	m.tracking = true
	m.rate = kind
	m.raRate, m.decRate = raRate, decRate
	if m.state == StateIdle {
		m.state = StateTracking
	}
	m.logger.Infof("Tracking %s (ra %+.4f dec %+.4f arcsec/s)", kind, raRate, decRate)
	return nil
}

// TrackingRate reads the tracking state and rate family from the mount.
// Custom rates cannot be read back and are returned as last set.
func (m *Mount) TrackingRate() (TrackingRate, float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, 0, err
	}

	on, err := m.ctl.TrackingOn()
	if err != nil {
		return 0, 0, 0, err
	}
	if !on {
		m.tracking = false
		if m.state == StateTracking {
			m.state = StateIdle
		}
		return TrackStopped, 0, 0, nil
	}

	class, err := m.ctl.TrackingClass()
	if err != nil {
		return 0, 0, 0, err
	}
	m.tracking = true

	if m.rate != TrackStopped && m.rate.class() == class {
		return m.rate, m.raRate, m.decRate, nil
	}
	kind := rateForClass(class)
	return kind, kind.nominalOffset(), 0, nil
}

// Tracking reports the tracking flag from the last status read.
func (m *Mount) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// Homed reports whether the last homing reached its reference.
func (m *Mount) Homed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.homed
}

type siteStep struct {
	name string
	fn   func() error
}

// applyStepsLocked runs writes with the settle gap between them. A failure
// after the first step reports what was already applied; nothing is rolled
// back.
func (m *Mount) applyStepsLocked(steps []siteStep) error {
	var applied []string
	for i, step := range steps {
		if i > 0 {
			m.sleep(m.cfg.WriteSettle)
		}
		if err := step.fn(); err != nil {
			if len(applied) == 0 {
				return fmt.Errorf("set %s: %w", step.name, err)
			}
			return &SiteUpdateError{Applied: applied, Failed: step.name, Err: err}
		}
		applied = append(applied, step.name)
	}
	return nil
}

// SetSiteData writes longitude (west positive), latitude and UTC offset.
func (m *Mount) SetSiteData(longitude, latitude, timezone float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	return m.setSiteLocked(longitude, latitude, timezone)
}

// SetSiteLongitude writes only the longitude, west positive.
func (m *Mount) SetSiteLongitude(longitude float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude %f", ErrInvalidValue, longitude)
	}
	return m.ctl.SetSiteLongitude(longitude)
}

// SetSiteLatitude writes only the latitude.
func (m *Mount) SetSiteLatitude(latitude float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude %f", ErrInvalidValue, latitude)
	}
	return m.ctl.SetSiteLatitude(latitude)
}

func (m *Mount) setSiteLocked(longitude, latitude, timezone float64) error {
	steps, err := m.siteStepsLocked(longitude, latitude, timezone)
	if err != nil {
		return err
	}
	return m.applyStepsLocked(steps)
}

func (m *Mount) siteStepsLocked(longitude, latitude, timezone float64) ([]siteStep, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 || math.Abs(timezone) > 14 {
		return nil, fmt.Errorf("%w: site %f, %f, %f", ErrInvalidValue, longitude, latitude, timezone)
	}
	if timezone != math.Round(timezone) {
		m.logger.Warnf("Controller keeps whole-hour offsets, UTC%+.2f sent as UTC%s", timezone, FormatTimezone(timezone))
	}
	return []siteStep{
		{"longitude", func() error { return m.ctl.SetSiteLongitude(longitude) }},
		{"latitude", func() error { return m.ctl.SetSiteLatitude(latitude) }},
		{"timezone", func() error { return m.ctl.SetSiteTimezone(timezone) }},
	}, nil
}

// SiteData reads back the site longitude, latitude and UTC offset.
func (m *Mount) SiteData() (float64, float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, 0, err
	}
	lon, err := m.ctl.SiteLongitude()
	if err != nil {
		return 0, 0, 0, err
	}
	lat, err := m.ctl.SiteLatitude()
	if err != nil {
		return 0, 0, 0, err
	}
	tz, err := m.ctl.SiteTimezone()
	if err != nil {
		return 0, 0, 0, err
	}
	return lon, lat, tz, nil
}

// SyncTime writes the site local time to the controller clock.
func (m *Mount) SyncTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.site == nil {
		return fmt.Errorf("%w: no site provider", ErrInvalidState)
	}
	t := m.site.LocalDateTime()
	return m.ctl.SetLocalTime(t.Hour(), t.Minute(), t.Second())
}

// SyncDate writes the site local date to the controller calendar.
func (m *Mount) SyncDate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.site == nil {
		return fmt.Errorf("%w: no site provider", ErrInvalidState)
	}
	t := m.site.LocalDateTime()
	return m.ctl.SetLocalDate(int(t.Month()), t.Day(), t.Year()%100)
}

// SyncSite pushes site location, time and date from the site provider.
func (m *Mount) SyncSite() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return err
	}
	if m.site == nil {
		return fmt.Errorf("%w: no site provider", ErrInvalidState)
	}
	return m.syncSiteLocked()
}

func (m *Mount) syncSiteLocked() error {
	lon, lat, tz := m.site.Longitude(), m.site.Latitude(), m.site.TimeZone()
	steps, err := m.siteStepsLocked(lon, lat, tz)
	if err != nil {
		return err
	}
	t := m.site.LocalDateTime()
	return m.applyStepsLocked(append(steps,
		siteStep{"time", func() error { return m.ctl.SetLocalTime(t.Hour(), t.Minute(), t.Second()) }},
		siteStep{"date", func() error { return m.ctl.SetLocalDate(int(t.Month()), t.Day(), t.Year()%100) }},
	))
}

// Limits returns the east and west soft limits in hours from the meridian.
// They are read once per connection.
func (m *Mount) Limits() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, 0, err
	}
	if !m.limitsValid {
		east, west, err := m.ctl.SoftLimits()
		if err != nil {
			return 0, 0, err
		}
		m.limitEast, m.limitWest, m.limitsValid = east, west, true
	}
	return m.limitEast, m.limitWest, nil
}

// SideOfPier reports true when the telescope is beyond the pole.
func (m *Mount) SideOfPier() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return false, err
	}
	return m.ctl.BeyondThePole()
}

// InputVoltage reads the controller supply voltage.
func (m *Mount) InputVoltage() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConnected(); err != nil {
		return 0, err
	}
	return m.ctl.InputVoltage()
}

// Snapshot returns the cached view of the mount without talking to it.
func (m *Mount) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:          m.state.String(),
		RightAscension: m.eq.a,
		Declination:    m.eq.b,
		Altitude:       m.hz.a,
		Azimuth:        m.hz.b,
		Homed:          m.homed,
		Parked:         m.parked,
		Tracking:       m.tracking,
		Slewing:        m.state == StateSlewing,
		TrackingRate:   m.rate.String(),
		Firmware:       m.firmware,
		TimeStamp:      m.now(),
	}
}
