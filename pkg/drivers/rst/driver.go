package rst

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"rstalpaca/pkg/alpaca"
	"rstalpaca/pkg/drivers/rst_simulator"
	"rstalpaca/pkg/site"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	deviceName    = "RST Mount"
	driverName    = "RST Mount Driver"
	driverVersion = "1.0"

	pollPeriod     = time.Second
	parkCheckEvery = 5 // polls between parked status reads while at rest
)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// moveRateSpeeds are the nominal open-loop speeds in degrees per second,
// indexed by MoveRate.
var moveRateSpeeds = []float64{
	0.5 * SiderealRate / 3600,
	8 * SiderealRate / 3600,
	0.5,
	3,
}

// moveRateFor picks the preset closest to speed in degrees per second.
func moveRateFor(speed float64) (MoveRate, error) {
	speed = math.Abs(speed)
	if speed > moveRateSpeeds[RateMax]*1.001 {
		return 0, fmt.Errorf("%w: rate %f exceeds %f deg/s", ErrInvalidValue, speed, moveRateSpeeds[RateMax])
	}
	for r := RateGuide; r < RateMax; r++ {
		if speed <= math.Sqrt(moveRateSpeeds[r]*moveRateSpeeds[r+1]) {
			return r, nil
		}
	}
	return RateMax, nil
}

// simulatorConfig supplies the simulated controller settings.
type simulatorConfig interface {
	GetConfig() (rst_simulator.Config, error)
}

// Driver exposes an RST mount as an Alpaca telescope.
type Driver struct {
	number int                // Driver number
	uid    string             // Alpaca UniqueID
	store  *store             // Configuration store
	sim    simulatorConfig    // Simulator configuration, used when Config.Simulate is set
	tmpl   *template.Template // HTML template for rendering the setup form
	logger log.FieldLogger

	mu    sync.Mutex
	state connState

	// Created when the driver is connected
	mount  *Mount
	client mqtt.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup

	atHome     bool
	refreshErr error // last position refresh failure
	driveRate  alpaca.DriveRate
	raRate     float64 // seconds of RA per sidereal second
	decRate    float64 // arcsec per second

	openPort func(Config) (Port, error)
}

func NewDriver(number int, db *bolt.DB, tmpl *template.Template, logger log.FieldLogger) (*Driver, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}
	sim, err := rst_simulator.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator store: %v", err)
	}
	uid, err := store.UniqueID()
	if err != nil {
		return nil, fmt.Errorf("failed to get device id: %v", err)
	}

	driver := Driver{
		number: number,
		uid:    uid,
		store:  store,
		sim:    sim,
		tmpl:   tmpl,
		state:  connStateDisconnected,
		logger: logger.WithField("device", deviceName),
	}
	driver.openPort = driver.defaultOpenPort

	return &driver, nil
}

func (d *Driver) defaultOpenPort(cfg Config) (Port, error) {
	if !cfg.Simulate {
		return OpenSerial(cfg.PortName)
	}
	simCfg, err := d.sim.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get simulator config: %v", err)
	}
	d.logger.Info("Using simulated RST controller")
	return rst_simulator.New(simCfg, d.logger), nil
}

func (d *Driver) Close() {
	d.logger.Info("Closing RST driver")

	if !d.Connected() {
		return
	}
	if err := d.Disconnect(); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

func (d *Driver) Connect() error {
	d.mu.Lock()
	if d.state != connStateDisconnected {
		d.mu.Unlock()
		return fmt.Errorf("driver is already connected")
	}
	d.state = connStateConnecting
	d.mu.Unlock()

	if err := d.connect(); err != nil {
		d.mu.Lock()
		d.state = connStateDisconnected
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *Driver) connect() error {
	cfg, err := d.store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get mount config: %v", err)
	}
	dialect, err := LookupDialect(cfg.Dialect)
	if err != nil {
		return err
	}
	static, err := site.NewStaticProvider(cfg.SiteLongitude, cfg.SiteLatitude, cfg.SiteTimeZone)
	if err != nil {
		return fmt.Errorf("failed to create site provider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var provider site.Provider = static
	var gps *site.GPSProvider
	if cfg.GPSPort != "" {
		gps = site.NewGPSProvider(static, d.logger)
		provider = gps
	}

	port, err := d.openPort(cfg)
	if err != nil {
		cancel()
		return err
	}

	mount := NewMount(cfg.mountConfig(), dialect, provider, d.logger)
	if err := mount.Connect(port); err != nil {
		cancel()
		return fmt.Errorf("failed to connect to mount: %w", err)
	}

	var client mqtt.Client
	if cfg.MQTTConfig.Enabled {
		if client, err = createMQTTClient(cfg.MQTTConfig); err != nil {
			d.logger.Warnf("Telemetry disabled: %v", err)
			client = nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.mount = mount
	d.client = client
	d.cancel = cancel
	d.atHome = false
	d.refreshErr = nil
	d.driveRate = alpaca.DriveSidereal
	d.raRate, d.decRate = 0, 0

	if gps != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			gps.Receive(ctx, func() (io.ReadCloser, error) {
				return site.OpenReceiver(cfg.GPSPort, cfg.GPSBaud)
			})
		}()
	}

	if client != nil {
		telemetry := NewTelemetry(client, cfg.MQTTConfig, mount.Snapshot, d.logger)
		telemetry.Handle(remoteAbort, mount.Abort)
		telemetry.Handle(remotePark, mount.Park)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			telemetry.Run(ctx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, mount, gps)
	}()

	d.state = connStateConnected
	d.logger.Infof("Connected to mount (firmware %s)", mount.Snapshot().Firmware)

	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	if d.state != connStateConnected {
		d.mu.Unlock()
		return alpaca.ErrNotConnected
	}

	d.cancel()
	mount, client := d.mount, d.client
	d.cancel, d.mount, d.client = nil, nil, nil
	d.state = connStateDisconnected
	d.mu.Unlock()

	err := mount.Disconnect()
	if client != nil {
		client.Disconnect(250)
	}
	d.wg.Wait()

	d.logger.Info("Disconnected from mount")
	return err
}

// run refreshes the cached positions and drives asynchronous operations to
// completion until ctx is cancelled.
func (d *Driver) run(ctx context.Context, mount *Mount, gps *site.GPSProvider) {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	siteSynced := false
	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.poll(mount, tick)

		if gps != nil && !siteSynced && gps.HasFix() {
			if err := mount.SyncSite(); err != nil {
				d.logger.Warnf("Failed to apply GPS site: %v", err)
			} else {
				siteSynced = true
				d.logger.Infof("Site set from GPS: lon %.4f lat %.4f", gps.Longitude(), gps.Latitude())
			}
		}
	}
}

func (d *Driver) poll(mount *Mount, tick int) {
	_, _, errEq := mount.EquatorialPosition()
	_, _, errHz := mount.HorizontalPosition()

	d.mu.Lock()
	d.refreshErr = errors.Join(errEq, errHz)
	d.mu.Unlock()

	var err error
	switch mount.State() {
	case StateSlewing:
		_, err = mount.IsSlewComplete()
	case StateHoming:
		var done bool
		if done, err = mount.IsHomingComplete(); done && err == nil {
			d.setAtHome(true)
		}
	case StateUnparking:
		_, err = mount.IsUnparkComplete()
	case StateIdle, StateParked:
		if tick%parkCheckEvery == 0 {
			_, err = mount.IsParked()
		}
	}
	if err != nil {
		d.logger.Errorf("Mount poll failed: %v", err)
	}
}

func (d *Driver) setAtHome(v bool) {
	d.mu.Lock()
	d.atHome = v
	d.mu.Unlock()
}

// connectedMount returns the mount if the driver is connected.
func (d *Driver) connectedMount() (*Mount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return nil, alpaca.ErrNotConnected
	}
	return d.mount, nil
}

// alpacaError translates mount errors to Alpaca error numbers.
func alpacaError(err error, state State) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotConnected):
		return alpaca.ErrNotConnected
	case errors.Is(err, ErrInvalidValue):
		return alpaca.Errorf(alpaca.ErrInvalidValue, "%v", err)
	case errors.Is(err, ErrInvalidState) && state == StateParked:
		return alpaca.Errorf(alpaca.ErrInvalidWhileParked, "%v", err)
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrCommandRejected):
		return alpaca.Errorf(alpaca.ErrInvalidOperation, "%v", err)
	default:
		return alpaca.Errorf(alpaca.ErrDriver, "%v", err)
	}
}

// do runs fn against the connected mount and maps its error.
func (d *Driver) do(fn func(*Mount) error) error {
	mount, err := d.connectedMount()
	if err != nil {
		return err
	}
	return alpacaError(fn(mount), mount.State())
}

func (d *Driver) Connecting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == connStateConnecting
}

func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == connStateConnected
}

// Status returns the cached mount status, or a disconnected status.
func (d *Driver) Status() Status {
	mount, err := d.connectedMount()
	if err != nil {
		return Status{State: StateDisconnected.String(), TimeStamp: time.Now()}
	}
	return mount.Snapshot()
}

// LiveStatus feeds the websocket status stream.
func (d *Driver) LiveStatus() any { return d.Status() }

func (d *Driver) GetState() []alpaca.StateProperty {
	props := []alpaca.StateProperty{
		{
			Name:  "TimeStamp",
			Value: time.Now().Format(time.RFC3339),
		},
	}

	if !d.Connected() {
		return props
	}

	st := d.Status()
	atHome, _ := d.AtHome()
	props = append(props,
		alpaca.StateProperty{Name: "Altitude", Value: st.Altitude},
		alpaca.StateProperty{Name: "AtHome", Value: atHome},
		alpaca.StateProperty{Name: "AtPark", Value: st.Parked},
		alpaca.StateProperty{Name: "Azimuth", Value: st.Azimuth},
		alpaca.StateProperty{Name: "Declination", Value: st.Declination},
		alpaca.StateProperty{Name: "RightAscension", Value: st.RightAscension},
		alpaca.StateProperty{Name: "Slewing", Value: st.Slewing},
		alpaca.StateProperty{Name: "Tracking", Value: st.Tracking},
	)
	return props
}

func (d *Driver) DeviceInfo() alpaca.DeviceInfo {
	return alpaca.DeviceInfo{
		Name:        deviceName,
		Description: "RST harmonic drive mount",
		Type:        alpaca.DeviceTypeTelescope,
		Number:      d.number,
		UniqueID:    d.uid,
	}
}

func (d *Driver) DriverInfo() alpaca.DriverInfo {
	return alpaca.DriverInfo{
		Name:             driverName,
		Version:          driverVersion,
		InterfaceVersion: 3,
	}
}

func (d *Driver) Capabilities() alpaca.TelescopeCapabilities {
	return alpaca.TelescopeCapabilities{
		CanFindHome:              true,
		CanPark:                  true,
		CanSetDeclinationRate:    true,
		CanSetPark:               true,
		CanSetRightAscensionRate: true,
		CanSetTracking:           true,
		CanSlewAsync:             true,
		CanSync:                  true,
		CanUnpark:                true,
		CanMoveAxis:              [3]bool{true, true, false},
	}
}

func (d *Driver) AxisRates(axis alpaca.TelescopeAxis) []alpaca.AxisRate {
	if axis == alpaca.AxisTertiary {
		return nil
	}
	rates := make([]alpaca.AxisRate, len(moveRateSpeeds))
	for i, speed := range moveRateSpeeds {
		rates[i] = alpaca.AxisRate{Minimum: speed, Maximum: speed}
	}
	return rates
}

func (d *Driver) TrackingRates() []alpaca.DriveRate {
	return []alpaca.DriveRate{alpaca.DriveSidereal, alpaca.DriveLunar, alpaca.DriveSolar}
}

// position returns the cached reading, failing if the last refresh failed.
func (d *Driver) position(get func(Status) float64) (float64, error) {
	mount, err := d.connectedMount()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	refreshErr := d.refreshErr
	d.mu.Unlock()
	if refreshErr != nil {
		return 0, alpacaError(refreshErr, mount.State())
	}
	return get(mount.Snapshot()), nil
}

func (d *Driver) RightAscension() (float64, error) {
	return d.position(func(s Status) float64 { return s.RightAscension })
}

func (d *Driver) Declination() (float64, error) {
	return d.position(func(s Status) float64 { return s.Declination })
}

func (d *Driver) Altitude() (float64, error) {
	return d.position(func(s Status) float64 { return s.Altitude })
}

func (d *Driver) Azimuth() (float64, error) {
	return d.position(func(s Status) float64 { return s.Azimuth })
}

func (d *Driver) SideOfPier() (alpaca.PierSide, error) {
	side := alpaca.PierUnknown
	err := d.do(func(m *Mount) error {
		beyond, err := m.SideOfPier()
		if err != nil {
			return err
		}
		side = alpaca.PierEast
		if beyond {
			side = alpaca.PierWest
		}
		return nil
	})
	return side, err
}

func (d *Driver) AtHome() (bool, error) {
	mount, err := d.connectedMount()
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.atHome && mount.Homed(), nil
}

func (d *Driver) AtPark() (bool, error) {
	mount, err := d.connectedMount()
	if err != nil {
		return false, err
	}
	return mount.Snapshot().Parked, nil
}

func (d *Driver) Slewing() (bool, error) {
	mount, err := d.connectedMount()
	if err != nil {
		return false, err
	}
	switch mount.State() {
	case StateSlewing, StateHoming, StateUnparking:
		return true, nil
	}
	return false, nil
}

func (d *Driver) Tracking() (bool, error) {
	mount, err := d.connectedMount()
	if err != nil {
		return false, err
	}
	return mount.Tracking(), nil
}

// trackingKind returns the mount rate for the selected drive rate and
// custom offsets.
func (d *Driver) trackingKind() (TrackingRate, float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.raRate != 0 || d.decRate != 0 {
		return TrackCustom, d.raRate * 15, d.decRate
	}
	switch d.driveRate {
	case alpaca.DriveLunar:
		return TrackLunar, 0, 0
	case alpaca.DriveSolar:
		return TrackSolar, 0, 0
	default:
		return TrackSidereal, 0, 0
	}
}

// applyTracking sends the selected rate if the mount is tracking.
func (d *Driver) applyTracking(m *Mount) error {
	if !m.Tracking() {
		return nil
	}
	kind, ra, dec := d.trackingKind()
	return m.SetTrackingRate(kind, ra, dec)
}

func (d *Driver) SetTracking(on bool) error {
	return d.do(func(m *Mount) error {
		if !on {
			return m.SetTracking(false)
		}
		kind, ra, dec := d.trackingKind()
		return m.SetTrackingRate(kind, ra, dec)
	})
}

func (d *Driver) TrackingRate() (alpaca.DriveRate, error) {
	if _, err := d.connectedMount(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driveRate, nil
}

func (d *Driver) SetTrackingRate(rate alpaca.DriveRate) error {
	switch rate {
	case alpaca.DriveSidereal, alpaca.DriveLunar, alpaca.DriveSolar:
	default:
		return alpaca.Errorf(alpaca.ErrInvalidValue, "unsupported tracking rate %d", rate)
	}
	return d.do(func(m *Mount) error {
		d.mu.Lock()
		d.driveRate = rate
		d.mu.Unlock()
		return d.applyTracking(m)
	})
}

// RightAscensionRate is the RA offset from the selected rate in seconds of
// RA per sidereal second.
func (d *Driver) RightAscensionRate() (float64, error) {
	if _, err := d.connectedMount(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.raRate, nil
}

func (d *Driver) SetRightAscensionRate(rate float64) error {
	return d.do(func(m *Mount) error {
		d.mu.Lock()
		d.raRate = rate
		d.mu.Unlock()
		return d.applyTracking(m)
	})
}

// DeclinationRate is the declination offset in arcseconds per second.
func (d *Driver) DeclinationRate() (float64, error) {
	if _, err := d.connectedMount(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decRate, nil
}

func (d *Driver) SetDeclinationRate(rate float64) error {
	return d.do(func(m *Mount) error {
		d.mu.Lock()
		d.decRate = rate
		d.mu.Unlock()
		return d.applyTracking(m)
	})
}

func (d *Driver) SiteLatitude() (float64, error) {
	var lat float64
	err := d.do(func(m *Mount) error {
		var err error
		_, lat, _, err = m.SiteData()
		return err
	})
	return lat, err
}

func (d *Driver) SetSiteLatitude(lat float64) error {
	if lat < -90 || lat > 90 {
		return alpaca.Errorf(alpaca.ErrInvalidValue, "latitude %f out of range", lat)
	}
	return d.do(func(m *Mount) error {
		return m.SetSiteLatitude(lat)
	})
}

// SiteLongitude is east positive; the mount stores west positive.
func (d *Driver) SiteLongitude() (float64, error) {
	var lon float64
	err := d.do(func(m *Mount) error {
		var err error
		lon, _, _, err = m.SiteData()
		return err
	})
	return -lon, err
}

func (d *Driver) SetSiteLongitude(lon float64) error {
	if lon < -180 || lon > 180 {
		return alpaca.Errorf(alpaca.ErrInvalidValue, "longitude %f out of range", lon)
	}
	return d.do(func(m *Mount) error {
		return m.SetSiteLongitude(-lon)
	})
}

func (d *Driver) UTCDate() (time.Time, error) {
	if _, err := d.connectedMount(); err != nil {
		return time.Time{}, err
	}
	return time.Now().UTC(), nil
}

func (d *Driver) SlewToCoordinatesAsync(ra, dec float64) error {
	return d.do(func(m *Mount) error {
		if !m.Tracking() {
			return fmt.Errorf("%w: tracking is off", ErrInvalidState)
		}
		d.setAtHome(false)
		return m.SlewToCoordinates(ra, dec)
	})
}

func (d *Driver) SyncToCoordinates(ra, dec float64) error {
	return d.do(func(m *Mount) error {
		return m.SyncToCoordinates(ra, dec)
	})
}

func (d *Driver) AbortSlew() error {
	return d.do(func(m *Mount) error {
		if m.State() == StateParked {
			return fmt.Errorf("%w: mount is parked", ErrInvalidState)
		}
		return m.Abort()
	})
}

// MoveAxis starts or stops an open-loop move. Positive rates move the
// primary axis east and the secondary axis north.
func (d *Driver) MoveAxis(axis alpaca.TelescopeAxis, rate float64) error {
	var positive, negative Direction
	switch axis {
	case alpaca.AxisPrimary:
		positive, negative = DirEast, DirWest
	case alpaca.AxisSecondary:
		positive, negative = DirNorth, DirSouth
	default:
		return alpaca.Errorf(alpaca.ErrInvalidValue, "axis %d cannot be moved", axis)
	}

	return d.do(func(m *Mount) error {
		if rate == 0 {
			if err := m.StopAxis(positive); err != nil {
				return err
			}
			return m.StopAxis(negative)
		}

		preset, err := moveRateFor(rate)
		if err != nil {
			return err
		}
		dir, opposite := positive, negative
		if rate < 0 {
			dir, opposite = negative, positive
		}
		if err := m.StopAxis(opposite); err != nil {
			return err
		}
		d.setAtHome(false)
		return m.MoveAxis(dir, preset)
	})
}

func (d *Driver) FindHome() error {
	return d.do(func(m *Mount) error {
		if m.State() == StateParked {
			return fmt.Errorf("%w: mount is parked", ErrInvalidState)
		}
		d.setAtHome(false)
		return m.FindHome()
	})
}

func (d *Driver) Park() error {
	return d.do(func(m *Mount) error {
		d.setAtHome(false)
		return m.Park()
	})
}

func (d *Driver) Unpark() error {
	return d.do(func(m *Mount) error {
		if m.State() != StateParked {
			return nil
		}
		d.setAtHome(false)
		return m.Unpark()
	})
}

// SetPark makes the current position the custom park position and stores it.
func (d *Driver) SetPark() error {
	return d.do(func(m *Mount) error {
		alt, az, err := m.SetPark()
		if err != nil {
			return err
		}
		cfg, err := d.store.GetConfig()
		if err != nil {
			return err
		}
		cfg.ParkIndex = 0
		cfg.ParkAltitude, cfg.ParkAzimuth = alt, az
		return d.store.SetConfig(cfg)
	})
}

func (d *Driver) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := d.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		d.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseTelescopeSetupForm(r)
		if err != nil {
			d.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		d.logger.Infof("Setting mount config: %+v", cfg)
		if err := d.store.SetConfig(cfg); err != nil {
			d.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		d.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Driver) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	data := struct {
		Config
		Dialects      []string
		ParkPositions []ParkPosition
		Connected     bool
		Success       bool
		Error         string
	}{cfg, DialectNames(), ParkPositions, d.Connected(), success, err}

	if err := d.tmpl.ExecuteTemplate(w, "telescope_rst_setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		d.logger.Errorf("Error rendering template: %v", err)
	}
}

func parseTelescopeSetupForm(r *http.Request) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return Config{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := defaultConfig
	cfg.PortName = r.FormValue("port-name")
	cfg.Dialect = r.FormValue("dialect")
	cfg.Simulate = r.FormValue("simulate") == "true"
	cfg.SyncOnConnect = r.FormValue("sync-on-connect") == "true"
	cfg.StopTrackingOnDisconnect = r.FormValue("stop-tracking") == "true"
	cfg.SiteTimeZone = r.FormValue("site-time-zone")
	cfg.GPSPort = r.FormValue("gps-port")

	cfg.Enabled = r.FormValue("mqtt-enabled") == "true"
	cfg.Host = r.FormValue("mqtt-host")
	cfg.Username = r.FormValue("mqtt-username")
	cfg.Password = r.FormValue("mqtt-password")
	cfg.TopicRoot = r.FormValue("mqtt-topic-root")

	var err error
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"park-altitude", &cfg.ParkAltitude},
		{"park-azimuth", &cfg.ParkAzimuth},
		{"site-longitude", &cfg.SiteLongitude},
		{"site-latitude", &cfg.SiteLatitude},
	} {
		if *f.dst, err = strconv.ParseFloat(r.FormValue(f.name), 64); err != nil {
			return cfg, fmt.Errorf("invalid %s: %v", f.name, err)
		}
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"park-index", &cfg.ParkIndex},
		{"gps-baud", &cfg.GPSBaud},
		{"mqtt-interval", &cfg.Interval},
	} {
		if *f.dst, err = strconv.Atoi(r.FormValue(f.name)); err != nil {
			return cfg, fmt.Errorf("invalid %s: %v", f.name, err)
		}
	}

	return cfg, nil
}
