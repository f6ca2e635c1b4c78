package rst

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"rstalpaca/pkg/alpaca"
	"rstalpaca/pkg/drivers/rst_simulator"
	"rstalpaca/templates"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()

	tmpl, err := templates.LoadTemplates()
	require.NoError(t, err)

	d, err := NewDriver(0, openTestDB(t), tmpl, testLogger())
	require.NoError(t, err)

	cfg := defaultConfig
	cfg.Simulate = true
	cfg.SiteLongitude = 5.5
	cfg.SiteLatitude = 40.4
	cfg.SiteTimeZone = "UTC"
	require.NoError(t, d.store.SetConfig(cfg))

	d.openPort = func(Config) (Port, error) {
		simCfg := rst_simulator.DefaultConfig
		simCfg.SlewSeconds = 0.1
		simCfg.HomingSeconds = 0.1
		return rst_simulator.New(simCfg, testLogger()), nil
	}
	t.Cleanup(d.Close)
	return d
}

func connectedTestDriver(t *testing.T) *Driver {
	t.Helper()
	d := newTestDriver(t)
	require.NoError(t, d.Connect())
	return d
}

func TestDriverNotConnected(t *testing.T) {
	d := newTestDriver(t)

	assert.False(t, d.Connected())
	assert.Equal(t, StateDisconnected.String(), d.Status().State)
	assert.Implements(t, (*alpaca.StatusStreamer)(nil), d)
	assert.Equal(t, d.Status().State, d.LiveStatus().(Status).State)

	_, err := d.RightAscension()
	assert.ErrorIs(t, err, alpaca.ErrNotConnected)
	assert.ErrorIs(t, d.Park(), alpaca.ErrNotConnected)
	assert.ErrorIs(t, d.Disconnect(), alpaca.ErrNotConnected)

	props := d.GetState()
	require.Len(t, props, 1)
	assert.Equal(t, "TimeStamp", props[0].Name)
}

func TestDriverConnect(t *testing.T) {
	d := connectedTestDriver(t)

	assert.True(t, d.Connected())
	assert.Error(t, d.Connect(), "second connect is refused")

	atPark, err := d.AtPark()
	require.NoError(t, err)
	assert.True(t, atPark)

	tracking, err := d.Tracking()
	require.NoError(t, err)
	assert.False(t, tracking)

	alt, err := d.Altitude()
	require.NoError(t, err)
	assert.InDelta(t, 0, alt, 0.1)

	az, err := d.Azimuth()
	require.NoError(t, err)
	assert.InDelta(t, 180, az, 0.1)

	names := make([]string, 0)
	for _, p := range d.GetState() {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "AtPark")
	assert.Contains(t, names, "RightAscension")
}

func TestDriverSiteSyncedOnConnect(t *testing.T) {
	d := connectedTestDriver(t)

	lon, err := d.SiteLongitude()
	require.NoError(t, err)
	assert.InDelta(t, -5.5, lon, 1e-6)

	lat, err := d.SiteLatitude()
	require.NoError(t, err)
	assert.InDelta(t, 40.4, lat, 1e-6)

	require.NoError(t, d.SetSiteLatitude(-33.5))
	lat, err = d.SiteLatitude()
	require.NoError(t, err)
	assert.InDelta(t, -33.5, lat, 1e-6)
	lon, err = d.SiteLongitude()
	require.NoError(t, err)
	assert.InDelta(t, -5.5, lon, 1e-6, "longitude is left alone")

	require.NoError(t, d.SetSiteLongitude(12.25))
	lon, err = d.SiteLongitude()
	require.NoError(t, err)
	assert.InDelta(t, 12.25, lon, 1e-6)

	assert.ErrorIs(t, d.SetSiteLongitude(200), alpaca.ErrInvalidValue)
}

func TestDriverParkedRefusals(t *testing.T) {
	d := connectedTestDriver(t)

	assert.ErrorIs(t, d.SlewToCoordinatesAsync(2.5, 30), alpaca.ErrInvalidWhileParked)
	assert.ErrorIs(t, d.AbortSlew(), alpaca.ErrInvalidWhileParked)
	assert.ErrorIs(t, d.FindHome(), alpaca.ErrInvalidWhileParked)
	assert.NoError(t, d.Park(), "park while parked is a no-op")
}

func TestDriverInvalidValues(t *testing.T) {
	d := connectedTestDriver(t)

	assert.ErrorIs(t, d.MoveAxis(alpaca.AxisTertiary, 1), alpaca.ErrInvalidValue)
	assert.ErrorIs(t, d.SetTrackingRate(alpaca.DriveKing), alpaca.ErrInvalidValue)
	assert.ErrorIs(t, d.MoveAxis(alpaca.AxisPrimary, 10), alpaca.ErrInvalidValue)
}

func TestDriverUnpark(t *testing.T) {
	d := connectedTestDriver(t)

	require.NoError(t, d.Unpark())

	assert.Eventually(t, func() bool {
		tracking, err := d.Tracking()
		return err == nil && tracking
	}, 5*time.Second, 50*time.Millisecond)

	atPark, err := d.AtPark()
	require.NoError(t, err)
	assert.False(t, atPark)

	slewing, err := d.Slewing()
	require.NoError(t, err)
	assert.False(t, slewing)

	require.NoError(t, d.SetTrackingRate(alpaca.DriveLunar))
	rate, err := d.TrackingRate()
	require.NoError(t, err)
	assert.Equal(t, alpaca.DriveLunar, rate)
	assert.Equal(t, "lunar", d.Status().TrackingRate)

	require.NoError(t, d.SetDeclinationRate(1.5))
	decRate, err := d.DeclinationRate()
	require.NoError(t, err)
	assert.Equal(t, 1.5, decRate)
	assert.Equal(t, "custom", d.Status().TrackingRate)

	require.NoError(t, d.MoveAxis(alpaca.AxisPrimary, 0.5))
	require.NoError(t, d.MoveAxis(alpaca.AxisPrimary, 0))
}

func TestDriverDisconnect(t *testing.T) {
	d := connectedTestDriver(t)

	require.NoError(t, d.Disconnect())
	assert.False(t, d.Connected())

	_, err := d.Tracking()
	assert.ErrorIs(t, err, alpaca.ErrNotConnected)

	require.NoError(t, d.Connect(), "driver reconnects after a disconnect")
}

func TestMoveRateFor(t *testing.T) {
	tests := []struct {
		speed       float64
		expected    MoveRate
		expectError bool
	}{
		{0.002, RateGuide, false},
		{-0.002, RateGuide, false},
		{0.03, RateCentering, false},
		{0.4, RateFind, false},
		{3, RateMax, false},
		{2, RateMax, false},
		{3.5, 0, true},
	}

	for _, tc := range tests {
		rate, err := moveRateFor(tc.speed)
		if tc.expectError {
			assert.ErrorIs(t, err, ErrInvalidValue)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.expected, rate, "speed %f", tc.speed)
	}
}

func TestDriverHandleSetup(t *testing.T) {
	d := newTestDriver(t)

	rec := httptest.NewRecorder()
	d.HandleSetup(rec, httptest.NewRequest(http.MethodGet, "/setup/v1/telescope/0/setup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="port-name"`)

	form := url.Values{
		"port-name":       {"/dev/ttyACM0"},
		"dialect":         {"rst-ext"},
		"sync-on-connect": {"true"},
		"park-index":      {"2"},
		"park-altitude":   {"0"},
		"park-azimuth":    {"180"},
		"site-longitude":  {"-2.1"},
		"site-latitude":   {"51.5"},
		"site-time-zone":  {"Europe/London"},
		"gps-baud":        {"9600"},
		"mqtt-host":       {"tcp://broker:1883"},
		"mqtt-topic-root": {"observatory/rst"},
		"mqtt-interval":   {"10"},
	}

	tests := []struct {
		name   string
		modify func(url.Values)
		saved  bool
	}{
		{"Valid form", func(url.Values) {}, true},
		{"Bad number", func(v url.Values) { v.Set("site-latitude", "north") }, false},
		{"Unknown dialect", func(v url.Values) { v.Set("dialect", "lx200") }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := url.Values{}
			for k, vals := range form {
				v[k] = append([]string(nil), vals...)
			}
			tc.modify(v)

			req := httptest.NewRequest(http.MethodPost, "/setup/v1/telescope/0/setup", strings.NewReader(v.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			d.HandleSetup(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)

			cfg, err := d.store.GetConfig()
			require.NoError(t, err)
			if tc.saved {
				assert.Equal(t, "/dev/ttyACM0", cfg.PortName)
				assert.Equal(t, "rst-ext", cfg.Dialect)
				assert.Equal(t, 2, cfg.ParkIndex)
				assert.Equal(t, 51.5, cfg.SiteLatitude)
				assert.Equal(t, "observatory/rst", cfg.TopicRoot)
				assert.False(t, cfg.Simulate)
			} else {
				assert.Equal(t, "/dev/ttyACM0", cfg.PortName, "invalid form leaves the stored config alone")
			}
		})
	}

	rec = httptest.NewRecorder()
	d.HandleSetup(rec, httptest.NewRequest(http.MethodDelete, "/setup/v1/telescope/0/setup", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
