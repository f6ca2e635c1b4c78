package rst

import (
	"errors"
	"rstalpaca/pkg/drivers/rst_simulator"
	"rstalpaca/pkg/site"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMountConfig() MountConfig {
	cfg := DefaultMountConfig
	cfg.SyncOnConnect = false
	return cfg
}

func newTestMount(t *testing.T, cfg MountConfig, provider site.Provider) (*Mount, *testClock) {
	t.Helper()
	clk := newTestClock()
	m := NewMount(cfg, mustDialect(t, "rst"), provider, testLogger())
	m.now = clk.Now
	m.sleep = func(time.Duration) {}
	return m, clk
}

// newSimMount connects a mount to a simulator that shares its clock.
func newSimMount(t *testing.T, simCfg rst_simulator.Config) (*Mount, *testClock) {
	t.Helper()
	m, clk := newTestMount(t, testMountConfig(), nil)
	sim := rst_simulator.New(simCfg, testLogger())
	sim.SetClock(clk.Now)
	require.NoError(t, m.Connect(sim))
	t.Cleanup(func() { m.Disconnect() })
	return m, clk
}

// idleSimConfig starts homed, away from the park position and not tracking.
func idleSimConfig() rst_simulator.Config {
	cfg := rst_simulator.DefaultConfig
	cfg.ParkAltitude = 30
	cfg.ParkAzimuth = 90
	return cfg
}

func unpark(t *testing.T, m *Mount, clk *testClock) {
	t.Helper()
	require.NoError(t, m.Unpark())
	clk.Advance(10 * time.Second)
	done, err := m.IsUnparkComplete()
	require.NoError(t, err)
	require.True(t, done)
}

func TestMountConnectParked(t *testing.T) {
	m, _ := newSimMount(t, rst_simulator.DefaultConfig)

	assert.Equal(t, StateParked, m.State())
	assert.True(t, m.Homed())
	assert.False(t, m.Tracking())

	v, err := m.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "RST-SIM 1.0", v)
}

func TestMountConnectHandshakeFails(t *testing.T) {
	p := newFakePort()
	m, _ := newTestMount(t, testMountConfig(), nil)

	err := m.Connect(p)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, p.closed)
}

func TestMountNotConnected(t *testing.T) {
	m, _ := newTestMount(t, testMountConfig(), nil)

	_, _, err := m.EquatorialPosition()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, m.SlewToCoordinates(1, 1), ErrNotConnected)
	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)
	assert.NoError(t, m.Abort())
}

func TestMountUnparkAndSlew(t *testing.T) {
	m, clk := newSimMount(t, rst_simulator.DefaultConfig)

	require.NoError(t, m.Unpark())
	assert.Equal(t, StateUnparking, m.State())

	done, err := m.IsUnparkComplete()
	require.NoError(t, err)
	assert.False(t, done)

	clk.Advance(10 * time.Second)
	done, err = m.IsUnparkComplete()
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, StateTracking, m.State())
	assert.True(t, m.Tracking())

	require.NoError(t, m.SlewToCoordinates(2.5, 45.258333))
	assert.Equal(t, StateSlewing, m.State())

	done, err = m.IsSlewComplete()
	require.NoError(t, err)
	assert.False(t, done, "first poll falls inside the settle delay")

	clk.Advance(3 * time.Second)
	done, err = m.IsSlewComplete()
	require.NoError(t, err)
	assert.False(t, done)

	clk.Advance(5 * time.Second)
	done, err = m.IsSlewComplete()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StateTracking, m.State())

	ra, dec, err := m.EquatorialPosition()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, ra, 1e-6)
	assert.InDelta(t, 45.2583, dec, 1e-4)
}

func TestMountSlewRejected(t *testing.T) {
	m, clk := newSimMount(t, rst_simulator.DefaultConfig)
	unpark(t, m, clk)

	err := m.SlewToCoordinates(6, -60)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Equal(t, StateTracking, m.State(), "a rejected goto does not start a slew")
}

func TestMountSlewInvalid(t *testing.T) {
	m, clk := newSimMount(t, rst_simulator.DefaultConfig)
	unpark(t, m, clk)

	assert.ErrorIs(t, m.SlewToCoordinates(24, 0), ErrInvalidValue)
	assert.ErrorIs(t, m.SlewToCoordinates(1, 91), ErrInvalidValue)
}

func TestMountParkedRefusesMotion(t *testing.T) {
	m, _ := newSimMount(t, rst_simulator.DefaultConfig)
	require.Equal(t, StateParked, m.State())

	assert.ErrorIs(t, m.SlewToCoordinates(2, 10), ErrInvalidState)
	assert.ErrorIs(t, m.MoveAxis(DirEast, RateFind), ErrInvalidState)
	assert.ErrorIs(t, m.SetTrackingRate(TrackSidereal, 0, 0), ErrInvalidState)
	assert.NoError(t, m.Park(), "parking a parked mount is a no-op")
}

func TestMountPark(t *testing.T) {
	m, clk := newSimMount(t, idleSimConfig())
	require.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Park())
	assert.Equal(t, StateSlewing, m.State())

	clk.Advance(6 * time.Second)
	done, err := m.IsParkComplete()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StateParked, m.State())

	parked, err := m.IsParked()
	require.NoError(t, err)
	assert.True(t, parked)
	assert.True(t, m.Snapshot().Parked)
}

func TestMountSetPark(t *testing.T) {
	m, _ := newSimMount(t, idleSimConfig())

	alt, az, err := m.SetPark()
	require.NoError(t, err)
	assert.InDelta(t, 30, alt, 1e-3)
	assert.InDelta(t, 90, az, 1e-3)

	parked, err := m.IsParked()
	require.NoError(t, err)
	assert.True(t, parked)
	assert.Equal(t, StateParked, m.State())
}

func TestMountAbortTwice(t *testing.T) {
	m, clk := newSimMount(t, rst_simulator.DefaultConfig)
	unpark(t, m, clk)

	require.NoError(t, m.SlewToCoordinates(3, 20))
	require.Equal(t, StateSlewing, m.State())

	require.NoError(t, m.Abort())
	assert.Equal(t, StateTracking, m.State())
	require.NoError(t, m.Abort())
	assert.Equal(t, StateTracking, m.State())
}

func TestMountAbortWhileParking(t *testing.T) {
	m, _ := newSimMount(t, idleSimConfig())

	require.NoError(t, m.Park())
	require.NoError(t, m.Abort())
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.Snapshot().Parked)
}

func TestMountHomingRetry(t *testing.T) {
	cfg := idleSimConfig()
	cfg.HomingFaults = 1
	m, clk := newSimMount(t, cfg)

	require.NoError(t, m.FindHome())
	assert.Equal(t, StateHoming, m.State())

	clk.Advance(10 * time.Second)
	done, err := m.IsHomingComplete()
	require.NoError(t, err)
	assert.False(t, done, "failed homing is retried")
	assert.Equal(t, StateHoming, m.State())

	clk.Advance(10 * time.Second)
	done, err = m.IsHomingComplete()
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, m.Homed())
	assert.Equal(t, StateIdle, m.State())
}

func TestMountHomingFailure(t *testing.T) {
	cfg := idleSimConfig()
	cfg.HomingFaults = 2
	m, clk := newSimMount(t, cfg)

	require.NoError(t, m.FindHome())
	clk.Advance(10 * time.Second)
	_, err := m.IsHomingComplete()
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	done, err := m.IsHomingComplete()
	assert.False(t, done)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.False(t, m.Homed())
	assert.Equal(t, StateIdle, m.State(), "state before homing is restored")
}

func TestMountTrackingRates(t *testing.T) {
	m, clk := newSimMount(t, rst_simulator.DefaultConfig)
	unpark(t, m, clk)

	require.NoError(t, m.SetTrackingRate(TrackCustom, lunarOffset+0.05, 0))
	kind, ra, _, err := m.TrackingRate()
	require.NoError(t, err)
	assert.Equal(t, TrackLunar, kind)
	assert.InDelta(t, lunarOffset+0.05, ra, 1e-9)

	require.NoError(t, m.SetTrackingRate(TrackCustom, 2.0, 1.5))
	kind, ra, dec, err := m.TrackingRate()
	require.NoError(t, err)
	assert.Equal(t, TrackCustom, kind)
	assert.Equal(t, 2.0, ra)
	assert.Equal(t, 1.5, dec)

	require.NoError(t, m.SetTrackingRate(TrackSolar, 0, 0))
	kind, ra, _, err = m.TrackingRate()
	require.NoError(t, err)
	assert.Equal(t, TrackSolar, kind)
	assert.InDelta(t, solarOffset, ra, 1e-9)

	require.NoError(t, m.SetTracking(false))
	kind, _, _, err = m.TrackingRate()
	require.NoError(t, err)
	assert.Equal(t, TrackStopped, kind)
	assert.Equal(t, StateIdle, m.State())
}

func TestClassifyRate(t *testing.T) {
	tests := []struct {
		name     string
		ra, dec  float64
		expected TrackingRate
	}{
		{"Zero is sidereal", 0, 0, TrackSidereal},
		{"Solar", solarOffset, 0, TrackSolar},
		{"Near solar", solarOffset + 0.01, 0, TrackSolar},
		{"Lunar", lunarOffset, 0, TrackLunar},
		{"Near lunar", lunarOffset - 0.09, 0, TrackLunar},
		{"Declination only", 0, 0.5, TrackCustom},
		{"Far from any family", 3, 0, TrackCustom},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyRate(tc.ra, tc.dec))
		})
	}
}

func TestMountSyncVerbs(t *testing.T) {
	p := newFakePort()
	connectScript(p, true, "+30*00'00", "090*00'00.0")
	p.on(":Ck03.000+20.000#", "1#")
	p.on(":CN03.000+20.000#", "1#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))
	require.Equal(t, StateTracking, m.State())

	require.NoError(t, m.SyncToCoordinates(3, 20))
	require.NoError(t, m.SyncToCoordinates(3, 20))

	cmds := p.commands()
	assert.True(t, hasCommand(cmds, ":Ck"))
	assert.True(t, hasCommand(cmds, ":CN"))

	ra, dec := m.Snapshot().RightAscension, m.Snapshot().Declination
	assert.Equal(t, 3.0, ra)
	assert.Equal(t, 20.0, dec)
}

func TestMountPositionCache(t *testing.T) {
	p := newFakePort()
	connectScript(p, true, "+30*00'00", "090*00'00.0")
	p.on(":GR#", "RA05:00:00.0#", "RA05:00:00.0#", "bad#")
	p.on(":GD#", "DE+10*00'00#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))

	ra, dec, err := m.EquatorialPosition()
	require.NoError(t, err)
	assert.Equal(t, 5.0, ra)
	assert.Equal(t, 10.0, dec)

	ra, _, err = m.EquatorialPosition()
	require.NoError(t, err)
	assert.Equal(t, 5.0, ra)

	// First failure is absorbed by the cache.
	ra, dec, err = m.EquatorialPosition()
	require.NoError(t, err)
	assert.Equal(t, 5.0, ra)
	assert.Equal(t, 10.0, dec)

	// A second consecutive failure is reported.
	_, _, err = m.EquatorialPosition()
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestMountPositionWithoutCache(t *testing.T) {
	p := newFakePort()
	connectScript(p, true, "+30*00'00", "090*00'00.0")
	p.on(":GR#", "bad#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))

	_, _, err := m.EquatorialPosition()
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestMountPartialSiteUpdate(t *testing.T) {
	p := newFakePort()
	connectScript(p, false, "+30*00'00", "090*00'00.0")
	p.on(":Sg+03*42'00#", "1#")
	p.on(":St+40*24'00#", "0#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))

	err := m.SetSiteData(3.7, 40.4, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialSiteUpdate)
	assert.ErrorIs(t, err, ErrCommandRejected)

	var siteErr *SiteUpdateError
	require.True(t, errors.As(err, &siteErr))
	assert.Equal(t, []string{"longitude"}, siteErr.Applied)
	assert.Equal(t, "latitude", siteErr.Failed)
	assert.False(t, hasCommand(p.commands(), ":SG"), "timezone is not written after a failure")
}

func TestMountSiteUpdateFirstStepFails(t *testing.T) {
	p := newFakePort()
	connectScript(p, false, "+30*00'00", "090*00'00.0")
	p.on(":Sg+03*42'00#", "0#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))

	err := m.SetSiteData(3.7, 40.4, 1)
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.NotErrorIs(t, err, ErrPartialSiteUpdate)

	assert.ErrorIs(t, m.SetSiteData(3.7, 95, 1), ErrInvalidValue)
}

func TestMountSyncOnConnect(t *testing.T) {
	provider, err := site.NewStaticProvider(3.7, 40.4, "UTC")
	require.NoError(t, err)

	cfg := DefaultMountConfig
	m, clk := newTestMount(t, cfg, provider)
	sim := rst_simulator.New(rst_simulator.DefaultConfig, testLogger())
	sim.SetClock(clk.Now)
	require.NoError(t, m.Connect(sim))
	defer m.Disconnect()

	lon, lat, tz, err := m.SiteData()
	require.NoError(t, err)
	assert.InDelta(t, 3.7, lon, 1e-6)
	assert.InDelta(t, 40.4, lat, 1e-6)
	assert.Equal(t, 0.0, tz)
}

func TestMountDiagnostics(t *testing.T) {
	m, _ := newSimMount(t, rst_simulator.DefaultConfig)

	east, west, err := m.Limits()
	require.NoError(t, err)
	assert.Equal(t, 2.0, east)
	assert.Equal(t, 2.0, west)

	v, err := m.InputVoltage()
	require.NoError(t, err)
	assert.Equal(t, 12.4, v)

	_, err = m.SideOfPier()
	assert.NoError(t, err)
}

func TestMountDisconnect(t *testing.T) {
	cfg := testMountConfig()
	cfg.StopTrackingOnDisconnect = true

	p := newFakePort()
	connectScript(p, true, "+30*00'00", "090*00'00.0")
	m, _ := newTestMount(t, cfg, nil)
	require.NoError(t, m.Connect(p))

	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Contains(t, p.commands(), ":CtL#")
	assert.True(t, p.closed)
}

func TestMountParkTargetRejected(t *testing.T) {
	p := newFakePort()
	connectScript(p, true, "+30*00'00", "090*00'00.0")
	p.on(":Sa+00*00:00.0#", "0#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))
	require.Equal(t, StateTracking, m.State())

	err := m.Park()
	assert.ErrorIs(t, err, ErrCommandRejected)
	assert.Equal(t, StateIdle, m.State(), "tracking was switched off before the failure")
	assert.False(t, m.Tracking())
	assert.Equal(t, TrackStopped.String(), m.Snapshot().TrackingRate)
	assert.True(t, hasCommand(p.commands(), ":CtL"))
	assert.False(t, hasCommand(p.commands(), ":MA"))
}

func TestMountSetSingleSiteField(t *testing.T) {
	p := newFakePort()
	connectScript(p, false, "+30*00'00", "090*00'00.0")
	p.on(":St-33*30'00#", "1#")
	p.on(":Sg+05*30'00#", "1#")

	m, _ := newTestMount(t, testMountConfig(), nil)
	require.NoError(t, m.Connect(p))
	before := len(p.commands())

	require.NoError(t, m.SetSiteLatitude(-33.5))
	require.NoError(t, m.SetSiteLongitude(5.5))
	assert.Equal(t, []string{":St-33*30'00#", ":Sg+05*30'00#"}, p.commands()[before:])

	assert.ErrorIs(t, m.SetSiteLatitude(91), ErrInvalidValue)
	assert.ErrorIs(t, m.SetSiteLongitude(-181), ErrInvalidValue)
}

func TestMountSyncSiteClockFails(t *testing.T) {
	provider, err := site.NewStaticProvider(3.7, 40.4, "UTC")
	require.NoError(t, err)

	p := newFakePort()
	connectScript(p, false, "+30*00'00", "090*00'00.0")
	p.on(":Sg+03*42'00#", "1#")
	p.on(":St+40*24'00#", "1#")
	p.on(":SG+00#", "1#")

	m, _ := newTestMount(t, testMountConfig(), provider)
	require.NoError(t, m.Connect(p))

	err = m.SyncSite()
	assert.ErrorIs(t, err, ErrPartialSiteUpdate)
	assert.ErrorIs(t, err, ErrTimeout)

	var siteErr *SiteUpdateError
	require.True(t, errors.As(err, &siteErr))
	assert.Equal(t, []string{"longitude", "latitude", "timezone"}, siteErr.Applied)
	assert.Equal(t, "time", siteErr.Failed)
	assert.False(t, hasCommand(p.commands(), ":SC"), "date is not written after a failure")
}
