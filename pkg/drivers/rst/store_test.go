package rst

import (
	"path/filepath"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "alpaca.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreDefaults(t *testing.T) {
	st, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	cfg, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, cfg)
}

func TestStoreKeepsExistingConfig(t *testing.T) {
	db := openTestDB(t)
	st, err := NewStore(db)
	require.NoError(t, err)

	cfg := defaultConfig
	cfg.PortName = "/dev/ttyACM1"
	cfg.Dialect = "rst-legacy"
	require.NoError(t, st.SetConfig(cfg))

	st, err = NewStore(db)
	require.NoError(t, err)
	got, err := st.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", got.PortName)
	assert.Equal(t, "rst-legacy", got.Dialect)
}

func TestStoreValidation(t *testing.T) {
	st, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"Empty port", func(c *Config) { c.PortName = "" }},
		{"Unknown dialect", func(c *Config) { c.Dialect = "lx200" }},
		{"Park index", func(c *Config) { c.ParkIndex = len(ParkPositions) }},
		{"Park altitude", func(c *Config) { c.ParkAltitude = 91 }},
		{"Park azimuth", func(c *Config) { c.ParkAzimuth = 360 }},
		{"Latitude", func(c *Config) { c.SiteLatitude = -91 }},
		{"GPS baud", func(c *Config) { c.GPSPort = "/dev/ttyUSB1"; c.GPSBaud = 0 }},
		{"MQTT host", func(c *Config) { c.MQTTConfig.Enabled = true; c.MQTTConfig.Host = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig
			tc.modify(&cfg)
			assert.Error(t, st.SetConfig(cfg))
		})
	}

	cfg := defaultConfig
	cfg.PortName = ""
	cfg.Simulate = true
	assert.NoError(t, st.SetConfig(cfg), "simulated controller needs no port")
}

func TestConfigPark(t *testing.T) {
	cfg := defaultConfig
	cfg.ParkIndex = 2
	alt, az := cfg.Park()
	assert.Equal(t, 0.0, alt)
	assert.Equal(t, 0.0, az)

	cfg.ParkIndex = 0
	cfg.ParkAltitude, cfg.ParkAzimuth = 12, 200
	mc := cfg.mountConfig()
	assert.Equal(t, 12.0, mc.ParkAltitude)
	assert.Equal(t, 200.0, mc.ParkAzimuth)
	assert.Equal(t, DefaultMountConfig.ParkTolerance, mc.ParkTolerance)
}

func TestStoreUniqueID(t *testing.T) {
	db := openTestDB(t)
	st, err := NewStore(db)
	require.NoError(t, err)

	id, err := st.UniqueID()
	require.NoError(t, err)
	_, err = uuid.FromString(id)
	require.NoError(t, err)

	st, err = NewStore(db)
	require.NoError(t, err)
	again, err := st.UniqueID()
	require.NoError(t, err)
	assert.Equal(t, id, again, "identifier survives a restart")

	other, err := NewStore(openTestDB(t))
	require.NoError(t, err)
	otherID, err := other.UniqueID()
	require.NoError(t, err)
	assert.NotEqual(t, id, otherID)
}
