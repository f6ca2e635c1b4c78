package rst

import (
	"encoding/json"
	"fmt"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket      = "alpaca"
	configKey   = "rst_config"
	uniqueIDKey = "rst_unique_id"
)

type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
	Interval  int    `json:"interval"` // telemetry period, seconds
}

// ParkPosition is one of the selectable park positions.
type ParkPosition struct {
	Name     string
	Altitude float64
	Azimuth  float64
}

// ParkPositions are indexed by Config.ParkIndex. Index 0 uses the custom
// position stored in the configuration.
var ParkPositions = []ParkPosition{
	{Name: "Custom"},
	{Name: "South horizon", Altitude: 0, Azimuth: 180},
	{Name: "North horizon", Altitude: 0, Azimuth: 0},
	{Name: "East horizon", Altitude: 0, Azimuth: 90},
	{Name: "West horizon", Altitude: 0, Azimuth: 270},
}

type Config struct {
	MQTTConfig `json:"mqtt"`

	PortName                 string  `json:"port_name"`
	Dialect                  string  `json:"dialect"`
	Simulate                 bool    `json:"simulate"`
	SyncOnConnect            bool    `json:"sync_on_connect"`
	StopTrackingOnDisconnect bool    `json:"stop_tracking_on_disconnect"`
	ParkIndex                int     `json:"park_index"`
	ParkAltitude             float64 `json:"park_altitude"` // custom park position
	ParkAzimuth              float64 `json:"park_azimuth"`
	SiteLongitude            float64 `json:"site_longitude"` // degrees, west positive
	SiteLatitude             float64 `json:"site_latitude"`
	SiteTimeZone             string  `json:"site_time_zone"` // IANA name, empty for system zone
	GPSPort                  string  `json:"gps_port"`       // NMEA receiver, empty to disable
	GPSBaud                  int     `json:"gps_baud"`
}

var defaultConfig = Config{
	MQTTConfig: MQTTConfig{
		Enabled:   false,
		Host:      "tcp://localhost:1883",
		TopicRoot: "rst",
		Interval:  5,
	},
	PortName:      "/dev/ttyUSB0",
	Dialect:       DefaultDialect,
	SyncOnConnect: true,
	ParkIndex:     1,
	ParkAltitude:  0,
	ParkAzimuth:   180,
	SiteLongitude: 3.7,
	SiteLatitude:  40.4,
	GPSBaud:       4800,
}

// Park returns the selected park altitude and azimuth.
func (c Config) Park() (float64, float64) {
	if c.ParkIndex <= 0 || c.ParkIndex >= len(ParkPositions) {
		return c.ParkAltitude, c.ParkAzimuth
	}
	p := ParkPositions[c.ParkIndex]
	return p.Altitude, p.Azimuth
}

func (c Config) mountConfig() MountConfig {
	mc := DefaultMountConfig
	mc.SyncOnConnect = c.SyncOnConnect
	mc.StopTrackingOnDisconnect = c.StopTrackingOnDisconnect
	mc.ParkAltitude, mc.ParkAzimuth = c.Park()
	return mc
}

func (c Config) validate() error {
	if !c.Simulate && c.PortName == "" {
		return fmt.Errorf("serial port cannot be empty")
	}
	if _, err := LookupDialect(c.Dialect); err != nil {
		return err
	}
	if c.ParkIndex < 0 || c.ParkIndex >= len(ParkPositions) {
		return fmt.Errorf("invalid park position %d", c.ParkIndex)
	}
	if c.ParkAltitude < -90 || c.ParkAltitude > 90 || c.ParkAzimuth < 0 || c.ParkAzimuth >= 360 {
		return fmt.Errorf("invalid park position alt %f az %f", c.ParkAltitude, c.ParkAzimuth)
	}
	if c.SiteLatitude < -90 || c.SiteLatitude > 90 || c.SiteLongitude < -180 || c.SiteLongitude > 180 {
		return fmt.Errorf("invalid site position %f, %f", c.SiteLongitude, c.SiteLatitude)
	}
	if c.GPSPort != "" && c.GPSBaud <= 0 {
		return fmt.Errorf("invalid GPS baud rate %d", c.GPSBaud)
	}
	if c.MQTTConfig.Enabled && c.MQTTConfig.Host == "" {
		return fmt.Errorf("MQTT host cannot be empty")
	}
	return nil
}

type store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

// setDefaults sets the default configuration values if they are not already set in the database.
func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default RST config")
		return s.SetConfig(defaultConfig)
	}

	return nil
}

// SetConfig saves the mount configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(cfg)
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the mount configuration from the database.
func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key %s not found", configKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}

// UniqueID returns the identifier reported to Alpaca clients, creating it the
// first time it is requested.
func (s *store) UniqueID() (string, error) {
	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		if value := b.Get([]byte(uniqueIDKey)); value != nil {
			id = string(value)
			return nil
		}
		id = uuid.NewV4().String()
		return b.Put([]byte(uniqueIDKey), []byte(id))
	})

	return id, err
}
