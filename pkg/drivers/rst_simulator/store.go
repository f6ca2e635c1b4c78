package rst_simulator

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "alpaca"
	configKey = "rst_simulator_config"
)

// Config tunes the simulated controller.
type Config struct {
	Firmware       string  `json:"firmware"`
	SlewSeconds    float64 `json:"slew_seconds"`    // duration of every goto
	HomingSeconds  float64 `json:"homing_seconds"`  // duration of every homing
	HomingFaults   int     `json:"homing_faults"`   // homings that stop before the reference
	InjectAsync    bool    `json:"inject_async"`    // interleave GOTO_DONE/HOMING tokens
	MinDeclination float64 `json:"min_declination"` // gotos below are rejected with 'L'
	MinAltitude    float64 `json:"min_altitude"`    // alt/az gotos below are rejected with 'H'
	StartHomed     bool    `json:"start_homed"`
	ParkAltitude   float64 `json:"park_altitude"` // power-on position
	ParkAzimuth    float64 `json:"park_azimuth"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"` // west positive
	SoftLimitEast  float64 `json:"soft_limit_east"`
	SoftLimitWest  float64 `json:"soft_limit_west"`
}

var DefaultConfig = Config{
	Firmware:       "RST-SIM 1.0",
	SlewSeconds:    5,
	HomingSeconds:  8,
	HomingFaults:   0,
	InjectAsync:    true,
	MinDeclination: -40,
	MinAltitude:    -5,
	StartHomed:     true,
	ParkAltitude:   0,
	ParkAzimuth:    180,
	Latitude:       40,
	Longitude:      3.7,
	SoftLimitEast:  30,
	SoftLimitWest:  30,
}

type store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default RST simulator config")
		return s.SetConfig(DefaultConfig)
	}

	return nil
}

// SetConfig saves the simulator configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(cfg)
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the simulator configuration from the database.
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
