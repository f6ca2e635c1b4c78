package alpaca

import (
	"encoding/json"
	"net/http"
	"strings"
)

type DeviceType int

const (
	DeviceTypeTelescope DeviceType = iota
	DeviceTypeDome
	DeviceTypeFocuser
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeTelescope:
		return "Telescope"
	case DeviceTypeDome:
		return "Dome"
	case DeviceTypeFocuser:
		return "Focuser"
	default:
		return "Unknown"
	}
}

func (t DeviceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Path is the device type as it appears in API URLs.
func (t DeviceType) Path() string {
	return strings.ToLower(t.String())
}

type DeviceInfo struct {
	Name        string     `json:"DeviceName"`
	Description string     `json:"-"`
	Type        DeviceType `json:"DeviceType"`
	Number      int        `json:"DeviceNumber"`
	UniqueID    string     `json:"UniqueID"`
}

type DriverInfo struct {
	Name             string
	Version          string
	InterfaceVersion int
}

type StateProperty struct {
	Name  string
	Value any
}

type Device interface {
	DeviceInfo() DeviceInfo
	DriverInfo() DriverInfo
	GetState() []StateProperty

	Connected() bool
	Connecting() bool
	Connect() error
	Disconnect() error
}

// SetupHandler is implemented by devices with a setup page.
type SetupHandler interface {
	HandleSetup(w http.ResponseWriter, r *http.Request)
}
