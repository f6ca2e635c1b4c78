// Documentation: https://ascom-standards.org/api/?urls.primaryName=ASCOM+Alpaca+Management+API

package alpaca

import (
	"fmt"
	"html/template"
	"net/http"
	"rstalpaca/pkg/monitor"
	"time"

	log "github.com/sirupsen/logrus"
)

// monitorInterval is how often a device status stream pushes a snapshot.
const monitorInterval = time.Second

type ServerDescription struct {
	Name                string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// StatusStreamer is implemented by devices that publish a live status
// snapshot. The server streams it at /monitor/v1/<type>/<number>.
type StatusStreamer interface {
	LiveStatus() any
}

// Server is an Alpaca management server that provides information
// about the server and the devices it manages.
type Server struct {
	description ServerDescription
	devices     []Device

	db     *Store
	tmpl   *template.Template
	logger log.FieldLogger
}

// NewServer creates a new Server instance.
func NewServer(description ServerDescription, devices []Device, db *Store, tmpl *template.Template, logger log.FieldLogger) *Server {
	return &Server{
		description: description,
		devices:     devices,
		db:          db,
		tmpl:        tmpl,
		logger:      logger.WithField("component", "server"),
	}
}

type DeviceHTTPHandler interface {
	RegisterRoutes(mux *http.ServeMux)
}

// AddRoutes builds the management, setup, device API and status stream
// routes.
func (s *Server) AddRoutes() *http.ServeMux {
	r := http.NewServeMux()

	r.Handle("GET /management/apiversions", handleMgm(s.handleAPIVersions))
	r.Handle("GET /management/v1/description", handleMgm(s.handleDescription))
	r.Handle("GET /management/v1/configureddevices", handleMgm(s.handleConfiguredDevices))
	r.HandleFunc("/setup", s.handleSetup)
	r.Handle("GET /{$}", http.RedirectHandler("/setup", http.StatusFound))

	for _, dev := range s.devices {
		s.mountDevice(r, dev)
	}
	return r
}

// devicePath is the "<type>/<number>" segment shared by the API, setup and
// monitor routes of a device.
func devicePath(info DeviceInfo) string {
	return fmt.Sprintf("%s/%d", info.Type.Path(), info.Number)
}

func (s *Server) deviceHandler(dev Device) DeviceHTTPHandler {
	if t, ok := dev.(Telescope); ok {
		return NewTelescopeHandler(t)
	}
	s.logger.Warnf("No specific handler for device type %T", dev)
	return NewDeviceHandler(dev)
}

func (s *Server) mountDevice(r *http.ServeMux, dev Device) {
	info := dev.DeviceInfo()
	path := devicePath(info)
	logger := s.logger.WithField("device", path)

	api := http.NewServeMux()
	s.deviceHandler(dev).RegisterRoutes(api)
	prefix := "/api/v1/" + path
	r.Handle(prefix+"/", http.StripPrefix(prefix, api))

	if setup, ok := dev.(SetupHandler); ok {
		r.HandleFunc("/setup/v1/"+path+"/setup", setup.HandleSetup)
	}
	if stream, ok := dev.(StatusStreamer); ok {
		r.Handle("GET /monitor/v1/"+path, monitor.NewHandler(stream.LiveStatus, monitorInterval, logger))
	}

	logger.Infof("Serving %s, unique id %s", info.Name, info.UniqueID)
}

func (s *Server) handleAPIVersions(r *http.Request) (any, error) {
	return []int{1}, nil
}

// handleDescription reports the configured server name and location over
// the built-in description.
func (s *Server) handleDescription(r *http.Request) (any, error) {
	desc := s.description
	cfg, err := s.db.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get server config: %v", err)
	}
	desc.Name = cfg.ServerName
	if cfg.Location != "" {
		desc.Location = cfg.Location
	}
	return desc, nil
}

func (s *Server) handleConfiguredDevices(r *http.Request) (any, error) {
	infos := make([]DeviceInfo, 0, len(s.devices))
	for _, dev := range s.devices {
		infos = append(infos, dev.DeviceInfo())
	}
	return infos, nil
}

// handleSetup serves the server setup page.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.db.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err == nil {
			err = s.db.SetConfig(cfg)
		}
		if err != nil {
			s.renderSetupForm(w, cfg, false, err.Error())
			return
		}
		s.logger.Infof("Server config updated: %+v", cfg)
		s.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// setupDevice is one row of the device list on the setup page.
type setupDevice struct {
	DeviceInfo
	Setup   bool
	Monitor bool
}

func (s *Server) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	data := struct {
		Config
		Devices []setupDevice
		Success bool
		Error   string
	}{Config: cfg, Success: success, Error: err}

	for _, dev := range s.devices {
		_, setup := dev.(SetupHandler)
		_, stream := dev.(StatusStreamer)
		data.Devices = append(data.Devices, setupDevice{dev.DeviceInfo(), setup, stream})
	}

	if err := s.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseSetupForm(r *http.Request) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return Config{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := Config{
		ServerName: r.FormValue("server-name"),
		Location:   r.FormValue("location"),
		Discovery:  r.FormValue("discovery") == "true",
	}
	if cfg.ServerName == "" {
		return cfg, fmt.Errorf("server name cannot be empty")
	}
	return cfg, nil
}
