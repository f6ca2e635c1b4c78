package alpaca

import (
	"net/http"
	"time"
)

// DriveRate is the ASCOM tracking rate enumeration.
type DriveRate int

const (
	DriveSidereal DriveRate = iota
	DriveLunar
	DriveSolar
	DriveKing
)

type PierSide int

const (
	PierUnknown PierSide = -1
	PierEast    PierSide = 0
	PierWest    PierSide = 1
)

type TelescopeAxis int

const (
	AxisPrimary TelescopeAxis = iota
	AxisSecondary
	AxisTertiary
)

// AxisRate is a range of rates accepted by MoveAxis, in degrees per second.
type AxisRate struct {
	Minimum float64 `json:"Minimum"`
	Maximum float64 `json:"Maximum"`
}

const (
	AlignmentGermanPolar  = 2
	EquatorialTopocentric = 1
)

type TelescopeCapabilities struct {
	CanFindHome              bool
	CanPark                  bool
	CanPulseGuide            bool
	CanSetDeclinationRate    bool
	CanSetGuideRates         bool
	CanSetPark               bool
	CanSetPierSide           bool
	CanSetRightAscensionRate bool
	CanSetTracking           bool
	CanSlew                  bool
	CanSlewAltAz             bool
	CanSlewAltAzAsync        bool
	CanSlewAsync             bool
	CanSync                  bool
	CanSyncAltAz             bool
	CanUnpark                bool
	CanMoveAxis              [3]bool
}

type Telescope interface {
	Device

	Capabilities() TelescopeCapabilities
	AxisRates(TelescopeAxis) []AxisRate
	TrackingRates() []DriveRate

	RightAscension() (float64, error)
	Declination() (float64, error)
	Altitude() (float64, error)
	Azimuth() (float64, error)
	SideOfPier() (PierSide, error)
	AtHome() (bool, error)
	AtPark() (bool, error)
	Slewing() (bool, error)

	Tracking() (bool, error)
	SetTracking(bool) error
	TrackingRate() (DriveRate, error)
	SetTrackingRate(DriveRate) error
	RightAscensionRate() (float64, error)
	SetRightAscensionRate(float64) error
	DeclinationRate() (float64, error)
	SetDeclinationRate(float64) error

	SiteLatitude() (float64, error)
	SetSiteLatitude(float64) error
	SiteLongitude() (float64, error)
	SetSiteLongitude(float64) error
	UTCDate() (time.Time, error)

	SlewToCoordinatesAsync(ra, dec float64) error
	SyncToCoordinates(ra, dec float64) error
	AbortSlew() error
	MoveAxis(axis TelescopeAxis, rate float64) error

	FindHome() error
	Park() error
	Unpark() error
	SetPark() error
}

type TelescopeHandler struct {
	DeviceHandler
	dev Telescope
}

func NewTelescopeHandler(dev Telescope) *TelescopeHandler {
	return &TelescopeHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (th *TelescopeHandler) RegisterRoutes(mux *http.ServeMux) {
	th.DeviceHandler.RegisterRoutes(mux)

	mux.Handle("GET /alignmentmode", handleAPI(th.constant(AlignmentGermanPolar)))
	mux.Handle("GET /equatorialsystem", handleAPI(th.constant(EquatorialTopocentric)))
	mux.Handle("GET /doesrefraction", handleAPI(th.constant(false)))

	mux.Handle("GET /rightascension", handleAPI(property(th.dev.RightAscension)))
	mux.Handle("GET /declination", handleAPI(property(th.dev.Declination)))
	mux.Handle("GET /altitude", handleAPI(property(th.dev.Altitude)))
	mux.Handle("GET /azimuth", handleAPI(property(th.dev.Azimuth)))
	mux.Handle("GET /athome", handleAPI(property(th.dev.AtHome)))
	mux.Handle("GET /atpark", handleAPI(property(th.dev.AtPark)))
	mux.Handle("GET /slewing", handleAPI(property(th.dev.Slewing)))
	mux.Handle("GET /sideofpier", handleAPI(th.handleSideOfPier))
	mux.Handle("GET /utcdate", handleAPI(th.handleUTCDate))

	mux.Handle("GET /tracking", handleAPI(property(th.dev.Tracking)))
	mux.Handle("PUT /tracking", handleAPI(th.handleSetTracking))
	mux.Handle("GET /trackingrate", handleAPI(th.handleTrackingRate))
	mux.Handle("PUT /trackingrate", handleAPI(th.handleSetTrackingRate))
	mux.Handle("GET /trackingrates", handleAPI(th.handleTrackingRates))
	mux.Handle("GET /rightascensionrate", handleAPI(property(th.dev.RightAscensionRate)))
	mux.Handle("PUT /rightascensionrate", handleAPI(setFloat("RightAscensionRate", th.dev.SetRightAscensionRate)))
	mux.Handle("GET /declinationrate", handleAPI(property(th.dev.DeclinationRate)))
	mux.Handle("PUT /declinationrate", handleAPI(setFloat("DeclinationRate", th.dev.SetDeclinationRate)))

	mux.Handle("GET /sitelatitude", handleAPI(property(th.dev.SiteLatitude)))
	mux.Handle("PUT /sitelatitude", handleAPI(setFloat("SiteLatitude", th.dev.SetSiteLatitude)))
	mux.Handle("GET /sitelongitude", handleAPI(property(th.dev.SiteLongitude)))
	mux.Handle("PUT /sitelongitude", handleAPI(setFloat("SiteLongitude", th.dev.SetSiteLongitude)))

	mux.Handle("GET /canfindhome", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanFindHome })))
	mux.Handle("GET /canpark", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanPark })))
	mux.Handle("GET /canpulseguide", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanPulseGuide })))
	mux.Handle("GET /cansetdeclinationrate", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetDeclinationRate })))
	mux.Handle("GET /cansetguiderates", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetGuideRates })))
	mux.Handle("GET /cansetpark", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetPark })))
	mux.Handle("GET /cansetpierside", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetPierSide })))
	mux.Handle("GET /cansetrightascensionrate", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetRightAscensionRate })))
	mux.Handle("GET /cansettracking", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSetTracking })))
	mux.Handle("GET /canslew", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSlew })))
	mux.Handle("GET /canslewaltaz", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSlewAltAz })))
	mux.Handle("GET /canslewaltazasync", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSlewAltAzAsync })))
	mux.Handle("GET /canslewasync", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSlewAsync })))
	mux.Handle("GET /cansync", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSync })))
	mux.Handle("GET /cansyncaltaz", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanSyncAltAz })))
	mux.Handle("GET /canunpark", handleAPI(th.capability(func(c TelescopeCapabilities) bool { return c.CanUnpark })))
	mux.Handle("GET /canmoveaxis", handleAPI(th.handleCanMoveAxis))
	mux.Handle("GET /axisrates", handleAPI(th.handleAxisRates))

	mux.Handle("PUT /slewtocoordinatesasync", handleAPI(th.handleSlewToCoordinatesAsync))
	mux.Handle("PUT /synctocoordinates", handleAPI(th.handleSyncToCoordinates))
	mux.Handle("PUT /abortslew", handleAPI(action(th.dev.AbortSlew)))
	mux.Handle("PUT /moveaxis", handleAPI(th.handleMoveAxis))
	mux.Handle("PUT /findhome", handleAPI(action(th.dev.FindHome)))
	mux.Handle("PUT /park", handleAPI(action(th.dev.Park)))
	mux.Handle("PUT /unpark", handleAPI(action(th.dev.Unpark)))
	mux.Handle("PUT /setpark", handleAPI(action(th.dev.SetPark)))
}

func property[T any](get func() (T, error)) handlerFunc {
	return func(r *http.Request) (any, error) {
		v, err := get()
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func setFloat(name string, set func(float64) error) handlerFunc {
	return func(r *http.Request) (any, error) {
		v, err := parseFloatRequest(r, name)
		if err != nil {
			return nil, err
		}
		return nil, set(v)
	}
}

func action(fn func() error) handlerFunc {
	return func(r *http.Request) (any, error) {
		return nil, fn()
	}
}

func (th *TelescopeHandler) constant(v any) handlerFunc {
	return func(r *http.Request) (any, error) {
		if !th.dev.Connected() {
			return nil, ErrNotConnected
		}
		return v, nil
	}
}

func (th *TelescopeHandler) capability(get func(TelescopeCapabilities) bool) handlerFunc {
	return func(r *http.Request) (any, error) {
		return get(th.dev.Capabilities()), nil
	}
}

func (th *TelescopeHandler) handleSideOfPier(r *http.Request) (any, error) {
	side, err := th.dev.SideOfPier()
	if err != nil {
		return nil, err
	}
	return int(side), nil
}

func (th *TelescopeHandler) handleUTCDate(r *http.Request) (any, error) {
	t, err := th.dev.UTCDate()
	if err != nil {
		return nil, err
	}
	return formatUTCDate(t), nil
}

func (th *TelescopeHandler) handleSetTracking(r *http.Request) (any, error) {
	on, err := parseBoolRequest(r, "Tracking")
	if err != nil {
		return nil, err
	}
	return nil, th.dev.SetTracking(on)
}

func (th *TelescopeHandler) handleTrackingRate(r *http.Request) (any, error) {
	rate, err := th.dev.TrackingRate()
	if err != nil {
		return nil, err
	}
	return int(rate), nil
}

func (th *TelescopeHandler) handleSetTrackingRate(r *http.Request) (any, error) {
	rate, err := parseIntRequest(r, "TrackingRate")
	if err != nil {
		return nil, err
	}
	if rate < int(DriveSidereal) || rate > int(DriveKing) {
		return nil, Errorf(ErrInvalidValue, "invalid tracking rate %d", rate)
	}
	return nil, th.dev.SetTrackingRate(DriveRate(rate))
}

func (th *TelescopeHandler) handleTrackingRates(r *http.Request) (any, error) {
	rates := th.dev.TrackingRates()
	values := make([]int, len(rates))
	for i, rate := range rates {
		values[i] = int(rate)
	}
	return values, nil
}

func parseAxis(r *http.Request) (TelescopeAxis, error) {
	axis, err := parseIntRequest(r, "Axis")
	if err != nil {
		return 0, err
	}
	if axis < int(AxisPrimary) || axis > int(AxisTertiary) {
		return 0, Errorf(ErrInvalidValue, "invalid axis %d", axis)
	}
	return TelescopeAxis(axis), nil
}

func (th *TelescopeHandler) handleCanMoveAxis(r *http.Request) (any, error) {
	axis, err := parseAxis(r)
	if err != nil {
		return nil, err
	}
	return th.dev.Capabilities().CanMoveAxis[axis], nil
}

func (th *TelescopeHandler) handleAxisRates(r *http.Request) (any, error) {
	axis, err := parseAxis(r)
	if err != nil {
		return nil, err
	}
	rates := th.dev.AxisRates(axis)
	if rates == nil {
		rates = []AxisRate{}
	}
	return rates, nil
}

func parseCoordinates(r *http.Request) (float64, float64, error) {
	ra, err := parseFloatRequest(r, "RightAscension")
	if err != nil {
		return 0, 0, err
	}
	dec, err := parseFloatRequest(r, "Declination")
	if err != nil {
		return 0, 0, err
	}
	if ra < 0 || ra >= 24 {
		return 0, 0, Errorf(ErrInvalidValue, "right ascension %f out of range", ra)
	}
	if dec < -90 || dec > 90 {
		return 0, 0, Errorf(ErrInvalidValue, "declination %f out of range", dec)
	}
	return ra, dec, nil
}

func (th *TelescopeHandler) handleSlewToCoordinatesAsync(r *http.Request) (any, error) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		return nil, err
	}
	return nil, th.dev.SlewToCoordinatesAsync(ra, dec)
}

func (th *TelescopeHandler) handleSyncToCoordinates(r *http.Request) (any, error) {
	ra, dec, err := parseCoordinates(r)
	if err != nil {
		return nil, err
	}
	return nil, th.dev.SyncToCoordinates(ra, dec)
}

func (th *TelescopeHandler) handleMoveAxis(r *http.Request) (any, error) {
	axis, err := parseAxis(r)
	if err != nil {
		return nil, err
	}
	rate, err := parseFloatRequest(r, "Rate")
	if err != nil {
		return nil, err
	}
	return nil, th.dev.MoveAxis(axis, rate)
}
