package alpaca

import (
	"net/http"
)

// DeviceHandler serves the routes common to all device types.
type DeviceHandler struct {
	dev Device
}

func NewDeviceHandler(dev Device) *DeviceHandler {
	return &DeviceHandler{dev}
}

func (h *DeviceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /name", handleAPI(h.handleName))
	mux.Handle("GET /description", handleAPI(h.handleDescription))
	mux.Handle("GET /driverinfo", handleAPI(h.handleDriverInfo))
	mux.Handle("GET /driverversion", handleAPI(h.handleDriverVersion))
	mux.Handle("GET /interfaceversion", handleAPI(h.handleInterfaceVersion))
	mux.Handle("GET /devicestate", handleAPI(h.handleState))
	mux.Handle("GET /supportedactions", handleAPI(h.handleSupportedActions))

	mux.Handle("GET /connected", handleAPI(h.handleConnected))
	mux.Handle("PUT /connected", handleAPI(h.handleSetConnected))
	mux.Handle("GET /connecting", handleAPI(h.handleConnecting))
	mux.Handle("PUT /connect", handleAPI(h.handleConnect))
	mux.Handle("PUT /disconnect", handleAPI(h.handleDisconnect))
}

func (h *DeviceHandler) handleName(r *http.Request) (any, error) {
	return h.dev.DeviceInfo().Name, nil
}

func (h *DeviceHandler) handleDescription(r *http.Request) (any, error) {
	return h.dev.DeviceInfo().Description, nil
}

func (h *DeviceHandler) handleDriverInfo(r *http.Request) (any, error) {
	return h.dev.DriverInfo().Name, nil
}

func (h *DeviceHandler) handleDriverVersion(r *http.Request) (any, error) {
	return h.dev.DriverInfo().Version, nil
}

func (h *DeviceHandler) handleInterfaceVersion(r *http.Request) (any, error) {
	return h.dev.DriverInfo().InterfaceVersion, nil
}

func (h *DeviceHandler) handleState(r *http.Request) (any, error) {
	return h.dev.GetState(), nil
}

func (h *DeviceHandler) handleSupportedActions(r *http.Request) (any, error) {
	return []string{}, nil
}

func (h *DeviceHandler) handleConnected(r *http.Request) (any, error) {
	return h.dev.Connected(), nil
}

func (h *DeviceHandler) handleSetConnected(r *http.Request) (any, error) {
	connected, err := parseBoolRequest(r, "Connected")
	if err != nil {
		return nil, err
	}
	if connected == h.dev.Connected() {
		return nil, nil
	}
	if connected {
		return nil, h.dev.Connect()
	}
	return nil, h.dev.Disconnect()
}

func (h *DeviceHandler) handleConnecting(r *http.Request) (any, error) {
	return h.dev.Connecting(), nil
}

func (h *DeviceHandler) handleConnect(r *http.Request) (any, error) {
	return nil, h.dev.Connect()
}

func (h *DeviceHandler) handleDisconnect(r *http.Request) (any, error) {
	return nil, h.dev.Disconnect()
}
