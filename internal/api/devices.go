package api

import (
	"net/http"
	"net/netip"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lanwake/internal/events"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/internal/wol"
)

// deviceListResponse is the body of GET /devices.
type deviceListResponse struct {
	Devices  []macaddr.MAC `json:"devices"`
	Count    int           `json:"count"`
	Capacity int           `json:"capacity"`
}

// wakeResponse is the body of POST /wake/{mac}.
type wakeResponse struct {
	MAC        macaddr.MAC `json:"mac"`
	Broadcast  string      `json:"broadcast"`
	Registered bool        `json:"registered"`
}

// handleListDevices returns the registry in first-insertion order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	if devices == nil {
		devices = []macaddr.MAC{}
	}
	writeJSON(w, http.StatusOK, deviceListResponse{
		Devices:  devices,
		Count:    len(devices),
		Capacity: s.registry.Cap(),
	})
}

// handleClearDevices removes every registered device.
func (s *Server) handleClearDevices(w http.ResponseWriter, r *http.Request) {
	removed := s.registry.Len()
	if err := s.registry.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear device registry", "error", err)
		writeInternalError(w, "failed to clear device registry")
		return
	}

	s.events.Publish(events.RegistryCleared, events.Registry{
		Removed:  removed,
		Capacity: s.registry.Cap(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleWake sends one magic packet. The address is validated before any
// packet is built; a malformed or non-unicast MAC is a 400.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "mac"))
	if err != nil {
		writeBadRequest(w, "mac must be six colon-separated hex octets")
		return
	}
	mac, err := macaddr.Parse(raw)
	if err != nil {
		writeBadRequest(w, "mac must be six colon-separated hex octets")
		return
	}
	if !mac.Valid() {
		writeBadRequest(w, "mac cannot be the zero or broadcast address")
		return
	}

	broadcast := s.broadcastAddr()
	if err := s.waker.Wake(r.Context(), mac, broadcast); err != nil {
		s.logger.Error("failed to send wake packet", "mac", mac.String(), "error", err)
		writeInternalError(w, "failed to send wake packet")
		return
	}

	s.logger.Info("wake packet sent", "mac", mac.String(), "broadcast", broadcast.String())
	s.events.Publish(events.WakeSent, events.Wake{MAC: mac.String(), Broadcast: broadcast.String()})

	writeJSON(w, http.StatusOK, wakeResponse{
		MAC:        mac,
		Broadcast:  broadcast.String(),
		Registered: s.registry.Contains(mac),
	})
}

// broadcastAddr is the station subnet's directed broadcast, or the
// limited broadcast when the interface is unknown.
func (s *Server) broadcastAddr() netip.Addr {
	iface, err := s.controller.Connectivity().Interface()
	if err != nil || !iface.Prefix.IsValid() {
		return wol.LimitedBroadcast
	}
	return wol.DirectedBroadcast(iface.Prefix)
}
