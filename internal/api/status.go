package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/lanwake/internal/heartbeat"
	"github.com/nerrad567/lanwake/internal/scanner"
)

// scanResponse is the body of POST /scan.
type scanResponse struct {
	Accepted       bool `json:"accepted"`
	AlreadyPending bool `json:"already_pending"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Connectivity ConnectivityStatus `json:"connectivity"`
	Scanner      ScannerStatus      `json:"scanner"`
	Heartbeat    *HeartbeatReport   `json:"heartbeat,omitempty"`
	RateLimit    RateLimitStatus    `json:"rate_limit"`
	Registry     RegistryStatus     `json:"registry"`
	WorkerID     string             `json:"worker_id"`
}

// ConnectivityStatus reports the link state machine.
type ConnectivityStatus struct {
	State         string `json:"state"`
	Since         string `json:"since"`
	Interface     string `json:"interface,omitempty"`
	Addr          string `json:"addr,omitempty"`
	Gateway       string `json:"gateway,omitempty"`
	BlinkInterval string `json:"blink_interval"`
}

// ScannerStatus reports the scan task.
type ScannerStatus struct {
	State      string              `json:"state"`
	Pending    bool                `json:"pending"`
	LastResult *scanner.PassResult `json:"last_result,omitempty"`
}

// HeartbeatReport reports the heartbeat schedule.
type HeartbeatReport struct {
	Interval   string            `json:"interval"`
	LastResult *heartbeat.Result `json:"last_result,omitempty"`
}

// RateLimitStatus reports the caller table occupancy.
type RateLimitStatus struct {
	Occupied int `json:"occupied"`
	Capacity int `json:"capacity"`
}

// RegistryStatus reports the device registry size.
type RegistryStatus struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
}

// handleScan asks the scan task for an immediate pass. Repeated requests
// before the pass starts collapse into one.
func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	accepted := s.controller.RequestScan()
	if accepted {
		s.logger.Info("scan requested")
	}
	writeJSON(w, http.StatusAccepted, scanResponse{
		Accepted:       accepted,
		AlreadyPending: !accepted,
	})
}

// handleStatus reports the shared controller state. Reads may be one
// update stale.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	conn := s.controller.Connectivity()

	resp := StatusResponse{
		Connectivity: ConnectivityStatus{
			State:         conn.State().String(),
			Since:         conn.Since().UTC().Format(time.RFC3339),
			BlinkInterval: conn.BlinkInterval().String(),
		},
		Scanner: ScannerStatus{
			State:   "unknown",
			Pending: s.controller.ScanPending(),
		},
		RateLimit: RateLimitStatus{
			Occupied: s.limiter.Occupied(),
			Capacity: s.limiter.Capacity(),
		},
		Registry: RegistryStatus{
			Count:    s.registry.Len(),
			Capacity: s.registry.Cap(),
		},
		WorkerID: s.verifier.WorkerID(),
	}

	if conn.Connected() {
		if iface, err := conn.Interface(); err == nil {
			resp.Connectivity.Interface = iface.Name
			if iface.Addr.IsValid() {
				resp.Connectivity.Addr = iface.Addr.String()
			}
		}
		if gw := conn.Gateway(); gw.IsValid() {
			resp.Connectivity.Gateway = gw.String()
		}
	}

	if s.scanner != nil {
		resp.Scanner.State = s.scanner.State().String()
		if last, ok := s.scanner.LastResult(); ok {
			resp.Scanner.LastResult = &last
		}
	}

	if s.heartbeat != nil {
		report := &HeartbeatReport{Interval: s.heartbeat.Interval().String()}
		if last, ok := s.heartbeat.LastResult(); ok {
			report.LastResult = &last
		}
		resp.Heartbeat = report
	}

	writeJSON(w, http.StatusOK, resp)
}
