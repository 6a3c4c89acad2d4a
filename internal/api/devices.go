package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/musiccast-bridge/internal/musiccast"
)

// deviceSummary is the list-view representation of a managed device.
type deviceSummary struct {
	ID    string   `json:"id"`
	Host  string   `json:"host"`
	Model string   `json:"model"`
	Name  string   `json:"name"`
	State string   `json:"state"`
	Zones []string `json:"zones"`
}

// deviceDetail adds the cached zone states to the summary.
type deviceDetail struct {
	deviceSummary
	States []musiccast.ZoneState `json:"states"`
}

func summarize(d *musiccast.Device) deviceSummary {
	return deviceSummary{
		ID:    d.ID,
		Host:  d.Host,
		Model: d.Model,
		Name:  d.Name(),
		State: d.State().String(),
		Zones: d.Zones(),
	}
}

// handleListDevices returns every managed device.
//
// GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	out := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, summarize(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device with its cached zone states.
//
// GET /api/v1/devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev := s.registry.Get(id)
	if dev == nil {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, deviceDetail{
		deviceSummary: summarize(dev),
		States:        dev.Snapshot(),
	})
}

// handleGetDeviceState returns the cached zone states for one device.
// An optional ?zone= query filters to a single zone.
//
// GET /api/v1/devices/{id}/state
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev := s.registry.Get(id)
	if dev == nil {
		writeNotFound(w, "device not found: "+id)
		return
	}

	states := dev.Snapshot()
	if zone := r.URL.Query().Get("zone"); zone != "" {
		for _, st := range states {
			if st.Zone == zone {
				writeJSON(w, http.StatusOK, st)
				return
			}
		}
		writeNotFound(w, "zone not found: "+zone)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"states":    states,
	})
}
