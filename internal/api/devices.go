package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zwaveme/internal/bridges/zwaveme"
)

// handleListDevices returns the visible device set.
//
// Query parameters:
//   - type: filter by canonical deviceType (switchBinary, sensorMultilevel, ...)
//   - failed: "true" or "false" to filter by isFailed
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.hub.Devices()

	deviceType := r.URL.Query().Get("type")
	failed := r.URL.Query().Get("failed")
	if failed != "" && failed != "true" && failed != "false" {
		writeBadRequest(w, "failed must be true or false")
		return
	}

	if deviceType != "" || failed != "" {
		filtered := make([]zwaveme.Device, 0, len(devices))
		for _, d := range devices {
			if deviceType != "" && d.DeviceType != deviceType {
				continue
			}
			if failed != "" && d.IsFailed != (failed == "true") {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, ok := s.hub.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceCommand sends a command to a device.
//
// The optional JSON body is a parameter object, e.g. {"level": 40} for "dim"
// or {"red": 255, "green": 0, "blue": 0} for "color". The hub applies the
// command asynchronously; the new level arrives later as a device event.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	command := chi.URLParam(r, "command")

	if _, ok := s.hub.Device(id); !ok {
		writeNotFound(w, "device not found")
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	hubCommand, err := zwaveme.TranslateCommand(command, params)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.hub.SendCommand(id, hubCommand); err != nil {
		s.writeHubError(w, "failed to send command", err)
		return
	}

	s.logger.Info("device command sent", "device_id", id, "command", hubCommand)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": id,
		"command":   hubCommand,
		"hub_path":  zwaveme.CommandPath(id, hubCommand),
	})
}

// handleRefreshDevices asks the hub for a fresh device snapshot.
func (s *Server) handleRefreshDevices(w http.ResponseWriter, _ *http.Request) {
	if err := s.hub.GetDevices(); err != nil {
		s.writeHubError(w, "failed to request devices", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// hubResponse describes the hub session.
type hubResponse struct {
	UUID            string     `json:"uuid,omitempty"`
	UUIDKnown       bool       `json:"uuid_known"`
	State           string     `json:"state"`
	Connected       bool       `json:"connected"`
	Devices         int        `json:"devices"`
	FramesRx        uint64     `json:"frames_rx"`
	FramesDropped   uint64     `json:"frames_dropped"`
	RequestsTx      uint64     `json:"requests_tx"`
	ReconnectsTotal uint64     `json:"reconnects_total"`
	ConnectedSince  *time.Time `json:"connected_since,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
}

// handleHub returns the hub uuid and connection statistics.
// While connected it waits for the uuid if it is not yet known.
func (s *Server) handleHub(w http.ResponseWriter, _ *http.Request) {
	uuid := s.hub.UUID()
	if uuid == "" && s.hub.IsConnected() {
		uuid, _ = s.hub.AwaitUUID(s.uuidTimeout)
	}

	stats := s.hub.Stats()
	resp := hubResponse{
		UUID:            uuid,
		UUIDKnown:       uuid != "",
		State:           stats.State,
		Connected:       stats.Connected,
		Devices:         stats.Devices,
		FramesRx:        stats.FramesRx,
		FramesDropped:   stats.FramesDropped,
		RequestsTx:      stats.RequestsTx,
		ReconnectsTotal: stats.ReconnectsTotal,
		ConnectedSince:  timePtr(stats.ConnectedSince),
		LastActivity:    timePtr(stats.LastActivity),
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeHubError maps manager errors onto HTTP responses.
func (s *Server) writeHubError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, zwaveme.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, zwaveme.ErrNotConnected), errors.Is(err, zwaveme.ErrClosed):
		writeUnavailable(w, message+": hub not connected")
	default:
		s.logger.Error(message, "error", err)
		writeInternalError(w, message)
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
