package zwaveme

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound envelope types.
const (
	EventGetDevices       = "get_devices"
	EventGetDeviceInfo    = "get_device_info"
	EventGetInfo          = "get_info"
	EventDeviceLevel      = "me.z-wave.devices.level"
	EventNamespacesUpdate = "me.z-wave.namespaces.update"
	EventDeviceRemove     = "me.z-wave.devices.remove"
	EventDeviceWipe       = "me.z-wave.devices.wipe"
)

// namespaceDevicesAll is the namespace entry that lists every device id.
const namespaceDevicesAll = "devices_all"

// Envelope is the outer object of every inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// encapsulatedResponse is the data of a reply to an httpEncapsulatedRequest.
// Body is normally a JSON document encoded as a string.
type encapsulatedResponse struct {
	Body json.RawMessage `json:"body"`
}

// devicesBody is the decoded body of a get_devices reply.
type devicesBody struct {
	Data struct {
		Devices *[]json.RawMessage `json:"devices"`
	} `json:"data"`
}

// deviceInfoBody is the decoded body of a get_device_info reply.
type deviceInfoBody struct {
	Data json.RawMessage `json:"data"`
}

// infoBody is the decoded body of a get_info reply.
type infoBody struct {
	Data struct {
		UUID looseString `json:"uuid"`
	} `json:"data"`
}

// namespaceEntry is one element of a namespaces.update payload.
type namespaceEntry struct {
	ID     string `json:"id"`
	Params []struct {
		DeviceID looseString `json:"deviceId"`
	} `json:"params"`
}

// decodeEnvelope parses the outer frame.
func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return env, nil
}

// isNull reports whether raw is absent or the JSON literal null.
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeBody runs the second decode pass on data.body into v.
// It returns ErrMissingBody when data or body is absent.
func decodeBody(data json.RawMessage, v any) error {
	if isNull(data) {
		return ErrMissingBody
	}

	var resp encapsulatedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: data: %w", ErrInvalidFrame, err)
	}
	if isNull(resp.Body) {
		return ErrMissingBody
	}

	body := bytes.TrimSpace(resp.Body)
	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return fmt.Errorf("%w: body: %w", ErrInvalidFrame, err)
		}
		body = []byte(s)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: body: %w", ErrInvalidFrame, err)
	}
	return nil
}

// payloadDeviceID extracts the device id from a remove/wipe payload, which
// is either the bare id or an object carrying an id field.
func payloadDeviceID(data json.RawMessage) string {
	raw := bytes.TrimSpace(data)
	if isNull(raw) || raw[0] == '[' {
		return ""
	}

	if raw[0] == '{' {
		var obj struct {
			ID looseString `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		return string(obj.ID)
	}

	var id looseString
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return string(id)
}
