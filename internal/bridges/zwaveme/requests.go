package zwaveme

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outbound request constants.
const (
	// requestEvent is the event name of every outbound request.
	requestEvent = "httpEncapsulatedRequest"

	// apiPrefix is the hub's automation API root.
	apiPrefix = "/ZAutomation/api/v1"
)

// Request is a pseudo-HTTP request carried over the hub websocket.
//
// When ResponseEvent is set the hub answers with an envelope of that type.
// Commands leave it empty and get no reply.
type Request struct {
	Event         string      `json:"event"`
	ResponseEvent string      `json:"responseEvent,omitempty"`
	Data          RequestData `json:"data"`
}

// RequestData is the encapsulated HTTP request line.
type RequestData struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

func newRequest(responseEvent, url string) Request {
	return Request{
		Event:         requestEvent,
		ResponseEvent: responseEvent,
		Data: RequestData{
			Method: "GET",
			URL:    url,
		},
	}
}

// DevicesPath returns the device list path.
func DevicesPath() string {
	return apiPrefix + "/devices"
}

// DevicePath returns the path of a single device.
func DevicePath(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s", apiPrefix, deviceID)
}

// CommandPath returns the actuation path for a device command.
// command may carry a query string (e.g. "exact?level=50").
func CommandPath(deviceID, command string) string {
	return fmt.Sprintf("%s/devices/%s/command/%s", apiPrefix, deviceID, command)
}

// ValidateDeviceID rejects ids that would change the meaning of a device
// path, such as "../x" or "dev?x=1".
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidCommand)
	}
	if deviceID == "." || deviceID == ".." || strings.ContainsAny(deviceID, "/?#&%") {
		return fmt.Errorf("%w: device id %q", ErrInvalidCommand, deviceID)
	}
	return nil
}

// InfoPath returns the hub info path that carries the uuid.
func InfoPath() string {
	return apiPrefix + "/system/first-access"
}

// GetDevicesRequest requests a full device snapshot.
func GetDevicesRequest() Request {
	return newRequest(EventGetDevices, DevicesPath())
}

// GetDeviceInfoRequest requests a single device record.
func GetDeviceInfoRequest(deviceID string) Request {
	return newRequest(EventGetDeviceInfo, DevicePath(deviceID))
}

// GetInfoRequest requests the hub info, including its uuid.
func GetInfoRequest() Request {
	return newRequest(EventGetInfo, InfoPath())
}

// CommandRequest actuates a device. The hub sends no reply.
func CommandRequest(deviceID, command string) Request {
	return newRequest("", CommandPath(deviceID, command))
}

// Marshal encodes the request for the wire.
func (r Request) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}
