package zwaveme

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Canonical device types assigned by Normalize.
// A device whose type cannot be inferred keeps the hub-reported deviceType.
const (
	TypeSensorBinary     = "sensorBinary"
	TypeSensorMultilevel = "sensorMultilevel"
	TypeSwitchBinary     = "switchBinary"
	TypeSwitchMultilevel = "switchMultilevel"
	TypeLightMultilevel  = "lightMultilevel"
	TypeToggleButton     = "toggleButton"
	TypeThermostat       = "thermostat"
	TypeMotor            = "motor"
	TypeFan              = "fan"
	TypeDoorlock         = "doorlock"
	TypeSiren            = "siren"
)

// Canonical string levels.
const (
	LevelOn    = "on"
	LevelOff   = "off"
	LevelOpen  = "open"
	LevelClose = "close"
)

// Color is an RGB triple as used by the hub's metrics.color field.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// UnmarshalJSON accepts fractional channel values and rounds them.
func (c *Color) UnmarshalJSON(data []byte) error {
	var aux struct {
		R float64 `json:"r"`
		G float64 `json:"g"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshal color: %w", err)
	}
	c.R = int(math.Round(aux.R))
	c.G = int(math.Round(aux.G))
	c.B = int(math.Round(aux.B))
	return nil
}

// grey returns a colour with all three channels set to v.
func grey(v int) *Color {
	return &Color{R: v, G: v, B: v}
}

// looseString decodes a JSON string, number or boolean into its text form.
// The hub is inconsistent about whether identifiers such as nodeId are
// numbers or strings. null decodes to "".
type looseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		*s = looseString(data)
	}
	return nil
}

// RawMetrics is the nested metrics object of a hub device record.
type RawMetrics struct {
	Title      looseString `json:"title"`
	Level      any         `json:"level"`
	ScaleTitle looseString `json:"scaleTitle"`
	Min        looseString `json:"min"`
	Max        looseString `json:"max"`
	Color      *Color      `json:"color"`
	IsFailed   bool        `json:"isFailed"`
}

// RawDevice is a device record as delivered by the hub, either inside a
// device snapshot, a device info response or a level notification.
//
// Level keeps whatever JSON type the hub sent: string, float64, bool or nil.
type RawDevice struct {
	ID                looseString `json:"id"`
	DeviceType        looseString `json:"deviceType"`
	ProbeType         looseString `json:"probeType"`
	Tags              []string    `json:"tags"`
	LocationName      looseString `json:"locationName"`
	Manufacturer      looseString `json:"manufacturer"`
	Firmware          looseString `json:"firmware"`
	CreatorID         looseString `json:"creatorId"`
	NodeID            looseString `json:"nodeId"`
	PermanentlyHidden bool        `json:"permanently_hidden"`
	Metrics           RawMetrics  `json:"metrics"`
}

// Hidden reports whether the hub marked the device permanently hidden.
// Hidden devices never leave the dispatcher.
func (r RawDevice) Hidden() bool {
	return r.PermanentlyHidden
}

// Device is the canonical device record handed to event sinks.
type Device struct {
	ID               string   `json:"id"`
	DeviceType       string   `json:"deviceType"`
	Title            string   `json:"title"`
	Level            any      `json:"level"`
	DeviceIdentifier string   `json:"deviceIdentifier"`
	ProbeType        string   `json:"probeType"`
	ScaleTitle       string   `json:"scaleTitle"`
	Min              string   `json:"min"`
	Max              string   `json:"max"`
	Color            *Color   `json:"color,omitempty"`
	IsFailed         bool     `json:"isFailed"`
	LocationName     string   `json:"locationName"`
	Manufacturer     string   `json:"manufacturer"`
	Firmware         string   `json:"firmware"`
	Tags             []string `json:"tags"`
	NodeID           string   `json:"nodeId"`
	CreatorID        string   `json:"creatorId"`
}

// Raw converts a canonical device back into a raw record, so it can be fed
// through Normalize again.
func (d Device) Raw() RawDevice {
	var c *Color
	if d.Color != nil {
		cc := *d.Color
		c = &cc
	}
	return RawDevice{
		ID:           looseString(d.ID),
		DeviceType:   looseString(d.DeviceType),
		ProbeType:    looseString(d.ProbeType),
		Tags:         append([]string(nil), d.Tags...),
		LocationName: looseString(d.LocationName),
		Manufacturer: looseString(d.Manufacturer),
		Firmware:     looseString(d.Firmware),
		CreatorID:    looseString(d.CreatorID),
		NodeID:       looseString(d.NodeID),
		Metrics: RawMetrics{
			Title:      looseString(d.Title),
			Level:      d.Level,
			ScaleTitle: looseString(d.ScaleTitle),
			Min:        looseString(d.Min),
			Max:        looseString(d.Max),
			Color:      c,
			IsFailed:   d.IsFailed,
		},
	}
}

// decodeRawDevice parses a single device record.
func decodeRawDevice(data []byte) (RawDevice, error) {
	var raw RawDevice
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawDevice{}, fmt.Errorf("%w: device record: %w", ErrInvalidFrame, err)
	}
	return raw, nil
}
