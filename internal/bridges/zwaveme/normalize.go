package zwaveme

// tagTypes maps hub tags to canonical device types. Tags are scanned in the
// order the hub lists them and the first known tag wins.
var tagTypes = map[string]string{
	"type-sensor-binary": TypeSensorBinary,
	"type-light":         TypeLightMultilevel,
	"type-button":        TypeToggleButton,
	"type-thermostat":    TypeThermostat,
	"type-motor":         TypeMotor,
	"type-fan":           TypeFan,
	"type-doorlock":      TypeDoorlock,
	"type-number":        TypeSwitchMultilevel,
	"type-switch":        TypeSwitchBinary,
	"type-sensor":        TypeSensorMultilevel,
	"type-siren":         TypeSiren,
}

// Normalize maps a raw hub record onto the canonical Device.
//
// It is pure and total: any structurally valid record produces a device.
// The caller is responsible for dropping hidden records first.
func Normalize(raw RawDevice) Device {
	d := project(raw)

	deviceType, tagged := inferType(d.ProbeType, d.Tags, d.DeviceType)
	d.DeviceType = deviceType
	if tagged {
		canonicalizeLevel(&d)
	}

	if d.DeviceType == TypeMotor {
		d.Level = motorLevel(d.Level)
	}

	d.DeviceIdentifier = deviceIdentifier(d)
	return d
}

// NormalizeDevices normalizes every visible record, skipping hidden ones.
func NormalizeDevices(raws []RawDevice) []Device {
	devices := make([]Device, 0, len(raws))
	for _, raw := range raws {
		if raw.Hidden() {
			continue
		}
		devices = append(devices, Normalize(raw))
	}
	return devices
}

// project copies the allow-listed top-level and metrics fields.
func project(raw RawDevice) Device {
	tags := make([]string, len(raw.Tags))
	copy(tags, raw.Tags)

	var c *Color
	if raw.Metrics.Color != nil {
		cc := *raw.Metrics.Color
		c = &cc
	}

	return Device{
		ID:           string(raw.ID),
		DeviceType:   string(raw.DeviceType),
		ProbeType:    string(raw.ProbeType),
		LocationName: string(raw.LocationName),
		Manufacturer: string(raw.Manufacturer),
		Firmware:     string(raw.Firmware),
		Tags:         tags,
		CreatorID:    string(raw.CreatorID),
		NodeID:       string(raw.NodeID),
		Title:        string(raw.Metrics.Title),
		Level:        raw.Metrics.Level,
		ScaleTitle:   string(raw.Metrics.ScaleTitle),
		Min:          string(raw.Metrics.Min),
		Max:          string(raw.Metrics.Max),
		Color:        c,
		IsFailed:     raw.Metrics.IsFailed,
	}
}

// inferType resolves the canonical type. tagged is true only when a tag
// decided the type; a tag match takes precedence over a motor or fan probe.
func inferType(probeType string, tags []string, reported string) (deviceType string, tagged bool) {
	if probeType == TypeSiren {
		return TypeSiren, false
	}

	for _, tag := range tags {
		if t, ok := tagTypes[tag]; ok {
			return t, true
		}
	}

	switch probeType {
	case TypeMotor:
		return TypeMotor, false
	case TypeFan:
		return TypeFan, false
	}
	return reported, false
}

// canonicalizeLevel rewrites the level for a tag-assigned type.
func canonicalizeLevel(d *Device) {
	switch d.DeviceType {
	case TypeSensorBinary, TypeSwitchBinary, TypeSiren:
		d.Level = binaryLevel(d.Level)
	case TypeLightMultilevel:
		d.Level, d.Color = lightLevel(d.Level)
	case TypeThermostat, TypeFan, TypeSwitchMultilevel, TypeSensorMultilevel, TypeMotor:
		d.Level = multilevelLevel(d.Level)
	case TypeDoorlock:
		d.Level = doorlockLevel(d.Level)
	case TypeToggleButton:
		// passed through
	}
}

// deviceIdentifier is creatorId_nodeId when both are set, else the id.
func deviceIdentifier(d Device) string {
	if d.CreatorID != "" && d.NodeID != "" {
		return d.CreatorID + "_" + d.NodeID
	}
	return d.ID
}
