package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceMetrics holds one numeric reading per point.
const MeasurementDeviceMetrics = "device_metrics"

// WriteDeviceMetric records one numeric reading for a device.
//
// Point layout:
//
//	device_metrics,device_id=ZWayVDev_zway_5-0-37,device_type=switchMultilevel,metric=level,node=1_5 value=42
//
// device_id keeps channels of one node in separate series; node groups them.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDeviceMetric(deviceID, node, deviceType, metric string, value float64) {
	c.WritePointWithTime(MeasurementDeviceMetrics,
		map[string]string{
			"device_id":   deviceID,
			"node":        node,
			"device_type": deviceType,
			"metric":      metric,
		},
		map[string]any{
			"value": value,
		},
		time.Now(),
	)
}

// WritePointWithTime writes a point with explicit tags, fields and timestamp.
// Dropped silently while disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
