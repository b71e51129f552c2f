// Package influxdb records Z-Wave.Me device telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every numeric device
// reading becomes one point in the device_metrics measurement, tagged with
// the hub device id, the node it belongs to, its canonical type and the
// metric name.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("ZWayVDev_zway_5-0-38", "1_5", "switchMultilevel", "level", 42)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// failures are reported through SetOnError. Connection and health check
// errors are returned directly.
package influxdb
