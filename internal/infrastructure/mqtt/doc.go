// Package mqtt connects the Z-Wave.Me bridge to the Gray Logic MQTT bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS and retain flags
//   - Wildcard subscriptions restored after every reconnect
//   - Last Will and Testament for offline detection
//
// # Architecture
//
//	Z-Wave.Me hub ↔ zwaveme.Manager → zwaveme.Publisher ↔ mqtt.Client ↔ Broker ↔ Gray Logic Core
//
// The bridge registers its health topic as the will, so Core sees
// "offline" on graylogic/health/zwaveme if the process dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    zwaveme.HealthTopic(),
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Handlers receive the concrete topic (wildcards expanded) and the raw
// payload. Never log payloads that may carry credentials.
package mqtt
