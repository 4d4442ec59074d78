// Package mqtt publishes lanwake controller events to an MQTT broker.
//
// The broker is optional. When enabled, the controller announces itself on
// a retained status topic, registers a Last Will so subscribers notice an
// unclean exit, and mirrors every controller event onto a per-worker event
// topic. A small command topic lets home automation request a scan.
//
// Topic layout (worker = provisioned worker id):
//
//	lanwake/<worker>/status            retained online/offline
//	lanwake/<worker>/event/<name>      controller events (JSON)
//	lanwake/<worker>/command/<name>    inbound commands
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, workerID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent("scan.completed", result)
//
// TLS should be enabled whenever the broker is reachable beyond the
// local segment (cfg.Broker.TLS=true).
package mqtt
