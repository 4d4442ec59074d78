// Package influxdb records lanwake controller measurements in InfluxDB v2.
//
// Measurements:
//
//	lanwake_scan       one point per scan pass (counts, duration, aborted)
//	lanwake_heartbeat  one point per collector check-in (ok, status, latency)
//	lanwake_registry   registry size after every change
//	lanwake_event      a counter point per controller event
//
// Every point is tagged worker=<worker id>. The integration is optional;
// Connect returns ErrDisabled when influxdb.enabled is false and callers
// simply run without it.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, workerID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
package influxdb
