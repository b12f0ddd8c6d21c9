// Package influxdb provides InfluxDB connectivity for the dispense cell core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, metric writing, and health monitoring suited to cycle and
// tooling telemetry.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Cycle summaries and per-stage timings
//   - Valve telemetry (flow duration, duty cycles)
//   - Ad-hoc cell statistics
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "plrobotics",
//	    Bucket: "dispense",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write cycle metrics
//	client.WriteCycleMetric("cell-01", "capture_seconds", 0.42)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
