package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCycleSummary records the outcome of a completed dispense cycle.
//
// One point is written per cycle, tagged by cell and final status so
// dashboards can break throughput down by outcome.
//
// Parameters:
//   - cellID: Identifier of the dispensing cell (e.g., "cell-01")
//   - cycleID: Unique identifier of the cycle
//   - status: Final cycle status ("completed", "stopped", "error")
//   - duration: Wall-clock duration of the cycle
//   - dispensed: Number of workpieces dispensed
//   - waypoints: Total waypoints traversed
func (c *Client) WriteCycleSummary(cellID, cycleID, status string, duration time.Duration, dispensed, waypoints int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"cycles",
		map[string]string{
			"cell_id": cellID,
			"status":  status,
		},
		map[string]interface{}{
			"cycle_id":         cycleID,
			"duration_seconds": duration.Seconds(),
			"dispensed":        dispensed,
			"waypoints":        waypoints,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCycleMetric writes a single named measurement for a cycle stage.
//
// Used for finer-grained timings such as capture, matching, nesting and
// path generation durations.
//
// Parameters:
//   - cellID: Identifier of the dispensing cell
//   - metric: The metric name (e.g., "capture_seconds", "nest_seconds")
//   - value: The numeric value to record
func (c *Client) WriteCycleMetric(cellID string, metric string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"cycle_metrics",
		map[string]string{
			"cell_id": cellID,
			"metric":  metric,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteValveMetric writes a tooling telemetry measurement for one valve.
//
// Used for tracking glue consumption and valve duty over time.
//
// Parameters:
//   - cellID: Identifier of the dispensing cell
//   - valveID: Valve identifier (e.g., "valve-a")
//   - metric: Telemetry metric (e.g., "flow_seconds", "open_count")
//   - value: The metric value
func (c *Client) WriteValveMetric(cellID string, valveID string, metric string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"valve_metrics",
		map[string]string{
			"cell_id":  cellID,
			"valve_id": valveID,
			"metric":   metric,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "cell-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
