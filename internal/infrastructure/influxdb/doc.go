// Package influxdb writes droidpilot metrics to InfluxDB v2.
//
// Measurements (every point also carries a "session" tag):
//
//	image_search  tags: bot, image, found     fields: confidence, duration_ms
//	cycle         tags: bot                   fields: cycle, duration_ms, errors
//	crash         tags: bot, package, action  fields: count, dropped
//	queue_job     tags: bot, result           fields: exit_code, pass, duration_ms
//
// Writes are batched by the client library and never block a run.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, "farm")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetLogger(logger)
//	client.WriteCycleMetric("farm", 12, 41*time.Second, false)
package influxdb
