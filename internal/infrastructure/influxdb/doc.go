// Package influxdb provides the InfluxDB v2 connection used to record
// bulb history.
//
// Points are batched and written asynchronously; see Client.SetOnError
// for failure reporting. The measurements themselves are defined by the
// history package.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history recording off
//	}
//	defer client.Close()
package influxdb
