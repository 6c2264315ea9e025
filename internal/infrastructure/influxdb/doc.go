// Package influxdb records light telemetry in InfluxDB v2.
//
// Every reconciled state report becomes a light_state point and every
// connectivity change a light_connectivity point, both tagged with the
// device id. Writes are non-blocking and batched according to the
// batch_size and flush_interval settings; asynchronous write errors are
// delivered to the SetOnError callback.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reconciler.SetTelemetry(client)
package influxdb
