// Package influxdb mirrors habitat telemetry into InfluxDB v2.
//
// Every committed snapshot becomes one "habitat_reading" point tagged by
// device, and every raised alert one "habitat_alert" point tagged by device,
// severity and message key. The store of record remains SQLite; InfluxDB is
// only used for long-range dashboards.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	snapshots.AddObserver("influxdb", client.WriteSnapshot)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures go to the SetOnError callback.
package influxdb
