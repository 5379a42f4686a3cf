// Package influxdb is the time-series sink for decision analytics.
//
// Every finalized validation decision fans out to a sink that lands
// here as an access_decision point, giving operators per-door
// grant/deny rates and proximity reading distributions without
// querying the SQLite event log.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDecision(influxdb.DecisionPoint{
//	    DoorID:   "door-lab-2",
//	    Decision: "denied",
//	    Reason:   "rssi_too_weak",
//	})
//
// Writes batch in the background per the batch_size and flush_interval
// settings, so the analytics path never sits on the validation latency
// budget. Batch failures surface through SetOnError; nothing here
// blocks or fails a decision. All methods are safe for concurrent use.
package influxdb
