package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DecisionPoint is one finalized validation decision bound for the
// access_decision measurement.
//
// Decision and Reason mirror the access event row. RSSIDbm and
// DistanceCm are nil when the attempt carried no reading; they travel
// as fields so the indexed tag set stays low-cardinality.
type DecisionPoint struct {
	DoorID     string
	Decision   string
	Reason     string
	RSSIDbm    *int
	DistanceCm *int
	LatencyMs  int64
	At         time.Time
}

// WriteDecision records a decision point.
//
// The write is non-blocking; data is batched and sent asynchronously.
// A zero At stamps the point with the current time.
//
// Example:
//
//	client.WriteDecision(influxdb.DecisionPoint{
//	    DoorID:     "door-lab-2",
//	    Decision:   "granted",
//	    DistanceCm: &distance,
//	})
func (c *Client) WriteDecision(p DecisionPoint) {
	if !c.IsConnected() {
		return
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint("access_decision", decisionTags(p), decisionFields(p), at)
	c.writeAPI.WritePoint(point)
}

// decisionTags builds the indexed keys for a decision point. Reason is
// skipped when empty; empty tag values are invalid line protocol.
func decisionTags(p DecisionPoint) map[string]string {
	tags := map[string]string{
		"door_id":  p.DoorID,
		"decision": p.Decision,
	}
	if p.Reason != "" {
		tags["reason"] = p.Reason
	}
	return tags
}

// decisionFields builds the value fields for a decision point. The
// count and latency_ms fields are always present so points without
// sensor readings still aggregate.
func decisionFields(p DecisionPoint) map[string]interface{} {
	fields := map[string]interface{}{
		"count":      1,
		"latency_ms": p.LatencyMs,
	}
	if p.RSSIDbm != nil {
		fields["rssi_dbm"] = *p.RSSIDbm
	}
	if p.DistanceCm != nil {
		fields["distance_cm"] = *p.DistanceCm
	}
	return fields
}

// WritePoint records an arbitrary measurement for data that does not
// fit the decision helper, such as sweep statistics. Keep tags
// low-cardinality; values belong in fields.
//
//	client.WritePoint("sweep_stats",
//	    map[string]string{"kind": "tokens"},
//	    map[string]interface{}{"purged": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
