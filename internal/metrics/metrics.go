package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"
)

// Recorder writes moderation throughput points to InfluxDB. All methods are
// nil-safe no-ops when metrics are unconfigured, and writes go through the
// non-blocking write API so they never sit on the settlement path.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewRecorder connects to InfluxDB. Returns nil when url is empty.
func NewRecorder(url, token, org, bucket string) *Recorder {
	if url == "" {
		return nil
	}
	client := influxdb2.NewClient(url, token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
	}
}

// RecordVote counts a cast vote.
func (r *Recorder) RecordVote(decision string) {
	if r == nil {
		return
	}
	p := influxdb2.NewPoint("moderation_votes",
		map[string]string{"decision": decision},
		map[string]interface{}{"count": 1},
		time.Now())
	r.writeAPI.WritePoint(p)
}

// RecordSettlement counts a finalized submission and its payout.
func (r *Recorder) RecordSettlement(status string, payment decimal.Decimal) {
	if r == nil {
		return
	}
	amount, _ := payment.Float64()
	p := influxdb2.NewPoint("settlements",
		map[string]string{"status": status},
		map[string]interface{}{"count": 1, "payment": amount},
		time.Now())
	r.writeAPI.WritePoint(p)
}

// RecordPayment counts a withdrawal pipeline transition.
func (r *Recorder) RecordPayment(status string, amount decimal.Decimal) {
	if r == nil {
		return
	}
	f, _ := amount.Float64()
	p := influxdb2.NewPoint("payments",
		map[string]string{"status": status},
		map[string]interface{}{"count": 1, "amount": f},
		time.Now())
	r.writeAPI.WritePoint(p)
}

// Close flushes buffered points and shuts the client down.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
