// Package prometheus renders engine counters in the Prometheus text
// exposition format without importing the Prometheus client.
package prometheus

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/COMRADE-APP/authcore"
	"github.com/COMRADE-APP/authcore/metrics/export/internaldefs"
)

// Handler serves a /metrics endpoint backed by src.
func Handler(src internaldefs.Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(Render(src)))
	})
}

// Render produces the full exposition body.
func Render(src internaldefs.Source) string {
	snap := src.MetricsSnapshot()

	var b strings.Builder
	for _, def := range internaldefs.Counters {
		writeCounter(&b, def.Name, def.Help, snap.Counters[def.ID])
	}

	writeCounter(&b, internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, src.AuditDropped())

	if snap.HistogramsOn {
		writeHistogram(&b, internaldefs.ValidateLatencyName, internaldefs.ValidateLatencyHelp, snap.ValidateLatency)
	}

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeHistogram(b *strings.Builder, name, help string, h authcore.HistogramSnapshot) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	bounds := authcore.LatencyBucketBoundsMs()
	var cumulative uint64
	for i, upper := range bounds {
		cumulative += h.Buckets[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%d\"} %d\n", name, upper, cumulative)
	}
	cumulative += h.Buckets[len(bounds)]
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, cumulative)

	fmt.Fprintf(b, "%s_sum %f\n", name, float64(h.SumNs)/1e6)
	fmt.Fprintf(b, "%s_count %d\n", name, h.Count)
}
