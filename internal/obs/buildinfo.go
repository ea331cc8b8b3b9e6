package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo identifies the running sesame binary.
type BuildInfo struct {
	Version string
	Commit  string
}

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sesame",
			Name:      "build_info",
			Help:      "Always 1; labels carry the sesame-api version, commit and Go runtime.",
		},
		[]string{"version", "commit", "go_version"},
	)

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sesame",
		Name:      "start_time_seconds",
		Help:      "Unix time the sesame-api process published its build info.",
	})
)

// InitBuildInfo publishes sesame_build_info and sesame_start_time_seconds. Empty
// fields are reported as "unknown".
func InitBuildInfo(info BuildInfo) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(orUnknown(info.Version), orUnknown(info.Commit), runtime.Version()).Set(1)
	startTime.Set(float64(time.Now().Unix()))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
