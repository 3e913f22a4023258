package cache

import "github.com/prometheus/client_golang/prometheus"

var cacheEntries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "genji_cache_entries",
		Help: "Number of entries held per cache collection.",
	},
	[]string{"collection"},
)

func init() {
	prometheus.MustRegister(cacheEntries)
}
