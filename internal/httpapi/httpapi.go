// Package httpapi implements C8: the read-only lease dump and the
// Prometheus exposition endpoint, grounded on the counter/gauge vec
// pattern in grimm-is-glacic's internal/metrics package.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekuinox/omoi4/internal/leasestore"
)

// LeaseLister is the subset of leasestore.Store the /leases4 dump needs.
type LeaseLister interface {
	All() ([]leasestore.Record, error)
}

// Metrics implements dhcp4d.Recorder against a dedicated Prometheus
// registry, one counter per message type, rather than the package-level
// singleton the teacher's metrics package uses — each server instance
// gets its own registry so tests never collide on global state.
type Metrics struct {
	registry *prometheus.Registry

	offers prometheus.Counter
	acks   prometheus.Counter
	naks   prometheus.Counter
}

// NewMetrics registers the counters against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		offers: factory.NewCounter(prometheus.CounterOpts{
			Name: "omoi4_dhcp_offers_total",
			Help: "Total number of DHCPOFFER messages sent.",
		}),
		acks: factory.NewCounter(prometheus.CounterOpts{
			Name: "omoi4_dhcp_acks_total",
			Help: "Total number of DHCPACK messages sent.",
		}),
		naks: factory.NewCounter(prometheus.CounterOpts{
			Name: "omoi4_dhcp_naks_total",
			Help: "Total number of DHCPNAK messages sent.",
		}),
	}
}

func (m *Metrics) OfferSent() { m.offers.Inc() }
func (m *Metrics) AckSent()   { m.acks.Inc() }
func (m *Metrics) NakSent()   { m.naks.Inc() }

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// leaseView is the JSON shape returned by /leases4; it mirrors
// leasestore.Record but with human-readable string fields instead of
// net.HardwareAddr/net.IP/time.Time zero-value quirks.
type leaseView struct {
	HardwareAddr string     `json:"hardware_address"`
	IPAddr       string     `json:"ip_addr"`
	Expires      *time.Time `json:"ttl,omitempty"`
}

// NewMux builds the C8 HTTP surface: GET /leases4 and GET /metrics.
func NewMux(store LeaseLister, metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/leases4", leasesHandler(store))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func leasesHandler(store LeaseLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		records, err := store.All()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]leaseView, 0, len(records))
		for _, rec := range records {
			view := leaseView{
				HardwareAddr: rec.HardwareAddr.String(),
				IPAddr:       ipString(rec.IPAddr),
			}
			if !rec.TTL.IsZero() {
				ttl := rec.TTL
				view.Expires = &ttl
			}
			views = append(views, view)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
