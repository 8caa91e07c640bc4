package http

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/feltd/internal/services"
)

// RegisterStateGauges exports the size of learned state as Prometheus
// gauges read at scrape time. Registering twice on the same registerer is
// not an error.
func RegisterStateGauges(r prometheus.Registerer, reg services.Registry) error {
	if r == nil {
		return nil
	}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "feltd",
			Name:      "entity_profiles",
			Help:      "Entity profiles held across all users.",
		}, func() float64 { return float64(reg.Entities().Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "feltd",
			Name:      "coupling_turns",
			Help:      "Turns absorbed by the coupling matrix.",
		}, func() float64 { return float64(reg.Learning().CouplingStore().Turns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "feltd",
			Name:      "emission_templates",
			Help:      "Templates in the active emission library.",
		}, func() float64 { return float64(reg.Templates().Len()) }),
	}
	for _, g := range gauges {
		if err := r.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
