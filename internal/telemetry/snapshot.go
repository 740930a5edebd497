package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Sample is one exported metric in the name/help/type/labels/value shape the
// health API returns as JSON.
type Sample struct {
	Name   string            `json:"name"`
	Help   string            `json:"help"`
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot gathers the registered metric families and flattens them into
// samples. Histograms and summaries contribute their sample sum.
func Snapshot() ([]Sample, error) {
	register()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			s := Sample{
				Name: fam.GetName(),
				Help: fam.GetHelp(),
				Type: strings.ToLower(fam.GetType().String()),
			}
			if labels := m.GetLabel(); len(labels) > 0 {
				s.Labels = make(map[string]string, len(labels))
				for _, l := range labels {
					s.Labels[l.GetName()] = l.GetValue()
				}
			}
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Value = m.GetHistogram().GetSampleSum()
			case dto.MetricType_SUMMARY:
				s.Value = m.GetSummary().GetSampleSum()
			case dto.MetricType_UNTYPED:
				s.Value = m.GetUntyped().GetValue()
			}
			out = append(out, s)
		}
	}
	return out, nil
}
