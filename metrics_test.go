package fdshare

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)

	// A vector with no observed children is omitted from gather output.
	opensTotal.WithLabelValues(outcomeOK)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"fdshare_opens_total",
		"fdshare_factories_broken_total",
		"fdshare_discarded_descriptors_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
