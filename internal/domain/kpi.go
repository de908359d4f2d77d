package domain

import "sort"

// KPI is a single named metric as reported by the backend or the defaults file.
type KPI struct {
	Value  float64  `json:"value"`
	Unit   string   `json:"unit"`
	Delta  *float64 `json:"delta,omitempty"`
	Window string   `json:"window,omitempty"`
}

// KPISet mirrors the /api/kpis response shape.
type KPISet struct {
	KPIs       map[string]KPI   `json:"kpis"`
	TopVessels []map[string]any `json:"topVessels,omitempty"`
}

// Names returns the KPI names in display order: the well-known dashboard
// metrics first, then any others alphabetically.
func (s KPISet) Names() []string {
	known := make(map[string]int, len(KnownKPIs))
	for i, k := range KnownKPIs {
		known[k.Name] = i
	}
	names := make([]string, 0, len(s.KPIs))
	for name := range s.KPIs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ki, iok := known[names[i]]
		kj, jok := known[names[j]]
		switch {
		case iok && jok:
			return ki < kj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names
}

// Empty reports whether the set carries no metrics.
func (s KPISet) Empty() bool {
	return len(s.KPIs) == 0
}

// KnownKPI describes one of the dashboard's built-in metrics.
type KnownKPI struct {
	Name   string
	Label  string
	Unit   string
	Window string
}

// KnownKPIs lists the dashboard metrics in display order.
var KnownKPIs = []KnownKPI{
	{Name: "arrival_accuracy", Label: "Arrival accuracy", Unit: "%", Window: "WoW"},
	{Name: "within_4h", Label: "Within 4h", Unit: "%", Window: "WoW"},
	{Name: "avg_berth_h", Label: "Avg berth time", Unit: "h", Window: "WoW"},
	{Name: "carbon_tonnes", Label: "Carbon abatement", Unit: "t", Window: "MTD"},
}

// ZeroKPIs returns the known metrics with every value zeroed.
func ZeroKPIs() KPISet {
	set := KPISet{KPIs: make(map[string]KPI, len(KnownKPIs))}
	for _, k := range KnownKPIs {
		set.KPIs[k.Name] = KPI{Unit: k.Unit, Window: k.Window}
	}
	return set
}

// Label returns a human label for a KPI name.
func Label(name string) string {
	for _, k := range KnownKPIs {
		if k.Name == name {
			return k.Label
		}
	}
	return name
}
