package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"harborguide/internal/domain"
)

// Trend is the direction of a KPI delta.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
	TrendNone Trend = ""
)

// KPICard is one formatted cell of the KPI strip.
type KPICard struct {
	Name  string
	Label string
	Value string
	Delta string
	Trend Trend
}

// KPICards formats set in display order.
func KPICards(set domain.KPISet) []KPICard {
	names := set.Names()
	cards := make([]KPICard, 0, len(names))
	for _, name := range names {
		kpi := set.KPIs[name]
		trend, delta := FormatDelta(kpi)
		cards = append(cards, KPICard{
			Name:  name,
			Label: domain.Label(name),
			Value: FormatValue(kpi),
			Delta: delta,
			Trend: trend,
		})
	}
	return cards
}

// FormatValue renders the value with its unit: "72.4%", "18.3 h", "1,240 t".
func FormatValue(k domain.KPI) string {
	num := formatNumber(k.Value)
	switch k.Unit {
	case "":
		return num
	case "%":
		return num + "%"
	default:
		return num + " " + k.Unit
	}
}

// FormatDelta renders the signed change and window, e.g. "▼ -1.7 WoW".
// A KPI without a delta shows only its window.
func FormatDelta(k domain.KPI) (Trend, string) {
	if k.Delta == nil {
		return TrendNone, k.Window
	}
	d := *k.Delta
	trend, arrow := TrendFlat, "■"
	switch {
	case d > 0:
		trend, arrow = TrendUp, "▲"
	case d < 0:
		trend, arrow = TrendDown, "▼"
	}
	s := arrow + " " + signed(d)
	if k.Window != "" {
		s += " " + k.Window
	}
	return trend, s
}

func signed(v float64) string {
	s := formatNumber(math.Abs(v))
	switch {
	case v > 0:
		return "+" + s
	case v < 0:
		return "-" + s
	default:
		return s
	}
}

// formatNumber keeps one decimal below 1000 and groups thousands above.
func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	if math.Abs(v) < 1000 {
		s := strconv.FormatFloat(v, 'f', 1, 64)
		return strings.TrimSuffix(s, ".0")
	}
	neg := v < 0
	digits := strconv.FormatInt(int64(math.Round(math.Abs(v))), 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// VesselColumns are the top-vessels table columns in display order.
var VesselColumns = []string{"vessel", "bu", "variance_h", "accuracy", "atb"}

// VesselHeaders are the column titles for VesselColumns.
var VesselHeaders = []string{"Vessel", "BU", "Variance (h)", "Accuracy", "ATB"}

// VesselRows formats the top-vessels rows. Absent cells are blank.
func VesselRows(set domain.KPISet) [][]string {
	rows := make([][]string, 0, len(set.TopVessels))
	for _, v := range set.TopVessels {
		row := make([]string, len(VesselColumns))
		for i, col := range VesselColumns {
			row[i] = cell(v[col])
		}
		rows = append(rows, row)
	}
	return rows
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
