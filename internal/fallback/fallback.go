// Package fallback loads the static data used when the backend is
// unavailable: KPI defaults and canned answers. Read errors never surface;
// they degrade to an empty mapping and then to built-in defaults.
package fallback

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"harborguide/internal/domain"
)

// OfflineAnswer is shown when no mock-answer file can be read.
const OfflineAnswer = `### HarborGuide (no live KPIs)
- I'm operating without backend data. Here's a structured response you can use for decisions.

**What to review next:** arrival accuracy, within-4h rate, avg berth time, carbon abatement.

**Likely drivers (hypotheses):** berth conflicts, weather, port congestion, yard imbalance, data latency.

**Actions:** tighten ETA governance; smooth arrival banks; rebalance yard blocks and AGVs; propose slow-steaming slots; track impact weekly.`

// LoadJSON reads path into a generic mapping. Any error yields an empty map.
func LoadJSON(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}, errors.Wrapf(err, "fallback: read %s", path)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}, errors.Wrapf(err, "fallback: decode %s", path)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Source serves fallback KPIs and answers from files on disk.
type Source struct {
	kpisPath    string
	answersPath string
	logger      zerolog.Logger
}

func NewSource(kpisPath, answersPath string, logger zerolog.Logger) *Source {
	return &Source{
		kpisPath:    strings.TrimSpace(kpisPath),
		answersPath: strings.TrimSpace(answersPath),
		logger:      logger.With().Str("component", "fallback").Logger(),
	}
}

// KPIs returns the static KPI defaults. The file may hold either the full
// /api/kpis shape or a bare name→KPI mapping. Missing known metrics are
// filled with zero values.
func (s *Source) KPIs() domain.KPISet {
	set := domain.ZeroKPIs()
	if s.kpisPath == "" {
		return set
	}
	raw, err := os.ReadFile(s.kpisPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.kpisPath).Msg("kpi defaults unavailable, using zero values")
		return set
	}
	parsed, err := decodeKPIs(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.kpisPath).Msg("kpi defaults malformed, using zero values")
		return set
	}
	for name, kpi := range parsed.KPIs {
		set.KPIs[name] = kpi
	}
	set.TopVessels = parsed.TopVessels
	return set
}

func decodeKPIs(raw []byte) (domain.KPISet, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.KPISet{}, errors.Wrap(err, "fallback: decode kpi defaults")
	}
	if _, ok := probe["kpis"]; ok {
		var set domain.KPISet
		if err := json.Unmarshal(raw, &set); err != nil {
			return domain.KPISet{}, errors.Wrap(err, "fallback: decode kpi defaults")
		}
		return set, nil
	}
	var bare map[string]domain.KPI
	if err := json.Unmarshal(raw, &bare); err != nil {
		return domain.KPISet{}, errors.Wrap(err, "fallback: decode kpi defaults")
	}
	return domain.KPISet{KPIs: bare}, nil
}

// Answer returns the canned answer for question. Lookup order: an exact
// question key (case and surrounding space ignored), then "answer", then
// "default", then OfflineAnswer. The result is never empty.
func (s *Source) Answer(question string) string {
	if s.answersPath == "" {
		return OfflineAnswer
	}
	answers, err := LoadJSON(s.answersPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.answersPath).Msg("mock answers unavailable, using offline answer")
		return OfflineAnswer
	}
	return pickAnswer(answers, question)
}

func pickAnswer(answers map[string]any, question string) string {
	key := normalize(question)
	if key != "" {
		for k, v := range answers {
			if normalize(k) == key {
				if s := textOf(v); s != "" {
					return s
				}
			}
		}
	}
	for _, k := range []string{"answer", "default"} {
		if s := textOf(answers[k]); s != "" {
			return s
		}
	}
	return OfflineAnswer
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return textOf(t["answer"])
	default:
		return ""
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
