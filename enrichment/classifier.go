// Package enrichment assigns category and energy type to car models and back-fills
// synthetic price history for models without real observations.
package enrichment

import (
	"strings"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/rules"
)

// Classification is a model's metadata together with how it was decided.
type Classification struct {
	Category   models.Category
	EnergyType models.EnergyType
	Source     models.MetadataSource
	Rule       *rules.ModelRule // matched keyword rule, nil unless Source is TABLE
}

// Classify applies, in order: the keyword table (first entry contained in the model
// name wins), name markers, the BEV-only manufacturer list, and finally the default.
// Heuristic hits only decide the energy type; their category is the configured default.
func Classify(r *rules.Rules, modelName, companyName string) Classification {
	for i := range r.Models {
		rule := &r.Models[i]
		if strings.Contains(modelName, rule.Keyword) {
			return Classification{Category: rule.Category, EnergyType: rule.EnergyType, Source: models.MetadataTable, Rule: rule}
		}
	}

	for _, m := range r.Markers {
		for _, marker := range m.Contains {
			if marker != "" && strings.Contains(modelName, marker) {
				return Classification{Category: r.Default.Category, EnergyType: m.EnergyType, Source: models.MetadataHeuristic}
			}
		}
	}

	for _, maker := range r.BEVOnlyMakers {
		if maker != "" && strings.Contains(companyName, maker) {
			return Classification{Category: r.Default.Category, EnergyType: models.EnergyBEV, Source: models.MetadataHeuristic}
		}
	}

	return Classification{Category: r.Default.Category, EnergyType: r.Default.EnergyType, Source: models.MetadataDefault}
}

// Changed reports whether applying c would modify m.
func (c Classification) Changed(m models.CarModel) bool {
	return m.Category != c.Category || m.EnergyType != c.EnergyType || m.MetadataSource != c.Source
}
