// Package rules holds the ordered rule tables that drive entity resolution and
// model classification. The defaults are embedded; RULES_FILE replaces them.
package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	models "evsales-dashboard/database/models_pkg"
)

//go:embed default.yaml
var defaultRules []byte

// AliasRule maps a canonical company name to the substrings that identify it in source data.
type AliasRule struct {
	Company string   `yaml:"company"`
	Match   []string `yaml:"match"`
}

// ModelRule assigns metadata to every model whose name contains Keyword.
type ModelRule struct {
	Keyword    string            `yaml:"keyword"`
	Category   models.Category   `yaml:"category"`
	EnergyType models.EnergyType `yaml:"energy_type"`
	GuidePrice float64           `yaml:"guide_price"`
}

// MarkerRule assigns an energy type to names containing any of the markers.
type MarkerRule struct {
	Contains   []string          `yaml:"contains"`
	EnergyType models.EnergyType `yaml:"energy_type"`
}

// Metadata is a category/energy type pair.
type Metadata struct {
	Category   models.Category   `yaml:"category"`
	EnergyType models.EnergyType `yaml:"energy_type"`
}

// BrandAdjustment shifts the synthetic discount of models whose name contains Keyword.
type BrandAdjustment struct {
	Keyword    string  `yaml:"keyword"`
	Adjustment float64 `yaml:"adjustment"`
}

// Pricing parameterizes synthetic discount history. Rates are fractions.
type Pricing struct {
	Months           int               `yaml:"months"`
	GuidePrice       float64           `yaml:"guide_price"`
	BaseDiscount     float64           `yaml:"base_discount"`
	MonthlyTrend     float64           `yaml:"monthly_trend"`
	ModelSpread      float64           `yaml:"model_spread"`
	MinDiscount      float64           `yaml:"min_discount"`
	MaxDiscount      float64           `yaml:"max_discount"`
	BrandAdjustments []BrandAdjustment `yaml:"brand_adjustments"`
}

// Rules is the full rule document.
type Rules struct {
	Aliases       []AliasRule  `yaml:"aliases"`
	Models        []ModelRule  `yaml:"models"`
	Markers       []MarkerRule `yaml:"markers"`
	BEVOnlyMakers []string     `yaml:"bev_only_makers"`
	Default       Metadata     `yaml:"default"`
	Pricing       Pricing      `yaml:"pricing"`
}

// Default returns the embedded rule set.
func Default() (*Rules, error) {
	return Parse(defaultRules)
}

// Load reads rules from path, or the embedded defaults when path is empty.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rule document.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func validMetadata(m Metadata) bool {
	switch m.Category {
	case models.CategorySedan, models.CategorySUV, models.CategoryMPV, models.CategoryHatchback, models.CategoryUnknown:
	default:
		return false
	}
	switch m.EnergyType {
	case models.EnergyBEV, models.EnergyPHEV, models.EnergyEREV, models.EnergyICE, models.EnergyUnknown:
		return true
	}
	return false
}

// Validate rejects empty patterns, unknown enum values and an inverted clamp range.
func (r *Rules) Validate() error {
	for i, a := range r.Aliases {
		if a.Company == "" || len(a.Match) == 0 {
			return fmt.Errorf("alias rule %d: company and match are required", i)
		}
		for _, m := range a.Match {
			if m == "" {
				return fmt.Errorf("alias rule %d (%s): empty match pattern", i, a.Company)
			}
		}
	}
	for i, m := range r.Models {
		if m.Keyword == "" {
			return fmt.Errorf("model rule %d: empty keyword", i)
		}
		if !validMetadata(Metadata{m.Category, m.EnergyType}) {
			return fmt.Errorf("model rule %q: unknown category or energy type", m.Keyword)
		}
	}
	for i, m := range r.Markers {
		if len(m.Contains) == 0 || !validMetadata(Metadata{models.CategoryUnknown, m.EnergyType}) {
			return fmt.Errorf("marker rule %d: markers and a known energy type are required", i)
		}
	}
	if !validMetadata(r.Default) {
		return fmt.Errorf("default metadata %+v is not valid", r.Default)
	}
	if r.Pricing.MinDiscount > r.Pricing.MaxDiscount {
		return fmt.Errorf("pricing: min_discount %.3f exceeds max_discount %.3f", r.Pricing.MinDiscount, r.Pricing.MaxDiscount)
	}
	if r.Pricing.Months < 0 {
		return fmt.Errorf("pricing: months must be non-negative")
	}
	return nil
}
