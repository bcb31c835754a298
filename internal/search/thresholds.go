package search

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

// tierTable holds the named similarity cutoffs. Keeping the numbers in one
// embedded file keeps tier monotonicity reviewable in a single place.
type tierTable struct {
	Tiers   map[string]float64 `yaml:"tiers"`
	Default string             `yaml:"default"`
}

var tiers = loadTiers()

func loadTiers() tierTable {
	var table tierTable
	if err := yaml.Unmarshal(thresholdsYAML, &table); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}
	return table
}

// Threshold resolves a tier name to its similarity cutoff. An empty name
// resolves to the default tier.
func Threshold(tier string) (float64, error) {
	if tier == "" {
		tier = tiers.Default
	}
	cutoff, ok := tiers.Tiers[tier]
	if !ok {
		return 0, fmt.Errorf("unknown threshold tier %q (available: %s)", tier, strings.Join(TierNames(), ", "))
	}
	return cutoff, nil
}

// DefaultTier returns the name of the tier used when none is requested.
func DefaultTier() string {
	return tiers.Default
}

// TierNames lists the configured tiers, most strict first.
func TierNames() []string {
	names := make([]string, 0, len(tiers.Tiers))
	for name := range tiers.Tiers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return tiers.Tiers[names[i]] > tiers.Tiers[names[j]]
	})
	return names
}
