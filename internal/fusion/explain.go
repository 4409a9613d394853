package fusion

import (
	"sort"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// ExplanationMethod names the decomposition used for local contributions.
const ExplanationMethod = "heuristic-linear-decomposition"

const (
	positiveDrivers = 5
	negativeDrivers = 3
)

// Explain ranks the weighted heuristic components: the five largest are the
// positive drivers and the three smallest the negative ones. approximate
// marks an explanation of a score the heuristic did not produce.
func Explain(c domain.Components, approximate bool) domain.LocalContributions {
	raw := weighted(c)
	for i := range raw {
		raw[i].Contribution = numeric.Round(raw[i].Contribution, 6)
	}

	desc := append([]domain.Contribution(nil), raw...)
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Contribution > desc[j].Contribution })

	asc := append([]domain.Contribution(nil), raw...)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Contribution < asc[j].Contribution })

	return domain.LocalContributions{
		Positive:      desc[:positiveDrivers],
		Negative:      asc[:negativeDrivers],
		RawComponents: raw,
		Method:        ExplanationMethod,
		Approximate:   approximate,
	}
}
