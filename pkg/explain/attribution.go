package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/menta2k/nailscan/pkg/types"
)

// MethodFormula marks attributions derived from the closed-form weights.
const MethodFormula = "formula_based"

// weights score model inputs by their deviation from a reference. Inputs
// not listed have no importance.
var weights = []struct {
	index int
	score func(v float64) float64
}{
	{types.InputMeanL, func(v float64) float64 { return math.Abs((v - 60) / 20 * 2) }},
	{types.InputRatioRG, func(v float64) float64 { return math.Abs((v - 1.05) / 0.15 * 1.5) }},
	{types.InputVesselDensity, func(v float64) float64 { return math.Abs((v - 0.15) / 0.1 * 0.8) }},
	{types.InputMeanR, func(v float64) float64 { return math.Abs((v - 150) / 50 * 0.5) }},
	{types.InputLBPUniformity, func(v float64) float64 { return math.Abs(v-0.5) * 0.4 }},
}

// Attribute scores each weighted input by its distance from the reference,
// drops entries below minImportance and renormalizes the rest so they sum
// to one. The result is sorted by importance, highest first.
func Attribute(fv types.FeatureVector, minImportance float64) []types.FeatureImportance {
	input := fv.ModelInput()

	var scores [types.ModelInputSize]float64
	var total float64
	for _, w := range weights {
		s := w.score(input[w.index])
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		scores[w.index] = s
		total += s
	}
	if total <= 0 {
		return nil
	}

	var kept []types.FeatureImportance
	var keptTotal float64
	for idx, s := range scores {
		imp := s / total
		if imp <= minImportance {
			continue
		}
		kept = append(kept, types.FeatureImportance{
			Name:       types.ModelInputNames[idx],
			Index:      idx,
			Value:      input[idx],
			Importance: imp,
		})
		keptTotal += imp
	}
	for i := range kept {
		kept[i].Importance /= keptTotal
		kept[i].Contribution = kept[i].Importance * 100
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Importance > kept[j].Importance
	})
	return kept
}

// Interpret renders a short explanation of the ranking. Only the first
// `top` entries are listed.
func Interpret(ranked []types.FeatureImportance, top int) string {
	if len(ranked) == 0 {
		return "No significant features identified."
	}
	head := ranked[:min(top, len(ranked))]

	var sb strings.Builder
	fmt.Fprintf(&sb, "The prediction was primarily influenced by %d features:", len(ranked))
	for i, f := range head {
		fmt.Fprintf(&sb, "\n%d. **%s** (%.1f%% contribution, value: %.2f)", i+1, f.Name, f.Contribution, f.Value)
	}

	if ranked[0].Index == types.InputMeanL {
		sb.WriteString("\n\nL* lightness is the primary indicator - darker nail beds typically indicate higher hemoglobin levels.")
	}
	if containsIndex(head, types.InputRatioRG) {
		sb.WriteString("\nThe red/green color ratio helps assess blood oxygenation in the nail bed.")
	}
	if containsIndex(head, types.InputVesselDensity) {
		sb.WriteString("\nBlood vessel density in the nail bed provides additional hemoglobin information.")
	}
	return sb.String()
}

func containsIndex(fs []types.FeatureImportance, idx int) bool {
	for _, f := range fs {
		if f.Index == idx {
			return true
		}
	}
	return false
}
