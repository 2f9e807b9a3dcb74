package fortune

import "strings"

// Strategy selects the distribution a Generator draws from.
type Strategy string

const (
	StrategyUniform Strategy = "uniform"
	StrategyHash    Strategy = "hash"
	StrategyNormal  Strategy = "normal"
	StrategySkewed  Strategy = "skewed"
	StrategyBimodal Strategy = "bimodal"
)

var strategyNames = map[string]Strategy{
	"uniform":   StrategyUniform,
	"random":    StrategyUniform,
	"hash":      StrategyHash,
	"normal":    StrategyNormal,
	"skewed":    StrategySkewed,
	"lucky":     StrategySkewed,
	"bimodal":   StrategyBimodal,
	"challenge": StrategyBimodal,
}

// ParseStrategy resolves a configured strategy name. Empty or unknown names
// resolve to StrategyUniform; ok reports whether name was recognised.
func ParseStrategy(name string) (s Strategy, ok bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return StrategyUniform, true
	}
	s, ok = strategyNames[n]
	if !ok {
		return StrategyUniform, false
	}
	return s, true
}

// Strategies lists the canonical strategy names.
func Strategies() []Strategy {
	return []Strategy{StrategyUniform, StrategyHash, StrategyNormal, StrategySkewed, StrategyBimodal}
}
