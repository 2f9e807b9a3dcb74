package fortune

import (
	"crypto/md5"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"
	"sync"
)

// ErrInvalidRange is returned when the configured range or distribution
// parameters cannot produce a value.
var ErrInvalidRange = errors.New("invalid fortune range")

// DefaultExtremeProbability is the bimodal extreme probability used when
// Options.ExtremeProbability is nil.
const DefaultExtremeProbability = 0.3

// Options configures a Generator.
type Options struct {
	Strategy Strategy
	Min      int
	Max      int
	// StdDev is used by StrategyNormal. Zero means 20.
	StdDev float64
	// ExtremeProbability is used by StrategyBimodal. Nil means
	// DefaultExtremeProbability; zero disables the extreme bands.
	ExtremeProbability *float64
	// Rand overrides the global source. Access is serialised by the Generator.
	Rand *rand.Rand
}

// Generator produces fortune values in [Min, Max].
type Generator struct {
	strategy Strategy
	min, max int
	stddev   float64
	extreme  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator validates opts and returns a Generator.
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Min > opts.Max {
		return nil, fmt.Errorf("%w: min %d > max %d", ErrInvalidRange, opts.Min, opts.Max)
	}
	if opts.Max-opts.Min+1 <= 0 {
		return nil, fmt.Errorf("%w: span of [%d, %d] overflows int", ErrInvalidRange, opts.Min, opts.Max)
	}
	if opts.StdDev < 0 {
		return nil, fmt.Errorf("%w: negative standard deviation %v", ErrInvalidRange, opts.StdDev)
	}
	extreme := DefaultExtremeProbability
	if opts.ExtremeProbability != nil {
		extreme = *opts.ExtremeProbability
	}
	if extreme < 0 || extreme > 1 {
		return nil, fmt.Errorf("%w: extreme probability %v outside [0,1]", ErrInvalidRange, extreme)
	}
	g := &Generator{
		strategy: opts.Strategy,
		min:      opts.Min,
		max:      opts.Max,
		stddev:   opts.StdDev,
		extreme:  extreme,
		rng:      opts.Rand,
	}
	if g.strategy == "" {
		g.strategy = StrategyUniform
	}
	if g.stddev == 0 {
		g.stddev = 20
	}
	return g, nil
}

// Strategy returns the active strategy.
func (g *Generator) Strategy() Strategy { return g.strategy }

// Range returns the inclusive output bounds.
func (g *Generator) Range() (min, max int) { return g.min, g.max }

// Generate returns a value for userID on day. Only StrategyHash is stable
// across calls.
func (g *Generator) Generate(userID string, day DayKey) int {
	switch g.strategy {
	case StrategyHash:
		return g.hash(userID, day)
	case StrategyNormal:
		return g.clamp(int(g.normFloat64()*g.stddev + float64(g.min+g.max)/2))
	case StrategySkewed:
		b := g.beta(8, 2)
		return g.clamp(g.min + int(b*float64(g.max-g.min)))
	case StrategyBimodal:
		return g.bimodal()
	default:
		return g.between(g.min, g.max)
	}
}

func (g *Generator) hash(userID string, day DayKey) int {
	sum := md5.Sum([]byte(userID + "_" + string(day)))
	n := new(big.Int).SetBytes(sum[:])
	span := big.NewInt(int64(g.max - g.min + 1))
	return int(n.Mod(n, span).Int64()) + g.min
}

func (g *Generator) bimodal() int {
	w := (g.max - g.min) / 5
	if g.float64() < g.extreme {
		if g.float64() < 0.5 {
			return g.between(g.min, g.min+w)
		}
		return g.between(g.max-w, g.max)
	}
	lo, hi := g.min+w+1, g.max-w-1
	if lo > hi {
		return g.between(g.min, g.max)
	}
	return g.between(lo, hi)
}

// beta draws Beta(a, b) for integer shapes via two gamma variates.
func (g *Generator) beta(a, b int) float64 {
	x := g.gamma(a)
	y := g.gamma(b)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// gamma draws Gamma(k, 1) for integer k as a sum of exponentials.
func (g *Generator) gamma(k int) float64 {
	var s float64
	for range k {
		s -= math.Log(1 - g.float64())
	}
	return s
}

func (g *Generator) clamp(v int) int {
	return max(g.min, min(g.max, v))
}

// between returns a uniform int in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.intN(hi-lo+1)
}

func (g *Generator) intN(n int) int {
	if g.rng == nil {
		return rand.IntN(n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.IntN(n)
}

func (g *Generator) float64() float64 {
	if g.rng == nil {
		return rand.Float64()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

func (g *Generator) normFloat64() float64 {
	if g.rng == nil {
		return rand.NormFloat64()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.NormFloat64()
}
