// Package confidence scores analysis results and checks the scoring model
// against human-verified ground truth.
package confidence

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Weights are the additive factor weights. Their sum may fall outside
// [0, 1]; only the final score is clamped.
type Weights struct {
	AST       float64 `json:"ast" yaml:"ast"`
	Static    float64 `json:"static" yaml:"static"`
	DBMatch   float64 `json:"db_match" yaml:"db_match"`
	Heuristic float64 `json:"heuristic" yaml:"heuristic"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.AST + w.Static + w.DBMatch + w.Heuristic
}

func (w Weights) String() string {
	return fmt.Sprintf("ast=%.3f static=%.3f db=%.3f heuristic=%.3f", w.AST, w.Static, w.DBMatch, w.Heuristic)
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{AST: 0.4, Static: 0.3, DBMatch: 0.2, Heuristic: 0.1}
}

// Penalties are subtracted from the weighted score.
type Penalties struct {
	DynamicSQL        float64 `json:"dynamic_sql" yaml:"dynamic_sql"`
	Reflection        float64 `json:"reflection" yaml:"reflection"`
	ComplexExpression float64 `json:"complex_expression" yaml:"complex_expression"`
	NestingLevel      float64 `json:"nesting_level" yaml:"nesting_level"`
}

// DefaultPenalties returns the default complexity penalties.
func DefaultPenalties() Penalties {
	return Penalties{DynamicSQL: 0.15, Reflection: 0.25, ComplexExpression: 0.05, NestingLevel: 0.03}
}

// Bounds clamp the final score.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultBounds returns [0.1, 1.0].
func DefaultBounds() Bounds {
	return Bounds{Min: 0.1, Max: 1.0}
}

// Factors describe one analysed unit.
type Factors struct {
	FilePath   string
	ParserType string

	Parsed      bool
	ParseErrors int
	Classes     int
	Methods     int
	SQLUnits    int

	MatchedPatterns int
	TotalPatterns   int

	ReferencedTables int
	ConfirmedTables  int

	Complexity
}

// Complexity holds the code features that lower confidence.
type Complexity struct {
	DynamicSQL         bool `json:"dynamic_sql,omitempty"`
	Reflection         bool `json:"reflection,omitempty"`
	ComplexExpressions int  `json:"complex_expressions,omitempty"`
	NestingLevel       int  `json:"nesting_level,omitempty"`
}

// Breakdown records the sub-scores behind a score.
type Breakdown struct {
	AST       float64 `json:"ast"`
	Static    float64 `json:"static"`
	DBMatch   float64 `json:"db_match"`
	Heuristic float64 `json:"heuristic"`
	Penalty   float64 `json:"penalty"`
	Raw       float64 `json:"raw"`
	Score     float64 `json:"score"`
}

// Calculator computes confidence scores. It is immutable and safe for
// concurrent use.
type Calculator struct {
	weights   Weights
	penalties Penalties
	bounds    Bounds
}

// NewCalculator creates a calculator.
func NewCalculator(w Weights, p Penalties, b Bounds) *Calculator {
	return &Calculator{weights: w, penalties: p, bounds: b}
}

// DefaultCalculator uses the default weights, penalties and bounds.
func DefaultCalculator() *Calculator {
	return NewCalculator(DefaultWeights(), DefaultPenalties(), DefaultBounds())
}

// Weights returns the calculator weights.
func (c *Calculator) Weights() Weights { return c.weights }

// WithWeights returns a copy of c using w.
func (c *Calculator) WithWeights(w Weights) *Calculator {
	cp := *c
	cp.weights = w
	return &cp
}

// Calculate scores f.
func (c *Calculator) Calculate(f Factors) (float64, Breakdown) {
	b := Breakdown{
		AST:       astScore(f),
		Static:    staticScore(f),
		DBMatch:   dbScore(f),
		Heuristic: heuristicScore(f),
		Penalty:   c.penalty(f.Complexity),
	}
	b.Raw = c.weights.AST*b.AST +
		c.weights.Static*b.Static +
		c.weights.DBMatch*b.DBMatch +
		c.weights.Heuristic*b.Heuristic -
		b.Penalty
	b.Score = max(c.bounds.Min, min(c.bounds.Max, b.Raw))
	return b.Score, b
}

func astScore(f Factors) float64 {
	score := 1.0
	if !f.Parsed {
		score = 0.5
	}
	if f.ParseErrors > 0 {
		score = max(0.3, score-0.05*float64(f.ParseErrors))
	}
	if f.Classes > 0 {
		score += 0.1
	}
	if f.Methods > 0 {
		score += 0.1
	}
	return min(1.0, score)
}

func staticScore(f Factors) float64 {
	if f.TotalPatterns <= 0 {
		return 0.5
	}
	ratio := float64(f.MatchedPatterns) / float64(f.TotalPatterns)
	switch {
	case ratio >= 0.9:
		return 1.0
	case ratio >= 0.7:
		return 0.8
	case ratio >= 0.5:
		return 0.6
	case ratio >= 0.3:
		return 0.4
	default:
		return 0.2
	}
}

func dbScore(f Factors) float64 {
	if f.ReferencedTables <= 0 {
		return 0.5
	}
	ratio := float64(f.ConfirmedTables) / float64(f.ReferencedTables)
	switch {
	case ratio >= 0.8:
		return 1.0
	case ratio >= 0.5:
		return 0.8
	case ratio > 0:
		return 0.5
	default:
		return 0.2
	}
}

func heuristicScore(f Factors) float64 {
	score := 0.5
	switch strings.ToLower(filepath.Ext(f.FilePath)) {
	case ".java", ".xml":
		score += 0.2
	case ".jsp", ".sql":
		score += 0.1
	}
	switch strings.ToLower(f.ParserType) {
	case "java", "mybatis":
		score += 0.2
	case "jsp":
		score += 0.1
	}
	return min(1.0, score)
}

func (c *Calculator) penalty(x Complexity) float64 {
	p := 0.0
	if x.DynamicSQL {
		p += c.penalties.DynamicSQL
	}
	if x.Reflection {
		p += c.penalties.Reflection
	}
	p += float64(x.ComplexExpressions) * c.penalties.ComplexExpression
	p += float64(x.NestingLevel) * c.penalties.NestingLevel
	return p
}

// JoinFeatures describe one extracted join condition.
type JoinFeatures struct {
	Explicit          bool
	Equality          bool
	TablesIdentified  bool
	ColumnsIdentified bool
	Dynamic           bool
}

// JoinConfidence is the seed confidence of an extracted join.
func JoinConfidence(j JoinFeatures) float64 {
	c := 0.5
	if j.Explicit {
		c += 0.3
	} else {
		c += 0.1
	}
	if j.Equality {
		c += 0.2
	} else {
		c -= 0.1
	}
	if j.TablesIdentified {
		c += 0.2
	} else {
		c -= 0.2
	}
	if j.ColumnsIdentified {
		c += 0.2
	} else {
		c -= 0.2
	}
	if j.Dynamic {
		c -= 0.3
	}
	return max(0, min(1, c))
}

// TableConfidence is the seed confidence of a table usage found in text of
// the given confidence. declared is nil when no schema was consulted.
func TableConfidence(textConfidence float64, declared *bool) float64 {
	c := textConfidence
	if declared != nil {
		if *declared {
			c += 0.1
		} else {
			c -= 0.2
		}
	}
	return max(0.1, min(1, c))
}

var (
	reflectionRe = regexp.MustCompile(`\.getClass\(\)|Class\.forName|\.getDeclaredMethod`)
	ifRe         = regexp.MustCompile(`(?i)\bif\b`)
	nestedLoopRe = regexp.MustCompile(`(?is)\b(for|while)\b.*?\b(for|while)\b`)
)

// ScanComplexity derives complexity features from source or template text.
func ScanComplexity(code string) Complexity {
	var x Complexity
	x.DynamicSQL = strings.Contains(code, "${")
	x.Reflection = reflectionRe.MatchString(code)

	if n := len(ifRe.FindAllStringIndex(code, -1)); n > 5 {
		x.ComplexExpressions += n - 5
	}
	x.ComplexExpressions += len(nestedLoopRe.FindAllStringIndex(code, -1))

	depth, deepest := 0, 0
	for _, r := range code {
		switch r {
		case '{':
			depth++
			deepest = max(deepest, depth)
		case '}':
			depth = max(0, depth-1)
		}
	}
	x.NestingLevel = max(0, deepest-1)
	return x
}
