package confidence

import (
	"errors"
	"math"
	"sort"
)

// ErrNoGroundTruth is returned when there is nothing to validate against.
var ErrNoGroundTruth = errors.New("no ground truth entries")

// Error thresholds for the accuracy buckets.
const (
	ExcellentError  = 0.05
	GoodError       = 0.10
	AcceptableError = 0.20
)

// GroundTruthEntry is one human-verified expectation.
type GroundTruthEntry struct {
	FilePath           string     `json:"file_path"`
	ParserType         string     `json:"parser_type"`
	ExpectedConfidence float64    `json:"expected_confidence"`
	Classes            int        `json:"classes"`
	Methods            int        `json:"methods"`
	SQLUnits           int        `json:"sql_units"`
	VerifiedTables     []string   `json:"verified_tables,omitempty"`
	ParseFailed        bool       `json:"parse_failed,omitempty"`
	ParseErrors        int        `json:"parse_errors,omitempty"`
	MatchedPatterns    int        `json:"matched_patterns,omitempty"`
	TotalPatterns      int        `json:"total_patterns,omitempty"`
	Complexity         Complexity `json:"complexity"`
	Notes              string     `json:"notes,omitempty"`
	Verifier           string     `json:"verifier,omitempty"`
	VerifiedAt         string     `json:"verified_at,omitempty"`
}

// ID identifies an entry in reports.
func (e GroundTruthEntry) ID() string {
	return e.FilePath + ":" + e.ParserType
}

// Factors converts the entry into calculator input. Verified tables count as
// both referenced and confirmed.
func (e GroundTruthEntry) Factors() Factors {
	return Factors{
		FilePath:         e.FilePath,
		ParserType:       e.ParserType,
		Parsed:           !e.ParseFailed,
		ParseErrors:      e.ParseErrors,
		Classes:          e.Classes,
		Methods:          e.Methods,
		SQLUnits:         e.SQLUnits,
		MatchedPatterns:  e.MatchedPatterns,
		TotalPatterns:    e.TotalPatterns,
		ReferencedTables: len(e.VerifiedTables),
		ConfirmedTables:  len(e.VerifiedTables),
		Complexity:       e.Complexity,
	}
}

// ValidationResult is the divergence of one prediction.
type ValidationResult struct {
	ID            string    `json:"id"`
	ParserType    string    `json:"parser_type"`
	Predicted     float64   `json:"predicted"`
	Expected      float64   `json:"expected"`
	AbsoluteError float64   `json:"absolute_error"`
	RelativeError float64   `json:"relative_error"`
	Breakdown     Breakdown `json:"breakdown"`
}

// Buckets count predictions by absolute error.
type Buckets struct {
	Excellent  int `json:"excellent"`
	Good       int `json:"good"`
	Acceptable int `json:"acceptable"`
	Poor       int `json:"poor"`
}

// ParserStats summarizes the predictions of one parser type.
type ParserStats struct {
	Count             int     `json:"count"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
}

// Report is the outcome of Validate.
type Report struct {
	Count               int                    `json:"count"`
	MeanAbsoluteError   float64                `json:"mean_absolute_error"`
	MedianAbsoluteError float64                `json:"median_absolute_error"`
	StdAbsoluteError    float64                `json:"std_absolute_error"`
	MeanRelativeError   float64                `json:"mean_relative_error"`
	Buckets             Buckets                `json:"buckets"`
	ByParser            map[string]ParserStats `json:"by_parser"`
	Worst               []ValidationResult     `json:"worst"`
	Results             []ValidationResult     `json:"results"`
}

// Validate compares calculator predictions with the ground truth.
func Validate(calc *Calculator, entries []GroundTruthEntry) (*Report, error) {
	if len(entries) == 0 {
		return nil, ErrNoGroundTruth
	}

	rep := &Report{
		Count:    len(entries),
		ByParser: make(map[string]ParserStats),
		Results:  make([]ValidationResult, 0, len(entries)),
	}
	abs := make([]float64, 0, len(entries))
	var relSum float64

	for _, e := range entries {
		pred, b := calc.Calculate(e.Factors())
		ae := math.Abs(pred - e.ExpectedConfidence)
		re := ae / max(e.ExpectedConfidence, 0.01)

		rep.Results = append(rep.Results, ValidationResult{
			ID:            e.ID(),
			ParserType:    e.ParserType,
			Predicted:     pred,
			Expected:      e.ExpectedConfidence,
			AbsoluteError: ae,
			RelativeError: re,
			Breakdown:     b,
		})
		abs = append(abs, ae)
		relSum += re

		switch {
		case ae <= ExcellentError:
			rep.Buckets.Excellent++
		case ae <= GoodError:
			rep.Buckets.Good++
		case ae <= AcceptableError:
			rep.Buckets.Acceptable++
		default:
			rep.Buckets.Poor++
		}

		ps := rep.ByParser[e.ParserType]
		ps.MeanAbsoluteError = (ps.MeanAbsoluteError*float64(ps.Count) + ae) / float64(ps.Count+1)
		ps.Count++
		rep.ByParser[e.ParserType] = ps
	}

	n := float64(len(abs))
	rep.MeanAbsoluteError = mean(abs)
	rep.MedianAbsoluteError = median(abs)
	rep.StdAbsoluteError = stdev(abs, rep.MeanAbsoluteError)
	rep.MeanRelativeError = relSum / n

	worst := append([]ValidationResult(nil), rep.Results...)
	sort.SliceStable(worst, func(i, j int) bool {
		return worst[i].AbsoluteError > worst[j].AbsoluteError
	})
	if len(worst) > 5 {
		worst = worst[:5]
	}
	rep.Worst = worst
	return rep, nil
}

// meanAbsoluteError is the calibration objective.
func meanAbsoluteError(calc *Calculator, entries []GroundTruthEntry) float64 {
	if len(entries) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, e := range entries {
		pred, _ := calc.Calculate(e.Factors())
		sum += math.Abs(pred - e.ExpectedConfidence)
	}
	return sum / float64(len(entries))
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// stdev is the sample standard deviation; zero for fewer than two values.
func stdev(v []float64, m float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}
