package confidence

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// InsufficientDataError is returned when there are too few ground truth
// entries to calibrate.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient ground truth: have %d entries, need at least %d", e.Have, e.Need)
}

// Range is an inclusive weight range.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Values returns steps evenly spaced values from Min to Max.
func (r Range) Values(steps int) []float64 {
	if steps <= 1 {
		return []float64{r.Min}
	}
	out := make([]float64, steps)
	step := (r.Max - r.Min) / float64(steps-1)
	for i := range out {
		out[i] = r.Min + float64(i)*step
	}
	return out
}

// CalibrationParams configure the grid sweep.
type CalibrationParams struct {
	MinEntries     int     `yaml:"min_entries"`
	Steps          int     `yaml:"steps"`
	AST            Range   `yaml:"ast"`
	Static         Range   `yaml:"static"`
	DBMatch        Range   `yaml:"db_match"`
	HeuristicMin   float64 `yaml:"heuristic_min"`
	HeuristicMax   float64 `yaml:"heuristic_max"`
	TotalMin       float64 `yaml:"total_min"`
	TotalMax       float64 `yaml:"total_max"`
	MinImprovement float64 `yaml:"min_improvement"`
}

// DefaultCalibrationParams returns the default sweep.
func DefaultCalibrationParams() CalibrationParams {
	return CalibrationParams{
		MinEntries:     10,
		Steps:          5,
		AST:            Range{Min: 0.2, Max: 0.6},
		Static:         Range{Min: 0.1, Max: 0.4},
		DBMatch:        Range{Min: 0.1, Max: 0.3},
		HeuristicMin:   0.05,
		HeuristicMax:   0.15,
		TotalMin:       0.8,
		TotalMax:       1.2,
		MinImprovement: 0.02,
	}
}

// Recommendation is the outcome of a calibration run. It never changes the
// calculator it was computed for.
type Recommendation struct {
	Current     Weights `json:"current"`
	CurrentMAE  float64 `json:"current_mae"`
	Best        Weights `json:"best"`
	BestMAE     float64 `json:"best_mae"`
	Improvement float64 `json:"improvement"`
	Attempts    int     `json:"attempts"`
	Recommend   bool    `json:"recommend"`
}

// Apply returns a new calculator with the recommended weights, or calc
// itself when no change is recommended.
func (r *Recommendation) Apply(calc *Calculator) *Calculator {
	if !r.Recommend {
		return calc
	}
	return calc.WithWeights(r.Best)
}

// Calibrator searches for weights that minimize the mean absolute error.
type Calibrator struct {
	params CalibrationParams
}

// NewCalibrator creates a calibrator.
func NewCalibrator(p CalibrationParams) *Calibrator {
	return &Calibrator{params: p}
}

// Grid returns the candidate weights in evaluation order.
func (c *Calibrator) Grid() []Weights {
	p := c.params
	var grid []Weights
	for _, a := range p.AST.Values(p.Steps) {
		for _, s := range p.Static.Values(p.Steps) {
			for _, d := range p.DBMatch.Values(p.Steps) {
				h := max(p.HeuristicMin, min(p.HeuristicMax, 1-a-s-d))
				w := Weights{AST: a, Static: s, DBMatch: d, Heuristic: h}
				if total := w.Sum(); total < p.TotalMin || total > p.TotalMax {
					continue
				}
				grid = append(grid, w)
			}
		}
	}
	return grid
}

// Calibrate sweeps the grid in parallel. The best point is the first one in
// grid order with the lowest error.
func (c *Calibrator) Calibrate(ctx context.Context, calc *Calculator, entries []GroundTruthEntry) (*Recommendation, error) {
	if len(entries) < c.params.MinEntries {
		return nil, &InsufficientDataError{Have: len(entries), Need: c.params.MinEntries}
	}

	grid := c.Grid()
	errs := make([]float64, len(grid))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, w := range grid {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs[i] = meanAbsoluteError(calc.WithWeights(w), entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calibration sweep: %w", err)
	}

	rec := &Recommendation{
		Current:    calc.Weights(),
		CurrentMAE: meanAbsoluteError(calc, entries),
		Best:       calc.Weights(),
		Attempts:   len(grid),
	}
	rec.BestMAE = rec.CurrentMAE
	for i, e := range errs {
		if e < rec.BestMAE {
			rec.Best, rec.BestMAE = grid[i], e
		}
	}
	rec.Improvement = rec.CurrentMAE - rec.BestMAE
	rec.Recommend = rec.Improvement > c.params.MinImprovement
	return rec, nil
}
