package confidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    Factors
		want float64
	}{
		{
			name: "well understood java file",
			f: Factors{
				FilePath: "src/OrderDao.java", ParserType: "java",
				Parsed: true, Classes: 1, Methods: 3,
				MatchedPatterns: 9, TotalPatterns: 10,
				ReferencedTables: 2, ConfirmedTables: 2,
			},
			want: 0.4*1.0 + 0.3*1.0 + 0.2*1.0 + 0.1*0.9,
		},
		{
			name: "clamped to minimum",
			f: Factors{
				ParseErrors: 10,
				Complexity:  Complexity{DynamicSQL: true, Reflection: true},
			},
			want: 0.1,
		},
		{
			name: "neutral mapper",
			f: Factors{
				FilePath: "OrderMapper.xml", ParserType: "mybatis",
				Parsed: true, SQLUnits: 4,
				Complexity: Complexity{DynamicSQL: true, NestingLevel: 2},
			},
			want: 0.4*1.0 + 0.3*0.5 + 0.2*0.5 + 0.1*0.9 - 0.15 - 0.06,
		},
	}

	calc := DefaultCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, b := calc.Calculate(tt.f)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.InDelta(t, got, b.Score, 1e-9)
		})
	}
}

func TestSubScores(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.3, astScore(Factors{ParseErrors: 8}), 1e-9)
	assert.InDelta(t, 0.95, astScore(Factors{Parsed: true, ParseErrors: 1}), 1e-9)
	assert.InDelta(t, 0.6, staticScore(Factors{MatchedPatterns: 5, TotalPatterns: 10}), 1e-9)
	assert.InDelta(t, 0.2, staticScore(Factors{MatchedPatterns: 1, TotalPatterns: 10}), 1e-9)
	assert.InDelta(t, 0.8, dbScore(Factors{ReferencedTables: 4, ConfirmedTables: 2}), 1e-9)
	assert.InDelta(t, 0.2, dbScore(Factors{ReferencedTables: 4}), 1e-9)
	assert.InDelta(t, 0.6, heuristicScore(Factors{FilePath: "q.sql"}), 1e-9)
	assert.InDelta(t, 0.6, heuristicScore(Factors{FilePath: "page.txt", ParserType: "jsp"}), 1e-9)
}

func TestJoinConfidence(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, JoinConfidence(JoinFeatures{Explicit: true, Equality: true, TablesIdentified: true, ColumnsIdentified: true}), 1e-9)
	assert.InDelta(t, 0.9, JoinConfidence(JoinFeatures{Equality: true, TablesIdentified: true, ColumnsIdentified: true, Dynamic: true}), 1e-9)
	assert.InDelta(t, 0.1, JoinConfidence(JoinFeatures{}), 1e-9)
}

func TestTableConfidence(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	assert.InDelta(t, 0.9, TableConfidence(0.9, nil), 1e-9)
	assert.InDelta(t, 0.8, TableConfidence(0.7, &yes), 1e-9)
	assert.InDelta(t, 0.5, TableConfidence(0.7, &no), 1e-9)
	assert.InDelta(t, 0.1, TableConfidence(0.2, &no), 1e-9)
}

func TestScanComplexity(t *testing.T) {
	t.Parallel()

	x := ScanComplexity("SELECT * FROM ${table} WHERE id = #{id}")
	assert.True(t, x.DynamicSQL)
	assert.False(t, x.Reflection)

	x = ScanComplexity("void f() { if (a) { Class.forName(n); } }")
	assert.False(t, x.DynamicSQL)
	assert.True(t, x.Reflection)
	assert.Equal(t, 1, x.NestingLevel)

	x = ScanComplexity("if if if if if if if for (;;) { while (x) {} }")
	assert.Equal(t, 3, x.ComplexExpressions)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	calc := DefaultCalculator()
	base := GroundTruthEntry{FilePath: "A.java", ParserType: "java", Classes: 1, Methods: 1}
	pred, _ := calc.Calculate(base.Factors())

	deltas := []float64{0, 0.07, 0.15, 0.3}
	entries := make([]GroundTruthEntry, len(deltas))
	for i, d := range deltas {
		e := base
		e.FilePath = fmt.Sprintf("F%d.java", i)
		e.ExpectedConfidence = pred - d
		entries[i] = e
	}
	entries[3].ParserType = "mybatis"
	entries[3].FilePath = "F3.java"

	rep, err := Validate(calc, entries)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Count)
	assert.Equal(t, Buckets{Excellent: 1, Good: 1, Acceptable: 1, Poor: 1}, rep.Buckets)
	assert.InDelta(t, 0.13, rep.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, 0.11, rep.MedianAbsoluteError, 1e-9)
	assert.Greater(t, rep.StdAbsoluteError, 0.0)
	require.Len(t, rep.Worst, 4)
	assert.Equal(t, "F3.java:mybatis", rep.Worst[0].ID)
	assert.Equal(t, 3, rep.ByParser["java"].Count)
	assert.Equal(t, 1, rep.ByParser["mybatis"].Count)

	_, err = Validate(calc, nil)
	assert.ErrorIs(t, err, ErrNoGroundTruth)
}

// calibrationEntries builds entries whose expected values come from target.
func calibrationEntries(n int, target Weights) []GroundTruthEntry {
	truth := NewCalculator(target, DefaultPenalties(), DefaultBounds())
	entries := make([]GroundTruthEntry, n)
	for i := range entries {
		e := GroundTruthEntry{
			FilePath:      fmt.Sprintf("Mapper%d.xml", i),
			ParserType:    "mybatis",
			SQLUnits:      i + 1,
			TotalPatterns: 10,
			Complexity:    Complexity{ComplexExpressions: i % 3},
		}
		e.ExpectedConfidence, _ = truth.Calculate(e.Factors())
		entries[i] = e
	}
	return entries
}

func TestCalibrate_InsufficientData(t *testing.T) {
	t.Parallel()

	entries := calibrationEntries(5, DefaultWeights())
	rec, err := NewCalibrator(DefaultCalibrationParams()).Calibrate(context.Background(), DefaultCalculator(), entries)
	require.Error(t, err)
	assert.Nil(t, rec)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Have)
	assert.Equal(t, 10, insufficient.Need)
}

func TestCalibrate_FindsBetterWeights(t *testing.T) {
	t.Parallel()

	target := Weights{AST: 0.6, Static: 0.1, DBMatch: 0.1, Heuristic: 0.15}
	entries := calibrationEntries(12, target)
	calc := DefaultCalculator()

	rec, err := NewCalibrator(DefaultCalibrationParams()).Calibrate(context.Background(), calc, entries)
	require.NoError(t, err)

	assert.True(t, rec.Recommend)
	assert.InDelta(t, 0, rec.BestMAE, 1e-9)
	assert.Greater(t, rec.Improvement, 0.02)
	assert.Positive(t, rec.Attempts)

	applied := rec.Apply(calc)
	assert.Equal(t, rec.Best, applied.Weights())
	assert.Equal(t, DefaultWeights(), calc.Weights())

	again, err := NewCalibrator(DefaultCalibrationParams()).Calibrate(context.Background(), calc, entries)
	require.NoError(t, err)
	assert.Equal(t, rec.Best, again.Best)
}

func TestCalibrate_NoImprovementKeepsWeights(t *testing.T) {
	t.Parallel()

	entries := calibrationEntries(10, DefaultWeights())
	calc := DefaultCalculator()

	rec, err := NewCalibrator(DefaultCalibrationParams()).Calibrate(context.Background(), calc, entries)
	require.NoError(t, err)
	assert.False(t, rec.Recommend)
	assert.Same(t, calc, rec.Apply(calc))
}

func TestCalibrate_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCalibrator(DefaultCalibrationParams()).Calibrate(ctx, DefaultCalculator(), calibrationEntries(10, DefaultWeights()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrator_Grid(t *testing.T) {
	t.Parallel()

	grid := NewCalibrator(DefaultCalibrationParams()).Grid()
	require.NotEmpty(t, grid)
	assert.LessOrEqual(t, len(grid), 125)
	for _, w := range grid {
		assert.GreaterOrEqual(t, w.Sum(), 0.8-1e-9)
		assert.LessOrEqual(t, w.Sum(), 1.2+1e-9)
		assert.GreaterOrEqual(t, w.Heuristic, 0.05-1e-9)
		assert.LessOrEqual(t, w.Heuristic, 0.15+1e-9)
	}
}

func TestGroundTruthRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gt", "truth.json")
	entries := calibrationEntries(3, DefaultWeights())
	entries[0].VerifiedTables = []string{"ORDERS"}

	require.NoError(t, SaveGroundTruth(path, entries))
	loaded, err := LoadGroundTruth(path)
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestLoadGroundTruth_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"confidence out of range", `{"version":1,"entries":[{"file_path":"a.xml","parser_type":"mybatis","expected_confidence":1.5}]}`},
		{"missing parser type", `{"version":1,"entries":[{"file_path":"a.xml","expected_confidence":0.5}]}`},
		{"missing entries", `{"version":1}`},
		{"not json", `{`},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, fmt.Sprintf("bad%d.json", i))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadGroundTruth(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadGroundTruth(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
