// Package enhance adjusts join confidence against declared key metadata.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/schema"
)

// SchemaLookup answers key questions about declared tables.
type SchemaLookup interface {
	IsPrimaryKey(ctx context.Context, table, column string) (bool, error)
	FindTable(ctx context.Context, owner, name string) (schema.TableRef, bool, error)
}

// Params holds the enhancer constants.
type Params struct {
	InferredKeyFloor float64 `yaml:"inferred_key_floor"`
	BothKeysCeiling  float64 `yaml:"both_keys_ceiling"`
	CompositeBoost   float64 `yaml:"composite_boost"`
	Epsilon          float64 `yaml:"epsilon"`
}

// DefaultParams returns the default enhancer constants.
func DefaultParams() Params {
	return Params{
		InferredKeyFloor: 0.85,
		BothKeysCeiling:  0.6,
		CompositeBoost:   0.05,
		Epsilon:          0.01,
	}
}

// Validate checks that all constants are within [0, 1].
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"inferred_key_floor": p.InferredKeyFloor,
		"both_keys_ceiling":  p.BothKeysCeiling,
		"composite_boost":    p.CompositeBoost,
		"epsilon":            p.Epsilon,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("enhancer %s %.2f must be in [0, 1]", name, v)
		}
	}
	return nil
}

// Stats counts how joins were handled by one Enhance call. Each processed
// join lands in exactly one of Inferred, Downgraded, Boosted, Unchanged and
// Missed; Missed covers unchanged joins with a side absent from the schema.
type Stats struct {
	Inferred   int `json:"inferred"`
	Downgraded int `json:"downgraded"`
	Boosted    int `json:"boosted"`
	Unchanged  int `json:"unchanged"`
	Missed     int `json:"missed"`
	Skipped    int `json:"skipped"`
}

// Enhancer applies key rules to joins.
type Enhancer struct {
	lookup SchemaLookup
	params Params
	logger *slog.Logger
}

// New creates an enhancer. A nil logger means slog.Default().
func New(lookup SchemaLookup, p Params, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{lookup: lookup, params: p, logger: logger.With("component", "enhance")}
}

// Enhance processes every join whose Enhanced flag is false and marks it
// enhanced. Already enhanced joins are left untouched, so a second call is a
// no-op. Joins sharing a table pair are treated as one composite key.
func (e *Enhancer) Enhance(ctx context.Context, joins []*graph.Join) (Stats, error) {
	var stats Stats

	groups := make(map[[2]string]int, len(joins))
	for _, j := range joins {
		groups[pairKey(j)]++
	}

	keys := newKeyCache(e.lookup)
	for _, j := range joins {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if j.Enhanced {
			stats.Skipped++
			continue
		}

		leftPK, leftOK := keys.isPrimaryKey(ctx, e.logger, j.LeftTable, j.LeftColumn)
		rightPK, rightOK := keys.isPrimaryKey(ctx, e.logger, j.RightTable, j.RightColumn)
		composite := groups[pairKey(j)] >= 2

		current := j.Confidence
		next := current
		oneKey := leftOK && rightOK && leftPK != rightPK
		switch {
		case oneKey:
			next = max(next, e.params.InferredKeyFloor)
		case leftOK && rightOK && leftPK && rightPK:
			next = min(next, e.params.BothKeysCeiling)
		}
		if composite {
			next = min(1.0, next+e.params.CompositeBoost)
		}

		if oneKey {
			j.InferredKey = true
		}
		j.Enhanced = true

		if math.Abs(next-current) <= e.params.Epsilon {
			if !leftOK || !rightOK {
				stats.Missed++
			} else {
				stats.Unchanged++
			}
			continue
		}
		j.Confidence = next

		switch {
		case oneKey:
			stats.Inferred++
		case next < current:
			stats.Downgraded++
		default:
			stats.Boosted++
		}
	}

	e.logger.Debug("joins enhanced",
		"inferred", stats.Inferred,
		"downgraded", stats.Downgraded,
		"boosted", stats.Boosted,
		"unchanged", stats.Unchanged,
		"missed", stats.Missed)
	return stats, nil
}

func pairKey(j *graph.Join) [2]string {
	l, r := j.TablePair()
	return [2]string{l, r}
}

// keyCache memoizes primary-key answers for one Enhance call.
type keyCache struct {
	lookup SchemaLookup
	known  map[string]cachedKey
}

type cachedKey struct {
	pk, ok bool
}

func newKeyCache(l SchemaLookup) *keyCache {
	return &keyCache{lookup: l, known: make(map[string]cachedKey)}
}

// isPrimaryKey reports (pk, ok). ok is false when the table is unknown or
// the lookup failed.
func (c *keyCache) isPrimaryKey(ctx context.Context, logger *slog.Logger, table, column string) (bool, bool) {
	if c.lookup == nil || table == "" || column == "" {
		return false, false
	}
	key := strings.ToUpper(table) + "|" + strings.ToUpper(column)
	if v, hit := c.known[key]; hit {
		return v.pk, v.ok
	}

	owner, name := schema.SplitTableName(table)
	ref, found, err := c.lookup.FindTable(ctx, owner, name)
	if err != nil {
		logger.Warn("table lookup failed", "table", table, "error", err)
		c.known[key] = cachedKey{}
		return false, false
	}
	if !found {
		logger.Debug("table not in schema", "table", table)
		c.known[key] = cachedKey{}
		return false, false
	}

	pk, err := c.lookup.IsPrimaryKey(ctx, ref.FullName(), column)
	if err != nil {
		logger.Warn("primary key lookup failed", "table", ref.FullName(), "column", column, "error", err)
		c.known[key] = cachedKey{}
		return false, false
	}
	c.known[key] = cachedKey{pk: pk, ok: true}
	return pk, true
}
