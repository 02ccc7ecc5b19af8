package enhance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/axon-sql/internal/graph"
	"github.com/Benny93/axon-sql/internal/schema"
)

func shopSchema() *schema.MemoryStore {
	s := schema.NewMemoryStore()
	s.AddColumn(schema.Column{Table: schema.TableRef{Owner: "APP", Name: "CUSTOMERS"}, Name: "ID", PrimaryKey: true})
	s.AddColumn(schema.Column{Table: schema.TableRef{Owner: "APP", Name: "CUSTOMERS"}, Name: "REGION"})
	s.AddColumn(schema.Column{Table: schema.TableRef{Owner: "APP", Name: "ORDERS"}, Name: "ID", PrimaryKey: true})
	s.AddColumn(schema.Column{Table: schema.TableRef{Owner: "APP", Name: "ORDERS"}, Name: "CUSTOMER_ID"})
	s.AddColumn(schema.Column{Table: schema.TableRef{Owner: "APP", Name: "ORDERS"}, Name: "REGION"})
	return s
}

func join(id, lt, lc, rt, rc string, conf float64) *graph.Join {
	return &graph.Join{ID: id, LeftTable: lt, LeftColumn: lc, RightTable: rt, RightColumn: rc, Confidence: conf}
}

func TestEnhance_InferredKeyComposite(t *testing.T) {
	t.Parallel()

	joins := []*graph.Join{
		join("j1", "ORDERS", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.6),
		join("j2", "orders", "REGION", "customers", "REGION", 0.6),
	}
	e := New(shopSchema(), DefaultParams(), nil)

	stats, err := e.Enhance(context.Background(), joins)
	require.NoError(t, err)

	// j1: one key side -> 0.85, composite -> 0.90.
	assert.InDelta(t, 0.90, joins[0].Confidence, 1e-9)
	assert.True(t, joins[0].InferredKey)
	// j2: no key side, composite only.
	assert.InDelta(t, 0.65, joins[1].Confidence, 1e-9)
	assert.False(t, joins[1].InferredKey)

	for _, j := range joins {
		assert.True(t, j.Enhanced)
	}
	assert.Equal(t, 1, stats.Inferred)
	assert.Equal(t, 1, stats.Boosted)
}

func TestEnhance_OrdersCustomersBothInferred(t *testing.T) {
	t.Parallel()

	joins := []*graph.Join{
		join("j1", "ORDERS", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.5),
		join("j2", "APP.ORDERS", "CUSTOMER_ID", "APP.CUSTOMERS", "ID", 0.5),
	}
	e := New(shopSchema(), DefaultParams(), nil)

	_, err := e.Enhance(context.Background(), joins[:1])
	require.NoError(t, err)
	_, err = e.Enhance(context.Background(), joins[1:])
	require.NoError(t, err)

	for _, j := range joins {
		assert.GreaterOrEqual(t, j.Confidence, 0.85, j.ID)
		assert.True(t, j.InferredKey, j.ID)
	}
}

func TestEnhance_Idempotent(t *testing.T) {
	t.Parallel()

	joins := []*graph.Join{
		join("j1", "ORDERS", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.6),
		join("j2", "ORDERS", "REGION", "CUSTOMERS", "REGION", 0.6),
		join("j3", "ORDERS", "ID", "CUSTOMERS", "ID", 0.9),
	}
	e := New(shopSchema(), DefaultParams(), nil)

	_, err := e.Enhance(context.Background(), joins)
	require.NoError(t, err)
	first := make([]graph.Join, len(joins))
	for i, j := range joins {
		first[i] = *j
	}

	stats, err := e.Enhance(context.Background(), joins)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	for i, j := range joins {
		assert.Equal(t, first[i], *j)
	}
}

func TestEnhance_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		join     *graph.Join
		want     float64
		inferred bool
	}{
		{
			name: "both keys capped",
			join: join("j", "ORDERS", "ID", "CUSTOMERS", "ID", 0.9),
			want: 0.6,
		},
		{
			name:     "one key already high",
			join:     join("j", "CUSTOMERS", "ID", "ORDERS", "CUSTOMER_ID", 0.95),
			want:     0.95,
			inferred: true,
		},
		{
			name: "no keys unchanged",
			join: join("j", "ORDERS", "REGION", "CUSTOMERS", "REGION", 0.4),
			want: 0.4,
		},
		{
			name: "schema miss withholds boost",
			join: join("j", "INVOICES", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.4),
			want: 0.4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(shopSchema(), DefaultParams(), nil)
			_, err := e.Enhance(context.Background(), []*graph.Join{tt.join})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, tt.join.Confidence, 1e-9)
			assert.Equal(t, tt.inferred, tt.join.InferredKey)
			assert.True(t, tt.join.Enhanced)
		})
	}
}

func TestEnhance_EpsilonSuppressesSmallChanges(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.CompositeBoost = 0.005
	joins := []*graph.Join{
		join("j1", "ORDERS", "REGION", "CUSTOMERS", "REGION", 0.5),
		join("j2", "ORDERS", "REGION", "CUSTOMERS", "REGION", 0.5),
	}

	stats, err := New(shopSchema(), p, nil).Enhance(context.Background(), joins)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unchanged)
	assert.InDelta(t, 0.5, joins[0].Confidence, 1e-9)
}

type failingLookup struct{}

func (failingLookup) IsPrimaryKey(context.Context, string, string) (bool, error) {
	return false, errors.New("boom")
}

func (failingLookup) FindTable(context.Context, string, string) (schema.TableRef, bool, error) {
	return schema.TableRef{}, false, errors.New("connection refused")
}

func TestEnhance_LookupErrorsAreNonFatal(t *testing.T) {
	t.Parallel()

	j := join("j1", "ORDERS", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.5)
	stats, err := New(failingLookup{}, DefaultParams(), nil).Enhance(context.Background(), []*graph.Join{j})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Missed)
	assert.InDelta(t, 0.5, j.Confidence, 1e-9)
	assert.True(t, j.Enhanced)
}

func TestEnhance_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := join("j1", "ORDERS", "CUSTOMER_ID", "CUSTOMERS", "ID", 0.5)
	_, err := New(shopSchema(), DefaultParams(), nil).Enhance(ctx, []*graph.Join{j})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, j.Enhanced)
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultParams().Validate())
	p := DefaultParams()
	p.InferredKeyFloor = 1.5
	assert.Error(t, p.Validate())
}
