package template

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveStatement(t *testing.T, r *Resolver, doc, id string) Result {
	t.Helper()
	m := ParseMapper([]byte(doc))
	require.NoError(t, m.ParseErr)
	results, _ := r.ResolveMapper(m, nil)
	for _, res := range results {
		if res.ID == id {
			return res.Result
		}
	}
	t.Fatalf("statement %q not found", id)
	return Result{}
}

func TestResolver_WhereIfPlaceholder(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())
	res := r.ResolveString(`SELECT * FROM T <where><if test="x">AND C = #{x}</if></where>`, nil)

	assert.Contains(t, res.Text, "AND C = :x")
	assert.Equal(t, "SELECT * FROM T WHERE AND C = :x", res.Text)
	require.Len(t, res.Annotations, 1)
	assert.Equal(t, AnnotationOptional, res.Annotations[0].Kind)
	assert.Equal(t, "x", res.Annotations[0].Expr)
	assert.Equal(t, []string{"x"}, res.Params)
	assert.True(t, res.Dynamic)
	assert.False(t, res.Degraded)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestResolver_Binds(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())

	t.Run("CallerBound", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T WHERE C = #{x}`, map[string]string{"x": "'A'"})
		assert.Equal(t, "SELECT * FROM T WHERE C = 'A'", res.Text)
		assert.Empty(t, res.Params)
		assert.False(t, res.Dynamic)
		assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	})

	t.Run("DeclaredBindRemoved", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`<bind name="pattern" value="'%' || name || '%'"/>SELECT * FROM U WHERE N LIKE #{pattern}`, nil)
		assert.Equal(t, "SELECT * FROM U WHERE N LIKE '%' || name || '%'", res.Text)
		assert.NotContains(t, res.Text, "pattern")
	})

	t.Run("DeclaredOverridesCaller", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`<bind name="x" value="1"/>C = #{x}`, map[string]string{"x": "2"})
		assert.Equal(t, "C = 1", res.Text)
	})
}

func TestResolver_Includes(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())

	t.Run("Inline", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="com.acme.OrderMapper">
  <sql id="cols">ID, NAME</sql>
  <select id="find">SELECT <include refid="cols"/> FROM ORDERS</select>
</mapper>`
		res := resolveStatement(t, r, doc, "find")
		assert.Equal(t, "SELECT ID, NAME FROM ORDERS", res.Text)
		assert.Equal(t, []string{"cols"}, res.Includes)
		assert.Empty(t, res.Markers)
	})

	t.Run("QualifiedRefid", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns"><sql id="cols">A</sql><select id="s">SELECT <include refid="ns.cols"/> FROM T</select></mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "SELECT A FROM T", res.Text)
	})

	t.Run("CycleTerminates", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns">
  <sql id="a">A <include refid="b"/></sql>
  <sql id="b">B <include refid="a"/></sql>
  <select id="s">X <include refid="a"/></select>
</mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "X A B", res.Text)
		require.Len(t, res.Markers, 1)
		assert.Equal(t, MarkerCircularInclude, res.Markers[0].Kind)
		assert.Equal(t, "a", res.Markers[0].Ref)
		assert.Equal(t, 3, res.Visits)
	})

	t.Run("RepeatedInclude", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns"><sql id="c">C</sql><select id="s"><include refid="c"/> <include refid="c"/></select></mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "C", res.Text)
		require.Len(t, res.Markers, 1)
		assert.Equal(t, MarkerRepeatedInclude, res.Markers[0].Kind)
	})

	t.Run("MissingFragment", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns"><select id="s">SELECT <include refid="other.cols"/> FROM T</select></mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "SELECT FROM T", res.Text)
		require.Len(t, res.Markers, 1)
		assert.Equal(t, Marker{Kind: MarkerMissingInclude, Ref: "other.cols"}, res.Markers[0])
		assert.Equal(t, []string{"other.cols"}, res.Includes)
	})

	t.Run("PropertySubstitution", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns">
  <sql id="from">FROM ${table}</sql>
  <select id="s">SELECT * <include refid="from"><property name="table" value="ORDERS"/></include></select>
</mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "SELECT * FROM ORDERS", res.Text)
		assert.False(t, res.Dynamic)
	})

	t.Run("CacheNotMutated", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns"><sql id="f">F <if test="y">AND Y</if></sql><select id="s">S <include refid="f"/></select></mapper>`
		m := ParseMapper([]byte(doc))
		before := len(m.Tree.Nodes)
		results, cache := r.ResolveMapper(m, nil)
		require.Len(t, results, 2)
		assert.Equal(t, before, len(m.Tree.Nodes))
		ft, fn, ok := cache.Lookup("f")
		require.True(t, ok)
		assert.Equal(t, "F AND Y", strings.Join(strings.Fields(ft.Text(fn)), " "))
	})
}

func TestResolver_Choose(t *testing.T) {
	t.Parallel()

	doc := `<mapper namespace="ns"><select id="s">SELECT * FROM T WHERE 1=1
  <choose>
    <when test="a">AND A=1</when>
    <when test="b">AND B=1</when>
    <otherwise>AND C=1</otherwise>
  </choose></select></mapper>`

	t.Run("ConcatenatesBranches", func(t *testing.T) {
		t.Parallel()
		res := resolveStatement(t, NewResolver(DefaultOptions()), doc, "s")
		assert.Equal(t, "SELECT * FROM T WHERE 1=1 AND A=1 AND B=1 AND C=1", res.Text)
		require.Len(t, res.Annotations, 3)
		assert.Equal(t, "a", res.Annotations[0].Expr)
		assert.Equal(t, "b", res.Annotations[1].Expr)
		assert.Equal(t, "otherwise", res.Annotations[2].Expr)
		assert.Empty(t, res.Markers)
	})

	t.Run("MaxBranchCaps", func(t *testing.T) {
		t.Parallel()
		opts := DefaultOptions()
		opts.MaxBranch = 1
		res := resolveStatement(t, NewResolver(opts), doc, "s")
		assert.Equal(t, "SELECT * FROM T WHERE 1=1 AND A=1", res.Text)
		require.Len(t, res.Markers, 1)
		assert.Equal(t, Marker{Kind: MarkerTruncatedChoose, Ref: "1/3"}, res.Markers[0])
	})
}

func TestResolver_Foreach(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())
	res := r.ResolveString(`SELECT * FROM T WHERE ID IN <foreach collection="ids" item="id" open="(" separator="," close=")">#{id}</foreach>`, nil)

	assert.Equal(t, "SELECT * FROM T WHERE ID IN (:ids[])", res.Text)
	require.Len(t, res.Annotations, 1)
	assert.Equal(t, Annotation{Kind: AnnotationIteration, Tag: "foreach", Expr: "ids"}, res.Annotations[0])
	assert.Empty(t, res.Params)
}

func TestResolver_CompactTemplates(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())

	t.Run("ConditionAgainstText", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT a FROM T WHERE x = 1<if test="y">AND y = 2</if>`, nil)
		assert.Equal(t, "SELECT a FROM T WHERE x = 1 AND y = 2", res.Text)
	})

	t.Run("IncludeAgainstText", func(t *testing.T) {
		t.Parallel()
		doc := `<mapper namespace="ns"><sql id="t">ORDERS</sql><select id="s">SELECT * FROM <include refid="t"/>WHERE id = #{id}</select></mapper>`
		res := resolveStatement(t, r, doc, "s")
		assert.Equal(t, "SELECT * FROM ORDERS WHERE id = :id", res.Text)
	})

	t.Run("WrapperAgainstText", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T<where><if test="a">A = #{a}</if></where>ORDER BY A`, nil)
		assert.Equal(t, "SELECT * FROM T WHERE A = :a ORDER BY A", res.Text)
	})

	t.Run("IterationAgainstText", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T WHERE ID IN<foreach collection="ids" open="(" close=")">#{id}</foreach>AND X = 1`, nil)
		assert.Equal(t, "SELECT * FROM T WHERE ID IN (:ids[]) AND X = 1", res.Text)
	})

	t.Run("CDATAStaysInToken", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T WHERE A<![CDATA[<=]]>#{a}`, nil)
		assert.Equal(t, "SELECT * FROM T WHERE A<=:a", res.Text)
	})
}

func TestResolver_Wrappers(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())

	t.Run("Set", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`UPDATE T <set><if test="n">N = #{n},</if></set> WHERE ID = #{id}`, nil)
		assert.Equal(t, "UPDATE T SET N = :n, WHERE ID = :id", res.Text)
		assert.Equal(t, []string{"n", "id"}, res.Params)
		assert.Len(t, res.Annotations, 1)
	})

	t.Run("Trim", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`INSERT INTO T <trim prefix="(" suffix=")">A, B</trim>`, nil)
		assert.Equal(t, "INSERT INTO T ( A, B )", res.Text)
		assert.Empty(t, res.Annotations)
	})

	t.Run("SelectKeyDropped", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`<selectKey keyProperty="id">SELECT SEQ.NEXTVAL FROM DUAL</selectKey>INSERT INTO T (ID) VALUES (#{id})`, nil)
		assert.Equal(t, "INSERT INTO T (ID) VALUES (:id)", res.Text)
	})

	t.Run("DollarIsDynamic", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T ORDER BY ${col}`, nil)
		assert.Equal(t, "SELECT * FROM T ORDER BY :col", res.Text)
		assert.True(t, res.Dynamic)
	})
}

func TestResolver_Malformed(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultOptions())

	t.Run("Unterminated", func(t *testing.T) {
		t.Parallel()
		res := r.ResolveString(`SELECT * FROM T <where><if test="x">AND C = #{x}`, nil)
		assert.True(t, res.Degraded)
		assert.LessOrEqual(t, res.Confidence, 0.5)
		assert.Contains(t, res.Text, "SELECT * FROM T")
	})

	t.Run("NilTree", func(t *testing.T) {
		t.Parallel()
		res := r.Resolve(nil, 0, nil, nil)
		assert.True(t, res.Degraded)
		assert.Empty(t, res.Text)
	})

	t.Run("MapperParseErrorDegradesStatements", func(t *testing.T) {
		t.Parallel()
		m := ParseMapper([]byte(`<mapper namespace="ns"><select id="s">SELECT 1`))
		require.Error(t, m.ParseErr)
		results, _ := r.ResolveMapper(m, nil)
		require.Len(t, results, 1)
		assert.True(t, results[0].Degraded)
	})
}

func TestResolver_Deterministic(t *testing.T) {
	t.Parallel()

	doc := `<mapper namespace="ns">
  <sql id="w"><where><if test="a">A = #{a}</if><if test="b">AND B IN <foreach collection="bs" open="(" close=")">#{b}</foreach></if></where></sql>
  <select id="s">SELECT * FROM T <include refid="w"/> <choose><when test="c">ORDER BY C</when><otherwise>ORDER BY D</otherwise></choose></select>
</mapper>`
	r := NewResolver(DefaultOptions())
	first := resolveStatement(t, r, doc, "s")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, resolveStatement(t, r, doc, "s"))
	}
}

func TestResolver_TerminationBound(t *testing.T) {
	t.Parallel()

	// Every fragment includes every other fragment.
	const n = 5
	var b strings.Builder
	b.WriteString(`<mapper namespace="ns">`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<sql id="f%d">F%d`, i, i)
		for j := 0; j < n; j++ {
			fmt.Fprintf(&b, ` <include refid="f%d"/>`, j)
		}
		b.WriteString(`</sql>`)
	}
	b.WriteString(`<select id="s">S <include refid="f0"/></select></mapper>`)

	res := resolveStatement(t, NewResolver(DefaultOptions()), b.String(), "s")

	assert.LessOrEqual(t, res.Visits, n*n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, strings.Count(res.Text, fmt.Sprintf("F%d", i)))
	}
}
