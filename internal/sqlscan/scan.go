// Package sqlscan extracts structural facts (tables, qualified columns and
// column-equality joins) from flattened query text.
//
// The scanner is token based and deliberately shallow: it does not parse
// SQL, it recognizes the handful of shapes that name tables and join keys.
package sqlscan

import (
	"regexp"
	"strings"
)

// TableRef is a table named in a query.
type TableRef struct {
	Owner string
	Name  string
	Alias string
}

// FullName returns OWNER.NAME, or NAME when no owner is known.
func (t TableRef) FullName() string {
	if t.Owner == "" {
		return t.Name
	}
	return t.Owner + "." + t.Name
}

// ColumnRef is a qualified column reference resolved through aliases.
type ColumnRef struct {
	Table  string
	Column string
}

// JoinRef is a column-equality condition between two tables.
type JoinRef struct {
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string

	// Explicit is set when the condition appears in a JOIN ... ON clause.
	Explicit bool

	// Resolved is set when both qualifiers resolved to declared tables.
	Resolved bool
}

// Result is everything extracted from one query.
type Result struct {
	Tables  []TableRef
	Columns []ColumnRef
	Joins   []JoinRef
}

var tokenPattern = regexp.MustCompile(`'(?:[^']|'')*'|:[\w.]+(?:\[\])?|[A-Za-z_][\w$#]*(?:\.(?:[A-Za-z_][\w$#]*|\*))*|\d+(?:\.\d+)?|<>|!=|<=|>=|[=(),<>*;+\-/|]`)

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true,
	"NATURAL": true, "ON": true, "USING": true, "AND": true, "OR": true,
	"NOT": true, "SET": true, "VALUES": true, "GROUP": true, "ORDER": true,
	"BY": true, "HAVING": true, "UNION": true, "MINUS": true, "EXCEPT": true,
	"INTERSECT": true, "LIMIT": true, "OFFSET": true, "INTO": true, "AS": true,
	"WITH": true, "FOR": true, "CONNECT": true, "START": true, "RETURNING": true,
	"UPDATE": true, "DELETE": true, "INSERT": true, "MERGE": true, "WHEN": true,
	"THEN": true, "ELSE": true, "END": true, "CASE": true, "IN": true,
	"EXISTS": true, "IS": true, "NULL": true, "LIKE": true, "BETWEEN": true,
}

// pseudoTables are never reported as tables.
var pseudoTables = map[string]bool{"DUAL": true}

// Extract scans query text.
func Extract(sql string) Result {
	toks := tokenPattern.FindAllString(sql, -1)
	s := &scanner{toks: toks, aliases: make(map[string]string)}
	s.collectTables()
	s.collectColumnsAndJoins()
	return s.res
}

type scanner struct {
	toks    []string
	aliases map[string]string // upper alias or name -> full table name
	res     Result
}

func upper(s string) string { return strings.ToUpper(s) }

func isIdent(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// collectTables records every table after FROM, JOIN, UPDATE or INTO,
// including comma-separated FROM lists.
func (s *scanner) collectTables() {
	seen := make(map[string]bool)
	for i := 0; i < len(s.toks); i++ {
		kw := upper(s.toks[i])
		if kw != "FROM" && kw != "JOIN" && kw != "UPDATE" && kw != "INTO" {
			continue
		}
		for j := i + 1; j < len(s.toks); {
			ref, next, ok := s.readTable(j)
			if !ok {
				break
			}
			if !pseudoTables[upper(ref.Name)] {
				full := ref.FullName()
				s.aliases[upper(full)] = full
				s.aliases[upper(ref.Name)] = full
				if ref.Alias != "" {
					s.aliases[upper(ref.Alias)] = full
				}
				if !seen[upper(full)] {
					seen[upper(full)] = true
					s.res.Tables = append(s.res.Tables, ref)
				}
			}
			if kw != "FROM" || next >= len(s.toks) || s.toks[next] != "," {
				break
			}
			j = next + 1
		}
	}
}

// readTable reads "name [AS] [alias]" at position i.
func (s *scanner) readTable(i int) (TableRef, int, bool) {
	if i >= len(s.toks) {
		return TableRef{}, i, false
	}
	tok := s.toks[i]
	if !isIdent(tok) || keywords[upper(tok)] {
		return TableRef{}, i, false
	}

	var ref TableRef
	if dot := strings.LastIndexByte(tok, '.'); dot >= 0 {
		ref.Owner, ref.Name = tok[:dot], tok[dot+1:]
	} else {
		ref.Name = tok
	}

	next := i + 1
	if next < len(s.toks) && upper(s.toks[next]) == "AS" {
		next++
	}
	if next < len(s.toks) {
		alias := s.toks[next]
		if isIdent(alias) && !keywords[upper(alias)] && !strings.Contains(alias, ".") {
			ref.Alias = alias
			next++
		}
	}
	return ref, next, true
}

// collectColumnsAndJoins records qualified columns and a.x = b.y conditions.
func (s *scanner) collectColumnsAndJoins() {
	seenCol := make(map[string]bool)
	seenJoin := make(map[string]bool)
	inOn := false

	for i, tok := range s.toks {
		switch upper(tok) {
		case "ON":
			inOn = true
			continue
		case "WHERE", "JOIN", "GROUP", "ORDER", "HAVING", "SET", "UNION", "SELECT":
			inOn = false
			continue
		}

		table, col, ok := s.qualified(tok)
		if !ok {
			continue
		}
		key := upper(table + "." + col)
		if !seenCol[key] {
			seenCol[key] = true
			s.res.Columns = append(s.res.Columns, ColumnRef{Table: table, Column: col})
		}

		if i+2 >= len(s.toks) || s.toks[i+1] != "=" {
			continue
		}
		rtable, rcol, ok := s.qualified(s.toks[i+2])
		if !ok || strings.EqualFold(table, rtable) {
			continue
		}
		jkey := upper(table + "." + col + "=" + rtable + "." + rcol)
		if seenJoin[jkey] {
			continue
		}
		seenJoin[jkey] = true
		_, lok := s.aliases[upper(qualifier(tok))]
		_, rok := s.aliases[upper(qualifier(s.toks[i+2]))]
		s.res.Joins = append(s.res.Joins, JoinRef{
			LeftTable:   table,
			LeftColumn:  col,
			RightTable:  rtable,
			RightColumn: rcol,
			Explicit:    inOn,
			Resolved:    lok && rok,
		})
	}
}

// qualified splits "alias.column" and resolves the alias to a table name.
// Unknown qualifiers are kept as written.
func (s *scanner) qualified(tok string) (string, string, bool) {
	if !isIdent(tok) {
		return "", "", false
	}
	dot := strings.LastIndexByte(tok, '.')
	if dot <= 0 || dot == len(tok)-1 || tok[dot+1:] == "*" {
		return "", "", false
	}
	q, col := tok[:dot], tok[dot+1:]
	if table, ok := s.aliases[upper(q)]; ok {
		return table, col, true
	}
	// A bare OWNER.TABLE reference in a FROM list is not a column.
	if _, isTable := s.aliases[upper(tok)]; isTable {
		return "", "", false
	}
	return q, col, true
}

func qualifier(tok string) string {
	if dot := strings.LastIndexByte(tok, '.'); dot >= 0 {
		return tok[:dot]
	}
	return ""
}
