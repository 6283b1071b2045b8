package fhir

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

// SearchParamType defines the FHIR search parameter type.
type SearchParamType int

const (
	SearchParamToken  SearchParamType = iota // Token: exact match, accepts system|code values
	SearchParamDate                          // Date: supports prefixes (gt, lt, ge, le, ne, eq)
	SearchParamString                        // String: case-insensitive prefix match, supports :exact, :contains
)

// SearchParamConfig maps a FHIR search parameter to its database column.
type SearchParamConfig struct {
	Type   SearchParamType
	Column string
}

// SearchQuery builds SQL WHERE clauses from FHIR search parameters.
// It encapsulates the search pattern shared by the count and data queries:
// both run against the same WHERE clause and argument list.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a new SearchQuery for the given table and columns.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// Idx returns the next available parameter index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a raw WHERE clause fragment (without leading "AND").
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddToken adds a token search clause. Handles system|code or bare code values.
func (q *SearchQuery) AddToken(column, value string) {
	clause, args, nextIdx := TokenSearchClause(column, value, q.idx)
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx = nextIdx
}

// AddDate adds a date search clause with FHIR prefix support (gt, lt, ge, le, ne).
func (q *SearchQuery) AddDate(column, value string) {
	clause, args, nextIdx := DateSearchClause(column, value, q.idx)
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx = nextIdx
}

// AddString adds a string search clause with modifier support (exact, contains, prefix).
func (q *SearchQuery) AddString(column, value string, modifier SearchModifier) {
	clause, args, nextIdx := StringSearchClause(column, value, modifier, q.idx)
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx = nextIdx
}

// ApplyParam applies a single FHIR search parameter using the config.
func (q *SearchQuery) ApplyParam(config SearchParamConfig, value string) {
	switch config.Type {
	case SearchParamDate:
		q.AddDate(config.Column, value)
	case SearchParamToken:
		q.AddToken(config.Column, value)
	case SearchParamString:
		q.AddString(config.Column, value, "")
	}
}

// ApplyParams applies all matching FHIR search parameters from the given map.
// Params without a config entry are ignored.
func (q *SearchQuery) ApplyParams(params map[string]string, configs map[string]SearchParamConfig) {
	for name, value := range params {
		if config, ok := configs[name]; ok {
			q.ApplyParam(config, value)
		}
	}
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// CountSQL returns the count query SQL.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// CountArgs returns the arguments for the count query.
func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET placeholders.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// ExtractSearchParams extracts all FHIR search parameters from the query
// string, excluding control parameters (_count, _offset and friends). Unknown
// params are included; ApplyParams drops ones the repo has no config for.
func ExtractSearchParams(c echo.Context) map[string]string {
	params := map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) == 0 || strings.HasPrefix(k, "_") {
			continue
		}
		params[k] = v[0]
	}
	return params
}
