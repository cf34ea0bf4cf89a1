package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/query"
)

// executionQueryRequest is the JSON form of an execution query.
type executionQueryRequest struct {
	CaseExecutionID       string           `json:"caseExecutionId"`
	CaseInstanceID        string           `json:"caseInstanceId"`
	CaseDefinitionID      string           `json:"caseDefinitionId"`
	CaseDefinitionKey     string           `json:"caseDefinitionKey"`
	BusinessKey           string           `json:"businessKey"`
	ActivityID            string           `json:"activityId"`
	Enabled               bool             `json:"enabled"`
	Active                bool             `json:"active"`
	Disabled              bool             `json:"disabled"`
	Variables             []variableFilter `json:"variables"`
	CaseInstanceVariables []variableFilter `json:"caseInstanceVariables"`
	Sorting               []sorting        `json:"sorting"`
	SortBy                string           `json:"sortBy"`
	SortOrder             string           `json:"sortOrder"`
}

type variableFilter struct {
	Name     string `json:"name"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type sorting struct {
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

// build converts the request into a query.
func (req executionQueryRequest) build() (query.Query, error) {
	q := query.New()
	var err error
	if q, err = applyIDs(q, req.CaseExecutionID, req.CaseInstanceID); err != nil {
		return q, err
	}
	q = applyAttributes(q, req.CaseDefinitionID, req.CaseDefinitionKey, req.BusinessKey, req.ActivityID)
	q = applyStates(q, req.Enabled, req.Active, req.Disabled)

	for _, f := range req.Variables {
		if q, err = applyVariable(q, query.ScopeLocal, f); err != nil {
			return q, err
		}
	}
	for _, f := range req.CaseInstanceVariables {
		if q, err = applyVariable(q, query.ScopeInstance, f); err != nil {
			return q, err
		}
	}

	sorts := req.Sorting
	if req.SortBy != "" || req.SortOrder != "" {
		sorts = append(sorts, sorting{SortBy: req.SortBy, SortOrder: req.SortOrder})
	}
	for _, so := range sorts {
		if q, err = applySorting(q, so.SortBy, so.SortOrder); err != nil {
			return q, err
		}
	}
	return q, q.Validate()
}

// queryFromValues reads an execution query from URL parameters. Variable
// filters use the name_op_value encoding and may be repeated or
// comma-separated.
func queryFromValues(v url.Values) (query.Query, error) {
	req := executionQueryRequest{
		CaseExecutionID:   v.Get("caseExecutionId"),
		CaseInstanceID:    v.Get("caseInstanceId"),
		CaseDefinitionID:  v.Get("caseDefinitionId"),
		CaseDefinitionKey: v.Get("caseDefinitionKey"),
		BusinessKey:       firstOf(v, "businessKey", "caseInstanceBusinessKey"),
		ActivityID:        v.Get("activityId"),
		SortBy:            v.Get("sortBy"),
		SortOrder:         v.Get("sortOrder"),
	}
	var err error
	for _, flag := range []struct {
		key string
		dst *bool
	}{
		{"enabled", &req.Enabled},
		{"active", &req.Active},
		{"disabled", &req.Disabled},
	} {
		if *flag.dst, err = boolParam(v, flag.key); err != nil {
			return query.Query{}, err
		}
	}
	if req.Variables, err = variableParams(v["variables"]); err != nil {
		return query.Query{}, err
	}
	if req.CaseInstanceVariables, err = variableParams(v["caseInstanceVariables"]); err != nil {
		return query.Query{}, err
	}
	return req.build()
}

func applyIDs(q query.Query, execID, instanceID string) (query.Query, error) {
	if execID != "" {
		parsed, err := id.ParseExecutionID(execID)
		if err != nil {
			return q, fmt.Errorf("%w: caseExecutionId: %w", bpmcore.ErrValidation, err)
		}
		q = q.ExecutionID(parsed)
	}
	if instanceID != "" {
		parsed, err := id.ParseExecutionID(instanceID)
		if err != nil {
			return q, fmt.Errorf("%w: caseInstanceId: %w", bpmcore.ErrValidation, err)
		}
		q = q.InstanceID(parsed)
	}
	return q, nil
}

func applyAttributes(q query.Query, definitionID, definitionKey, businessKey, activityID string) query.Query {
	if definitionID != "" {
		q = q.DefinitionID(definitionID)
	}
	if definitionKey != "" {
		q = q.DefinitionKey(definitionKey)
	}
	if businessKey != "" {
		q = q.BusinessKey(businessKey)
	}
	if activityID != "" {
		q = q.ActivityID(activityID)
	}
	return q
}

func applyStates(q query.Query, enabled, active, disabled bool) query.Query {
	if enabled {
		q = q.Enabled()
	}
	if active {
		q = q.Active()
	}
	if disabled {
		q = q.Disabled()
	}
	return q
}

func applyVariable(q query.Query, scope query.Scope, f variableFilter) (query.Query, error) {
	p, err := query.NewVariablePredicate(scope, query.Operator(f.Operator), f.Name, f.Value)
	if err != nil {
		return q, err
	}
	return q.Where(p), nil
}

func applySorting(q query.Query, sortBy, sortOrder string) (query.Query, error) {
	if sortBy == "" {
		return q, fmt.Errorf("%w: sortOrder requires sortBy", bpmcore.ErrValidation)
	}
	field, err := query.ParseField(sortBy)
	if err != nil {
		return q, err
	}
	if sortOrder == "" {
		return q, fmt.Errorf("%w: sortBy requires sortOrder", bpmcore.ErrValidation)
	}
	dir, err := query.ParseDirection(sortOrder)
	if err != nil {
		return q, err
	}
	q = q.OrderBy(field)
	if dir == query.Descending {
		return q.Desc(), nil
	}
	return q.Asc(), nil
}

// variableParams parses name_op_value expressions. The operator is the
// left-most segment that names a known operator, so both the name and
// the value may contain underscores.
func variableParams(raw []string) ([]variableFilter, error) {
	var out []variableFilter
	for _, param := range raw {
		for _, expr := range strings.Split(param, ",") {
			if expr == "" {
				continue
			}
			f, err := parseVariableExpr(expr)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func parseVariableExpr(expr string) (variableFilter, error) {
	parts := strings.Split(expr, "_")
	for i := 1; i < len(parts)-1; i++ {
		op, err := query.ParseOperator(parts[i])
		if err != nil {
			continue
		}
		name := strings.Join(parts[:i], "_")
		value := strings.Join(parts[i+1:], "_")
		f := variableFilter{Name: name, Operator: string(op), Value: value}
		if op != query.OpLike {
			f.Value = inferValue(value)
		}
		return f, nil
	}
	return variableFilter{}, fmt.Errorf("%w: variable filter %q is not of the form name_op_value", bpmcore.ErrValidation, expr)
}

// inferValue reads a URL parameter as boolean, then number, then string.
func inferValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func boolParam(v url.Values, key string) (bool, error) {
	s := v.Get(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", bpmcore.ErrValidation, key, err)
	}
	return b, nil
}

func intParam(v url.Values, key string) (int, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", bpmcore.ErrValidation, key, err)
	}
	return n, nil
}

func pageFromValues(v url.Values) (query.Page, error) {
	first, err := intParam(v, "firstResult")
	if err != nil {
		return query.Page{}, err
	}
	maxResults, err := intParam(v, "maxResults")
	if err != nil {
		return query.Page{}, err
	}
	return query.Page{FirstResult: first, MaxResults: maxResults}, nil
}

func firstOf(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}
