package api

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/query"
	"github.com/xraph/bpmcore/variable"
)

func (e *testEnv) createExecution(t *testing.T, key string, local map[string]any) *execution.Execution {
	t.Helper()
	ctx := context.Background()
	ex := execution.NewInstance(key+":1", key, "bk-"+key)
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if len(local) > 0 {
		vars, err := variable.OfMap(local)
		if err != nil {
			t.Fatalf("OfMap: %v", err)
		}
		if err := e.store.SetVariables(ctx, ex.ID, vars); err != nil {
			t.Fatalf("SetVariables: %v", err)
		}
	}
	return ex
}

func executionIDs(execs []*execution.Execution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID.String()
	}
	return out
}

func TestExecution_ListWithURLParameters(t *testing.T) {
	env := newTestEnv(t)
	small := env.createExecution(t, "order", map[string]any{"amount": 5, "customer": "acme_corp"})
	large := env.createExecution(t, "order", map[string]any{"amount": 50, "customer": "globex"})
	env.createExecution(t, "invoice", map[string]any{"amount": 500})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"definition key", "caseDefinitionKey=order&sortBy=caseExecutionId&sortOrder=asc", sorted(small.ID, large.ID)},
		{"number filter", "variables=amount_gt_10&caseDefinitionKey=order", []string{large.ID.String()}},
		{"combined filters", "variables=amount_gteq_5,amount_lt_50", []string{small.ID.String()}},
		{"underscore in value", "variables=customer_eq_acme_corp", []string{small.ID.String()}},
		{"like", "variables=customer_like_glob%25", []string{large.ID.String()}},
		{"business key", "businessKey=bk-invoice&enabled=true", nil},
		{"paging", "caseDefinitionKey=order&sortBy=caseExecutionId&sortOrder=asc&firstResult=1&maxResults=1", sorted(small.ID, large.ID)[1:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/execution?"+tt.query, "")
			expectStatus(t, resp, http.StatusOK)
			got := executionIDs(decode[[]*execution.Execution](t, resp))
			if tt.want == nil {
				if len(got) != 1 {
					t.Errorf("got %v, want one result", got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func sorted(a, b id.ExecutionID) []string {
	if a.Compare(b) < 0 {
		return []string{a.String(), b.String()}
	}
	return []string{b.String(), a.String()}
}

func TestExecution_QueryErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
		kind  string
	}{
		{"sortBy without sortOrder", "sortBy=caseExecutionId", "ValidationError"},
		{"sortOrder without sortBy", "sortOrder=asc", "ValidationError"},
		{"unknown sort field", "sortBy=businessKey&sortOrder=asc", "ValidationError"},
		{"malformed filter", "variables=amount", "ValidationError"},
		{"ordering on boolean", "variables=flag_gt_true", "UnsupportedOperationError"},
		{"bad execution id", "caseExecutionId=task_01h455vb4pex5vsknk084sn02q", "ValidationError"},
		{"negative page", "firstResult=-1", "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, http.MethodGet, "/execution?"+tt.query, ""), http.StatusBadRequest, tt.kind)
		})
	}
}

func TestExecution_PostQueryAndCount(t *testing.T) {
	env := newTestEnv(t)
	a := env.createExecution(t, "claim", map[string]any{"priority": 1})
	env.createExecution(t, "claim", map[string]any{"priority": 3})

	body := `{"caseDefinitionKey": "claim", "variables": [{"name": "priority", "operator": "lt", "value": 2}]}`
	resp := env.do(t, http.MethodPost, "/execution", body)
	expectStatus(t, resp, http.StatusOK)
	got := executionIDs(decode[[]*execution.Execution](t, resp))
	if len(got) != 1 || got[0] != a.ID.String() {
		t.Errorf("POST /execution = %v, want [%s]", got, a.ID)
	}

	count := decode[countResponse](t, env.do(t, http.MethodPost, "/execution/count", `{"caseDefinitionKey": "claim"}`))
	if count.Count != 2 {
		t.Errorf("POST /execution/count = %d, want 2", count.Count)
	}
	count = decode[countResponse](t, env.do(t, http.MethodGet, "/execution/count?variables=priority_neq_1", ""))
	if count.Count != 1 {
		t.Errorf("GET /execution/count = %d, want 1", count.Count)
	}

	sortedBody := `{"sorting": [{"sortBy": "caseDefinitionKey", "sortOrder": "desc"}]}`
	expectStatus(t, env.do(t, http.MethodPost, "/execution", sortedBody), http.StatusOK)
	expectError(t, env.do(t, http.MethodPost, "/execution", `{"sortBy": "caseDefinitionKey"}`), http.StatusBadRequest, "ValidationError")

	likeNumber := `{"variables": [{"name": "priority", "operator": "like", "value": 5}]}`
	expectError(t, env.do(t, http.MethodPost, "/execution", likeNumber), http.StatusBadRequest, "TypeMismatchError")
}

func TestExecution_GetAndLocalVariables(t *testing.T) {
	env := newTestEnv(t)
	ex := env.createExecution(t, "claim", map[string]any{"approved": true})
	path := "/execution/" + ex.ID.String()

	got := decode[execution.Execution](t, env.do(t, http.MethodGet, path, ""))
	if got.DefinitionKey != "claim" || got.State != execution.StateEnabled {
		t.Errorf("execution = %+v", got)
	}

	vars := decode[map[string]variable.Value](t, env.do(t, http.MethodGet, path+"/localVariables", ""))
	if b, ok := vars["approved"].Bool(); !ok || !b {
		t.Errorf("localVariables = %v", vars)
	}

	missing := "/execution/" + id.NewExecutionID().String()
	expectError(t, env.do(t, http.MethodGet, missing, ""), http.StatusNotFound, "NotFoundError")
	expectError(t, env.do(t, http.MethodGet, missing+"/localVariables", ""), http.StatusNotFound, "NotFoundError")
}

func TestExecution_Transitions(t *testing.T) {
	env := newTestEnv(t)
	ex := env.createExecution(t, "claim", nil)
	path := "/execution/" + ex.ID.String()

	steps := []struct {
		transition string
		status     int
		state      execution.State
	}{
		{"disable", http.StatusNoContent, execution.StateDisabled},
		{"manual-start", http.StatusConflict, execution.StateDisabled},
		{"reenable", http.StatusNoContent, execution.StateEnabled},
		{"manual-start", http.StatusNoContent, execution.StateActive},
		{"disable", http.StatusConflict, execution.StateActive},
		{"terminate", http.StatusNotFound, execution.StateActive},
	}
	for _, st := range steps {
		expectStatus(t, env.do(t, http.MethodPost, path+"/"+st.transition, ""), st.status)
		got := decode[execution.Execution](t, env.do(t, http.MethodGet, path, ""))
		if got.State != st.state {
			t.Fatalf("after %s: state = %q, want %q", st.transition, got.State, st.state)
		}
	}
}

func TestParseVariableExpr(t *testing.T) {
	tests := []struct {
		expr    string
		name    string
		op      query.Operator
		value   any
		wantErr bool
	}{
		{expr: "amount_gt_10", name: "amount", op: query.OpGreaterThan, value: 10.0},
		{expr: "flag_eq_true", name: "flag", op: query.OpEquals, value: true},
		{expr: "customer_name_eq_acme", name: "customer_name", op: query.OpEquals, value: "acme"},
		{expr: "pair_eq_a_lt_b", name: "pair", op: query.OpEquals, value: "a_lt_b"},
		{expr: "first_name_like_J%", name: "first_name", op: query.OpLike, value: "J%"},
		{expr: "code_like_10", name: "code", op: query.OpLike, value: "10"},
		{expr: "noop", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := parseVariableExpr(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseVariableExpr(%q) = %+v, want error", tt.expr, f)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVariableExpr(%q): %v", tt.expr, err)
			}
			if f.Name != tt.name || query.Operator(f.Operator) != tt.op || f.Value != tt.value {
				t.Errorf("parseVariableExpr(%q) = %+v", tt.expr, f)
			}
		})
	}
}

func TestQueryFromValues_States(t *testing.T) {
	q, err := queryFromValues(url.Values{"active": {"true"}})
	if err != nil {
		t.Fatalf("queryFromValues: %v", err)
	}
	if q.Filter().State != execution.StateActive {
		t.Errorf("State = %q, want active", q.Filter().State)
	}
	if _, err := queryFromValues(url.Values{"enabled": {"yes"}}); err == nil {
		t.Error("enabled=yes should fail")
	}
}
