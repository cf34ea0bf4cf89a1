// Package query builds and evaluates read-only queries over executions and
// their variables.
//
// A [Query] is a value: every refinement returns a new Query. Attribute
// filters narrow by ID, definition, business key, activity, or state;
// variable filters compare a named variable either local to the execution
// or on its instance root:
//
//	q := query.New().
//		Active().
//		VariableValueEquals("approved", true).
//		InstanceVariableValueGreaterThan("amount", 1000).
//		OrderByDefinitionKey().Asc()
//
//	page, err := engine.List(ctx, q, query.Page{MaxResults: 20})
//
// Predicates are checked when they are built. An empty variable name is a
// validation error, like on a non-string value is a type mismatch, and
// ordering operators on booleans or queries over byte arrays and objects
// are unsupported. An ordering without Asc or Desc fails evaluation with a
// validation error.
//
// [Engine] reads one consistent snapshot of executions and variables per
// call, so a concurrent task completion is either wholly visible or not at
// all.
package query
