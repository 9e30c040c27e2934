package gql

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Operation kinds as they appear in a GraphQL document.
const (
	KindQuery        = string(ast.Query)
	KindMutation     = string(ast.Mutation)
	KindSubscription = string(ast.Subscription)
	kindUnknown      = "unknown"
)

// Operation is a single GraphQL request: a document and its variables. Operations are
// immutable once constructed and safe to replay.
type Operation struct {
	query     string
	variables map[string]any
	name      string
	kind      string
}

// NewOperation builds an Operation. The document is parsed once to learn its name and
// kind for logs and traces; a document that does not parse is still sent as-is and the
// server reports the problem.
func NewOperation(query string, variables map[string]any) Operation {
	return NewNamedOperation(query, variables, "")
}

// NewNamedOperation is NewOperation with an explicit operation name, used when the
// document holds more than one operation.
func NewNamedOperation(query string, variables map[string]any, name string) Operation {
	op := Operation{
		query:     query,
		variables: copyVariables(variables),
		name:      name,
		kind:      kindUnknown,
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil || doc == nil {
		return op
	}

	def := pickOperation(doc.Operations, name)
	if def == nil {
		return op
	}

	op.kind = string(def.Operation)
	if op.name == "" {
		op.name = def.Name
	}
	return op
}

func pickOperation(ops ast.OperationList, name string) *ast.OperationDefinition {
	if name != "" {
		return ops.ForName(name)
	}
	if len(ops) == 1 {
		return ops[0]
	}
	return nil
}

func copyVariables(variables map[string]any) map[string]any {
	if variables == nil {
		return map[string]any{}
	}
	cpy := make(map[string]any, len(variables))
	for k, v := range variables {
		cpy[k] = v
	}
	return cpy
}

func (o Operation) Query() string { return o.query }

// Variables returns a copy of the operation's variables.
func (o Operation) Variables() map[string]any { return copyVariables(o.variables) }

// Name is the operation name, or "" for anonymous operations.
func (o Operation) Name() string { return o.name }

// Kind is "query", "mutation", "subscription", or "unknown" when the document could not
// be parsed.
func (o Operation) Kind() string { return o.kind }

func (o Operation) displayName() string {
	if o.name == "" {
		return "anonymous " + o.kind
	}
	return o.name
}
