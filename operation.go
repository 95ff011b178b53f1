package gqlpipe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dgraph-io/gqlparser/v2/ast"
	"github.com/dgraph-io/gqlparser/v2/parser"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OperationKind is the type of the main operation definition of a document.
type OperationKind int

const (
	KindQuery OperationKind = iota
	KindMutation
	KindSubscription
)

func (k OperationKind) String() string {
	switch k {
	case KindMutation:
		return "mutation"
	case KindSubscription:
		return "subscription"
	default:
		return "query"
	}
}

// Classify returns the kind of the document's main definition, which is
// its first operation definition.
func Classify(doc *ast.QueryDocument) (OperationKind, error) {
	if doc == nil || len(doc.Operations) == 0 {
		return KindQuery, ErrNoOperation
	}
	switch doc.Operations[0].Operation {
	case ast.Mutation:
		return KindMutation, nil
	case ast.Subscription:
		return KindSubscription, nil
	default:
		return KindQuery, nil
	}
}

// OperationContext is the mutable per-operation context shared by links.
type OperationContext map[string]interface{}

const headersKey = "headers"

// Operation is one GraphQL request flowing through the pipeline. It is
// owned by a single pipeline pass and must not be shared.
type Operation struct {
	ID            string
	Query         string
	OperationName string
	Variables     map[string]interface{}
	Document      *ast.QueryDocument
	Kind          OperationKind

	ctx     context.Context
	context OperationContext
}

// NewOperation parses query and classifies it.
func NewOperation(ctx context.Context, query string, variables map[string]interface{}) (*Operation, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: query})
	if gqlErr != nil {
		return nil, errors.Wrap(gqlErr, "failed to parse query")
	}
	kind, err := Classify(doc)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Operation{
		ID:            uuid.NewString(),
		Query:         query,
		OperationName: doc.Operations[0].Name,
		Variables:     variables,
		Document:      doc,
		Kind:          kind,
		ctx:           ctx,
		context:       OperationContext{},
	}, nil
}

func (op *Operation) Context() context.Context {
	return op.ctx
}

// GetContext returns a shallow copy of the operation context.
func (op *Operation) GetContext() OperationContext {
	out := make(OperationContext, len(op.context))
	for k, v := range op.context {
		out[k] = v
	}
	return out
}

// SetContext merges the keys returned by fn into the operation context.
func (op *Operation) SetContext(fn func(prev OperationContext) OperationContext) {
	for k, v := range fn(op.GetContext()) {
		op.context[k] = v
	}
}

// Headers returns the headers currently carried in the operation context.
// The result is nil when no link has set any.
func (op *Operation) Headers() http.Header {
	h, _ := op.context[headersKey].(http.Header)
	return h
}

// cacheKey identifies a query result in the cache by query text and
// variables. encoding/json sorts map keys, so the key is stable.
func (op *Operation) cacheKey() string {
	vars, err := json.Marshal(op.Variables)
	if err != nil || op.Variables == nil {
		vars = []byte("{}")
	}
	return strings.TrimSpace(op.Query) + "|" + string(vars)
}
