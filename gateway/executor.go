package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/cache"
	"github.com/jonwraymond/graphgate/subgraph"
)

// Route declares which subgraph owns a top-level field, and optionally
// which resolver-cache config applies to it.
type Route struct {
	Subgraph    string `mapstructure:"subgraph"`
	CacheConfig string `mapstructure:"cacheConfig"`
}

// HealthReporter answers whether a subgraph is currently routable.
type HealthReporter interface {
	IsHealthy(name string) bool
}

// Result is the merged outcome of one federated operation. Errors are
// raw; the transport layer formats them for the client.
type Result struct {
	Data      map[string]json.RawMessage
	Errors    []error
	Subgraphs []string
}

// Executor parses incoming operations, splits their top-level fields
// across owning subgraphs, fans the subqueries out concurrently and
// merges the responses.
type Executor struct {
	sources     map[string]*subgraph.DataSource
	routes      map[string]Route
	health      HealthReporter
	cache       *cache.Manager
	logger      *zap.Logger
	development bool
}

// NewExecutor wires the executor. health and mgr may be nil, which
// disables health-aware routing and resolver caching respectively.
func NewExecutor(sources map[string]*subgraph.DataSource, routes map[string]Route, health HealthReporter, mgr *cache.Manager, logger *zap.Logger, development bool) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		sources:     sources,
		routes:      routes,
		health:      health,
		cache:       mgr,
		logger:      logger,
		development: development,
	}
}

// fetchUnit is one outbound subquery: a set of top-level fields bound
// for a single subgraph. Cacheable fields travel as their own unit so
// a cache hit skips the subgraph call entirely.
type fetchUnit struct {
	subgraphName string
	fields       []*ast.Field
	cacheConfig  string
}

// Execute runs one operation end to end. The returned error covers
// whole-request failures (malformed query, unsupported operation);
// per-field failures are carried inside the Result instead, so healthy
// subgraphs still contribute partial data.
func (e *Executor) Execute(ctx context.Context, rc *RequestContext, req *subgraph.Request) (*Result, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: req.Query})
	if err != nil {
		return nil, NewError(CodeBadRequest, fmt.Sprintf("query parse error: %v", err))
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, err
	}
	if op.Operation == ast.Subscription {
		return nil, NewError(CodeBadRequest, ErrSubscriptions.Error())
	}

	fields := flattenSelections(doc, op.SelectionSet)
	if len(fields) == 0 {
		return nil, NewError(CodeBadRequest, ErrNoOperation.Error())
	}

	result := &Result{Data: make(map[string]json.RawMessage, len(fields))}
	units, planErrs := e.plan(op, fields)
	result.Errors = append(result.Errors, planErrs...)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	touched := make(map[string]bool)
	for _, unit := range units {
		wg.Add(1)
		go func(u *fetchUnit) {
			defer wg.Done()
			data, errs, called := e.runUnit(ctx, rc, doc, op, req.Variables, u)
			mu.Lock()
			defer mu.Unlock()
			for alias, raw := range data {
				result.Data[alias] = raw
			}
			result.Errors = append(result.Errors, errs...)
			if called {
				touched[u.subgraphName] = true
			}
		}(unit)
	}
	wg.Wait()

	for name := range touched {
		result.Subgraphs = append(result.Subgraphs, name)
	}
	sort.Strings(result.Subgraphs)
	return result, nil
}

// plan partitions top-level fields into fetch units and reports fields
// that cannot be served at all.
func (e *Executor) plan(op *ast.OperationDefinition, fields []*ast.Field) ([]*fetchUnit, []error) {
	var (
		units  []*fetchUnit
		errs   []error
		shared = make(map[string]*fetchUnit)
	)
	for _, f := range fields {
		if strings.HasPrefix(f.Name, "__") {
			if !e.development {
				errs = append(errs, NewError(CodeBadRequest, ErrIntrospection.Error()))
				continue
			}
		}
		route, ok := e.routes[f.Name]
		if !ok {
			errs = append(errs, NewError(CodeBadRequest, fmt.Sprintf("field %q cannot be routed to any subgraph", f.Name)))
			continue
		}
		if _, ok := e.sources[route.Subgraph]; !ok {
			errs = append(errs, NewError(CodeInternal, fmt.Sprintf("subgraph %q is not configured", route.Subgraph)))
			continue
		}
		if e.health != nil && !e.health.IsHealthy(route.Subgraph) {
			errs = append(errs, NewError(CodeServiceUnavailable, fmt.Sprintf("subgraph %q is unavailable", route.Subgraph)))
			continue
		}

		if route.CacheConfig != "" && op.Operation == ast.Query {
			units = append(units, &fetchUnit{
				subgraphName: route.Subgraph,
				fields:       []*ast.Field{f},
				cacheConfig:  route.CacheConfig,
			})
			continue
		}
		u, ok := shared[route.Subgraph]
		if !ok {
			u = &fetchUnit{subgraphName: route.Subgraph}
			shared[route.Subgraph] = u
			units = append(units, u)
		}
		u.fields = append(u.fields, f)
	}
	return units, errs
}

// runUnit executes one fetch unit, going through the resolver cache
// for cacheable units. called reports whether the subgraph was
// actually contacted (a cache hit is not a touch).
func (e *Executor) runUnit(ctx context.Context, rc *RequestContext, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]any, u *fetchUnit) (map[string]json.RawMessage, []error, bool) {
	fetch := func(ctx context.Context, _ cache.CallInfo) (json.RawMessage, error) {
		return e.fetchSubgraph(ctx, rc, doc, op, vars, u)
	}

	called := true
	if u.cacheConfig != "" {
		field := u.fields[0]
		call := cache.CallInfo{
			Field:     field.Name,
			Args:      argumentValues(field, vars),
			Principal: rc.Principal(),
			Operation: op.Name,
			Fields:    FieldPaths(doc, field.SelectionSet),
		}
		inner := fetch
		fetch = func(ctx context.Context, call cache.CallInfo) (json.RawMessage, error) {
			called = true
			return inner(ctx, call)
		}
		called = false
		fetch = WrapResolver(e.cache, u.cacheConfig, fetch)
		raw, err := fetch(ctx, call)
		if err != nil {
			return nil, []error{err}, called
		}
		return map[string]json.RawMessage{fieldAlias(field): raw}, nil, called
	}

	raw, err := fetch(ctx, cache.CallInfo{})
	if err != nil {
		return nil, []error{err}, called
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, []error{fmt.Errorf("gateway: decode subgraph %s response: %w", u.subgraphName, err)}, called
	}
	return data, nil, called
}

// fetchSubgraph renders the unit's fields as a standalone operation and
// dispatches it. For single-field cacheable units the returned payload
// is just that field's value; otherwise it is the whole data object.
func (e *Executor) fetchSubgraph(ctx context.Context, rc *RequestContext, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]any, u *fetchUnit) (json.RawMessage, error) {
	query, usedVars := renderSubquery(doc, op, u.fields)

	subVars := make(map[string]any, len(usedVars))
	for name := range usedVars {
		if v, ok := vars[name]; ok {
			subVars[name] = v
		}
	}

	ds := e.sources[u.subgraphName]
	resp, err := ds.Execute(ctx, &subgraph.Request{
		Query:         query,
		OperationName: op.Name,
		Variables:     subVars,
	}, subgraph.Meta{
		Token:     rc.Token,
		RequestID: rc.RequestID,
		TraceID:   rc.TraceID,
		UserID:    rc.Principal(),
		IsQuery:   op.Operation == ast.Query,
	})
	if err != nil {
		return nil, err
	}
	if resp.HasErrors() {
		return nil, upstreamError(u.subgraphName, resp.Errors)
	}

	if u.cacheConfig != "" {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("gateway: decode subgraph %s response: %w", u.subgraphName, err)
		}
		return data[fieldAlias(u.fields[0])], nil
	}
	return resp.Data, nil
}

// upstreamError passes a subgraph's application error through with its
// code intact so the formatter does not redact it in production.
func upstreamError(name string, errs []subgraph.GraphQLError) error {
	first := errs[0]
	code := CodeInternal
	if c, ok := first.Extensions["code"].(string); ok && c != "" {
		code = c
	}
	return &Error{
		Message:    first.Message,
		Code:       code,
		Extensions: map[string]any{"subgraph": name},
	}
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, NewError(CodeBadRequest, "operationName is required when the document defines multiple operations")
		}
		return doc.Operations[0], nil
	}
	for _, op := range doc.Operations {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, NewError(CodeBadRequest, fmt.Sprintf("operation %q not found in document", name))
}

// flattenSelections expands fragment spreads and inline fragments into
// the concrete top-level fields they select.
func flattenSelections(doc *ast.QueryDocument, set ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.FragmentSpread:
			if def := doc.Fragments.ForName(s.Name); def != nil {
				fields = append(fields, flattenSelections(doc, def.SelectionSet)...)
			}
		case *ast.InlineFragment:
			fields = append(fields, flattenSelections(doc, s.SelectionSet)...)
		}
	}
	return fields
}

// renderSubquery formats an operation containing only the given fields,
// carrying over just the variable definitions and fragments they use.
func renderSubquery(doc *ast.QueryDocument, op *ast.OperationDefinition, fields []*ast.Field) (string, map[string]bool) {
	set := make(ast.SelectionSet, len(fields))
	for i, f := range fields {
		set[i] = f
	}

	usedVars := make(map[string]bool)
	usedFrags := make(map[string]bool)
	collectUsage(doc, set, usedVars, usedFrags)

	var varDefs ast.VariableDefinitionList
	for _, vd := range op.VariableDefinitions {
		if usedVars[vd.Variable] {
			varDefs = append(varDefs, vd)
		}
	}

	var frags ast.FragmentDefinitionList
	for _, fd := range doc.Fragments {
		if usedFrags[fd.Name] {
			frags = append(frags, fd)
		}
	}

	sub := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           op.Operation,
			Name:                op.Name,
			VariableDefinitions: varDefs,
			SelectionSet:        set,
		}},
		Fragments: frags,
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(sub)
	return buf.String(), usedVars
}

// collectUsage walks a selection set recording which variables and
// fragments it references, following spreads transitively.
func collectUsage(doc *ast.QueryDocument, set ast.SelectionSet, vars, frags map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectValueVars(arg.Value, vars)
			}
			for _, dir := range s.Directives {
				for _, arg := range dir.Arguments {
					collectValueVars(arg.Value, vars)
				}
			}
			collectUsage(doc, s.SelectionSet, vars, frags)
		case *ast.FragmentSpread:
			if frags[s.Name] {
				continue
			}
			frags[s.Name] = true
			if def := doc.Fragments.ForName(s.Name); def != nil {
				collectUsage(doc, def.SelectionSet, vars, frags)
			}
		case *ast.InlineFragment:
			collectUsage(doc, s.SelectionSet, vars, frags)
		}
	}
}

func collectValueVars(v *ast.Value, vars map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		vars[v.Raw] = true
	}
	for _, child := range v.Children {
		collectValueVars(child.Value, vars)
	}
}

// argumentValues resolves a field's arguments against the request
// variables. Unresolvable arguments are omitted rather than failing;
// the cache key then varies on their absence.
func argumentValues(f *ast.Field, vars map[string]any) map[string]any {
	if len(f.Arguments) == 0 {
		return nil
	}
	args := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			continue
		}
		args[arg.Name] = v
	}
	return args
}

// FieldPaths returns the sorted leaf field paths selected by a
// selection set, in dotted form ("user.address.city"). Paths use
// response keys (the alias when present), because the cached payload
// is alias-shaped: selecting "nick: name" must not share a key with
// selecting "name".
func FieldPaths(doc *ast.QueryDocument, set ast.SelectionSet) []string {
	seen := make(map[string]bool)
	var walk func(set ast.SelectionSet, prefix string)
	walk = func(set ast.SelectionSet, prefix string) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				path := fieldAlias(s)
				if prefix != "" {
					path = prefix + "." + fieldAlias(s)
				}
				if len(s.SelectionSet) == 0 {
					seen[path] = true
				} else {
					walk(s.SelectionSet, path)
				}
			case *ast.FragmentSpread:
				if def := doc.Fragments.ForName(s.Name); def != nil {
					walk(def.SelectionSet, prefix)
				}
			case *ast.InlineFragment:
				walk(s.SelectionSet, prefix)
			}
		}
	}
	walk(set, "")

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func fieldAlias(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}
