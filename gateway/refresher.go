package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/jonwraymond/graphgate/cache"
)

// Refresher adapts the executor into the cache manager's background
// refresh hook. A stale entry is re-derived by rebuilding the original
// field selection from the recorded call shape and fetching it from
// the owning subgraph, bypassing the cache.
//
// Refreshes run without the original bearer token; fields whose value
// depends on more than the keyed arguments and user id should keep
// short stale windows.
func (e *Executor) Refresher() cache.Refresher {
	return func(ctx context.Context, configKey string, call cache.CallInfo) (any, error) {
		route, ok := e.routes[call.Field]
		if !ok {
			return nil, fmt.Errorf("gateway: no route for refreshed field %q", call.Field)
		}
		if route.CacheConfig != configKey {
			return nil, fmt.Errorf("gateway: field %q is cached under %q, not %q", call.Field, route.CacheConfig, configKey)
		}

		query, err := rebuildQuery(call.Field, call)
		if err != nil {
			return nil, err
		}
		doc, err := parser.ParseQuery(&ast.Source{Name: "refresh", Input: query})
		if err != nil {
			return nil, fmt.Errorf("gateway: rebuild refresh query: %w", err)
		}
		op := doc.Operations[0]
		f := op.SelectionSet[0].(*ast.Field)

		rc := NewRequestContext("refresh-"+configKey, "", nil, nil)
		raw, err := e.fetchSubgraph(ctx, rc, doc, op, nil, &fetchUnit{
			subgraphName: route.Subgraph,
			fields:       []*ast.Field{f},
			cacheConfig:  configKey,
		})
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}
}

// rebuildQuery renders a standalone query for one field from the cache
// call shape: recorded arguments become inline literals and the dotted
// field paths become a nested selection set.
func rebuildQuery(field string, call cache.CallInfo) (string, error) {
	var b strings.Builder
	b.WriteString("query { ")
	b.WriteString(field)

	if len(call.Args) > 0 {
		names := make([]string, 0, len(call.Args))
		for name := range call.Args {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("(")
		for i, name := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			lit, err := graphqlLiteral(call.Args[name])
			if err != nil {
				return "", err
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(lit)
		}
		b.WriteString(")")
	}

	if sel := selectionFromPaths(call.Fields); sel != "" {
		b.WriteString(" ")
		b.WriteString(sel)
	}
	b.WriteString(" }")
	return b.String(), nil
}

// selectionFromPaths turns sorted dotted paths back into a GraphQL
// selection set: ["a.b","a.c","d"] becomes "{ a { b c } d }".
func selectionFromPaths(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	type node struct {
		order    []string
		children map[string]*node
	}
	root := &node{children: make(map[string]*node)}
	for _, path := range paths {
		cur := root
		for _, part := range strings.Split(path, ".") {
			child, ok := cur.children[part]
			if !ok {
				child = &node{children: make(map[string]*node)}
				cur.children[part] = child
				cur.order = append(cur.order, part)
			}
			cur = child
		}
	}

	var render func(n *node) string
	render = func(n *node) string {
		parts := make([]string, 0, len(n.order))
		for _, name := range n.order {
			child := n.children[name]
			if len(child.order) == 0 {
				parts = append(parts, name)
			} else {
				parts = append(parts, name+" "+render(child))
			}
		}
		return "{ " + strings.Join(parts, " ") + " }"
	}
	return render(root)
}

// graphqlLiteral renders a decoded argument value as an inline GraphQL
// literal. Object keys are unquoted, unlike JSON.
func graphqlLiteral(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return strconv.Quote(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			lit, err := graphqlLiteral(item)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			lit, err := graphqlLiteral(t[k])
			if err != nil {
				return "", err
			}
			parts[i] = k + ": " + lit
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("gateway: cannot render %T as a GraphQL literal", v)
	}
}
