package instrument

import (
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	jsoniter "github.com/json-iterator/go"
)

// sourceBase is the index goja assigns to the first byte of a file parsed without a FileSet.
const sourceBase = 1

const anonymous = "anonymous"

const frameVar = RuntimeName + "Frame"

// runtimeTemplate creates the per-trace recording and the done() entry point.
// %HOOK% is replaced with the caller's Hook.
const runtimeTemplate = `var ` + RuntimeName + ` = (function (onCall) {
	var recording = { calls: [], args: [] };
	var slice = Array.prototype.slice;
	return {
		recording: recording,
		enter: function (name, args) {
			return { name: name, first: new Date(), args: slice.call(args) };
		},
		exit: function (frame) {
			onCall({
				function_name: frame.name,
				first_timestamp: frame.first,
				last_timestamp: new Date(),
				function_arguments: frame.args
			}, recording);
		}
	};
})(%HOOK%);
function done() {
	if (typeof debugFlowPresent === "function") {
		debugFlowPresent(` + RuntimeName + `.recording);
	}
	return ` + RuntimeName + `.recording;
}
`

var astPkgPath = reflect.TypeOf(ast.Program{}).PkgPath()

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Tracer instruments scripts by parsing them with goja and wrapping each
// function body in an enter/exit pair. Expression-bodied arrow functions are
// left untraced.
type Tracer struct{}

// NewTracer returns a Tracer.
func NewTracer() *Tracer {
	return &Tracer{}
}

type edit struct {
	offset int
	open   bool
	text   string
}

// Instrument implements Instrumenter.
func (t *Tracer) Instrument(source string, onCall Hook) (string, error) {
	if strings.TrimSpace(string(onCall)) == "" {
		return "", ErrNoHook
	}
	program, err := parser.ParseFile(nil, "", source, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return "", &Error{Err: err}
	}

	c := newCollector()
	c.walk(reflect.ValueOf(program))

	var edits []edit
	for _, fn := range c.functions {
		opened, closed, ok := fn.edits(c.names)
		if !ok {
			continue
		}
		edits = append(edits, opened, closed)
	}

	var b strings.Builder
	b.Grow(len(runtimeTemplate) + len(onCall) + len(source) + len(edits)*64)
	b.WriteString(strings.Replace(runtimeTemplate, "%HOOK%", string(onCall), 1))
	b.WriteString(apply(source, edits))
	return b.String(), nil
}

// apply splices edits into source. Opening edits sort before closing edits at
// the same offset so an empty body still reads enter/try/finally in order.
func apply(source string, edits []edit) string {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].offset != edits[j].offset {
			return edits[i].offset < edits[j].offset
		}
		return edits[i].open && !edits[j].open
	})
	var b strings.Builder
	b.Grow(len(source))
	prev := 0
	for _, e := range edits {
		b.WriteString(source[prev:e.offset])
		b.WriteString(e.text)
		prev = e.offset
	}
	b.WriteString(source[prev:])
	return b.String()
}

// traced is one function whose body receives hooks.
type traced struct {
	fn    *ast.FunctionLiteral
	arrow *ast.ArrowFunctionLiteral
}

func (t traced) edits(names map[ast.Node]string) (edit, edit, bool) {
	var (
		node ast.Node
		body *ast.BlockStatement
		name string
		args string
	)
	switch {
	case t.fn != nil:
		if t.fn.Body == nil {
			return edit{}, edit{}, false
		}
		node, body, args = t.fn, t.fn.Body, "arguments"
		if t.fn.Name != nil {
			name = t.fn.Name.Name.String()
		}
	case t.arrow != nil:
		block, ok := t.arrow.Body.(*ast.BlockStatement)
		if !ok {
			return edit{}, edit{}, false
		}
		node, body, args = t.arrow, block, arrowArguments(t.arrow.ParameterList)
	default:
		return edit{}, edit{}, false
	}
	if name == "" {
		name = names[node]
	}
	if name == "" {
		name = anonymous
	}
	literal, err := jsonAPI.MarshalToString(name)
	if err != nil {
		literal = `"` + anonymous + `"`
	}

	start, prefix := offsetOf(int(body.LeftBrace))+1, ""
	if last := directivePrologueEnd(body); last > 0 {
		// Directives may omit their semicolon.
		start, prefix = last, ";"
	}
	opened := edit{
		offset: start,
		open:   true,
		text:   prefix + "var " + frameVar + " = " + RuntimeName + ".enter(" + literal + ", " + args + "); try {",
	}
	closed := edit{
		offset: offsetOf(int(body.RightBrace)),
		text:   "} finally { " + RuntimeName + ".exit(" + frameVar + "); }",
	}
	return opened, closed, true
}

// directivePrologueEnd returns the offset just past a leading run of string
// literal statements such as "use strict", or 0 when there is none.
func directivePrologueEnd(body *ast.BlockStatement) int {
	end := 0
	for _, stmt := range body.List {
		expr, ok := stmt.(*ast.ExpressionStatement)
		if !ok {
			break
		}
		if _, ok := expr.Expression.(*ast.StringLiteral); !ok {
			break
		}
		end = offsetOf(int(stmt.Idx1()))
	}
	return end
}

// arrowArguments builds an array of the arrow's named parameters; arrows have
// no arguments object of their own.
func arrowArguments(params *ast.ParameterList) string {
	if params == nil {
		return "[]"
	}
	var names []string
	for _, binding := range params.List {
		if id, ok := binding.Target.(*ast.Identifier); ok {
			names = append(names, id.Name.String())
		}
	}
	if id, ok := params.Rest.(*ast.Identifier); ok {
		names = append(names, id.Name.String())
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func offsetOf(idx int) int {
	return idx - sourceBase
}

// collector gathers every function in the tree along with names inferred from
// the binding, property or class that holds it.
type collector struct {
	seen      map[uintptr]struct{}
	functions []traced
	names     map[ast.Node]string
}

func newCollector() *collector {
	return &collector{
		seen:  make(map[uintptr]struct{}),
		names: make(map[ast.Node]string),
	}
}

func (c *collector) walk(v reflect.Value) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			c.walk(v.Elem())
		}
	case reflect.Ptr:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct || v.Elem().Type().PkgPath() != astPkgPath {
			return
		}
		ptr := v.Pointer()
		if _, ok := c.seen[ptr]; ok {
			return
		}
		c.seen[ptr] = struct{}{}
		c.visit(v.Interface())
		c.walk(v.Elem())
	case reflect.Struct:
		if v.Type().PkgPath() != astPkgPath {
			return
		}
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			c.walk(v.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			c.walk(v.Index(i))
		}
	}
}

func (c *collector) visit(node any) {
	switch n := node.(type) {
	case *ast.FunctionLiteral:
		c.functions = append(c.functions, traced{fn: n})
	case *ast.ArrowFunctionLiteral:
		c.functions = append(c.functions, traced{arrow: n})
	case *ast.Binding:
		if id, ok := n.Target.(*ast.Identifier); ok {
			c.name(n.Initializer, id.Name.String())
		}
	case *ast.AssignExpression:
		c.name(n.Right, targetName(n.Left))
	case *ast.PropertyKeyed:
		c.name(n.Value, keyName(n.Key))
	case *ast.ClassLiteral:
		className := anonymous
		if n.Name != nil {
			className = n.Name.Name.String()
		}
		for _, element := range n.Body {
			if method, ok := element.(*ast.MethodDefinition); ok && method.Body != nil {
				c.names[method.Body] = className + "." + keyName(method.Key)
			}
		}
	}
}

func (c *collector) name(expr ast.Expression, name string) {
	if name == "" {
		return
	}
	switch fn := expr.(type) {
	case *ast.FunctionLiteral:
		if _, ok := c.names[fn]; !ok {
			c.names[fn] = name
		}
	case *ast.ArrowFunctionLiteral:
		if _, ok := c.names[fn]; !ok {
			c.names[fn] = name
		}
	}
}

func targetName(expr ast.Expression) string {
	switch t := expr.(type) {
	case *ast.Identifier:
		return t.Name.String()
	case *ast.DotExpression:
		if left := targetName(t.Left); left != "" {
			return left + "." + t.Identifier.Name.String()
		}
		return t.Identifier.Name.String()
	}
	return ""
}

func keyName(expr ast.Expression) string {
	switch k := expr.(type) {
	case *ast.StringLiteral:
		return k.Value.String()
	case *ast.Identifier:
		return k.Name.String()
	case *ast.NumberLiteral:
		return k.Literal
	}
	return ""
}
