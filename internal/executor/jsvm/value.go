package jsvm

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

const (
	// maxDepth caps how deep nested values are exported.
	maxDepth = 16
	// maxItems caps the elements, entries or properties exported per
	// container. The rest are summarised as "... N more items".
	maxItems = 100
	// maxNodes caps the values exported for one console call, so shared
	// references cannot fan out into exponential work.
	maxNodes = 10000
)

// exporter converts script values into plain Go data that JSON can carry:
// numbers stay numbers, arrays become []any and objects map[string]any.
// Functions, cycles, non-finite numbers, BigInts and errors become strings.
//
// The walk runs in Go where vm.Interrupt cannot reach it, so its work is
// bounded by maxItems and maxNodes rather than by what a length claims, and
// it stops as soon as ctx is done.
type exporter struct {
	ctx       context.Context
	ancestors map[*goja.Object]bool
	remaining int
}

func newExporter(ctx context.Context) *exporter {
	return &exporter{
		ctx:       ctx,
		ancestors: make(map[*goja.Object]bool),
		remaining: maxNodes,
	}
}

// exportValue exports a single value with a fresh budget.
func exportValue(ctx context.Context, v goja.Value) any {
	return newExporter(ctx).export(v, 0)
}

func (e *exporter) exhausted() bool {
	return e.remaining <= 0 || e.ctx.Err() != nil
}

func (e *exporter) export(v goja.Value, depth int) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}

	obj, isObject := v.(*goja.Object)
	if !isObject {
		return exportPrimitive(v)
	}
	if e.exhausted() {
		return "[...]"
	}
	e.remaining--

	if _, ok := goja.AssertFunction(obj); ok {
		name := valueString(obj.Get("name"), "")
		if name == "" {
			return "[Function (anonymous)]"
		}
		return "[Function: " + name + "]"
	}
	if e.ancestors[obj] {
		return "[Circular]"
	}

	switch obj.ClassName() {
	case "Error":
		return describeThrown(obj)
	case "Date":
		if t, ok := obj.Export().(time.Time); ok {
			return t.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		return obj.String()
	case "RegExp", "Symbol", "String", "Number", "Boolean":
		return obj.String()
	case "Promise":
		return describePromise(obj)
	}

	arrayLike := obj.ClassName() == "Array" || isTypedArray(obj)
	if depth >= maxDepth {
		if arrayLike {
			return "[Array]"
		}
		return "[Object]"
	}

	e.ancestors[obj] = true
	defer delete(e.ancestors, obj)

	switch {
	case arrayLike:
		return e.exportArray(obj, depth)
	case obj.ClassName() == "Map" || obj.ClassName() == "Set":
		return e.exportIterable(obj, depth)
	}
	return e.exportObject(obj, depth)
}

// isTypedArray reports whether obj is a typed array. goja gives them the
// plain Object class but exports them as Go slices.
func isTypedArray(obj *goja.Object) bool {
	t := obj.ExportType()
	return t != nil && t.Kind() == reflect.Slice && obj.ClassName() == "Object"
}

func (e *exporter) exportArray(obj *goja.Object, depth int) any {
	n := obj.Get("length").ToInteger()
	shown := min(n, maxItems)

	items := make([]any, 0, shown+1)
	for i := int64(0); i < shown; i++ {
		if e.exhausted() {
			break
		}
		items = append(items, e.export(obj.Get(strconv.FormatInt(i, 10)), depth+1))
	}
	if rest := n - int64(len(items)); rest > 0 {
		items = append(items, moreItems(rest))
	}
	return items
}

// exportIterable lists a Map's [key, value] pairs or a Set's members.
func (e *exporter) exportIterable(obj *goja.Object, depth int) any {
	items := []any{}
	forOf(obj, func(item goja.Value) bool {
		if len(items) >= maxItems || e.exhausted() {
			return false
		}
		items = append(items, e.export(item, depth+1))
		return true
	})
	if rest := obj.Get("size").ToInteger() - int64(len(items)); rest > 0 {
		items = append(items, moreItems(rest))
	}
	return items
}

func (e *exporter) exportObject(obj *goja.Object, depth int) any {
	keys := obj.Keys()
	fields := make(map[string]any, min(len(keys), maxItems)+1)
	shown := 0
	for _, k := range keys {
		if shown >= maxItems || e.exhausted() {
			break
		}
		fields[k] = e.export(obj.Get(k), depth+1)
		shown++
	}
	if rest := len(keys) - shown; rest > 0 {
		fields["..."] = fmt.Sprintf("%d more properties", rest)
	}
	return fields
}

func moreItems(n int64) string {
	if n == 1 {
		return "... 1 more item"
	}
	return fmt.Sprintf("... %d more items", n)
}

func exportPrimitive(v goja.Value) any {
	if sym, ok := v.(*goja.Symbol); ok {
		return sym.String()
	}

	switch x := v.Export().(type) {
	case float64:
		switch {
		case math.IsNaN(x):
			return "NaN"
		case math.IsInf(x, 1):
			return "Infinity"
		case math.IsInf(x, -1):
			return "-Infinity"
		}
		return x
	case *big.Int:
		return x.String()
	case int64, bool, string:
		return x
	default:
		return v.String()
	}
}

// forOf walks obj's iterator without needing the runtime handle. It stops
// when fn returns false.
func forOf(obj *goja.Object, fn func(goja.Value) bool) {
	entries, ok := goja.AssertFunction(obj.Get("entries"))
	if !ok {
		return
	}
	iterVal, err := entries(obj)
	if err != nil {
		return
	}
	iter, ok := iterVal.(*goja.Object)
	if !ok {
		return
	}
	next, ok := goja.AssertFunction(iter.Get("next"))
	if !ok {
		return
	}

	isSet := obj.ClassName() == "Set"
	for {
		res, err := next(iter)
		if err != nil {
			return
		}
		step, ok := res.(*goja.Object)
		if !ok || step.Get("done").ToBoolean() {
			return
		}
		item := step.Get("value")
		if isSet {
			// Set entries are [value, value].
			if pair, ok := item.(*goja.Object); ok {
				item = pair.Get("0")
			}
		}
		if !fn(item) {
			return
		}
	}
}

func describePromise(obj *goja.Object) string {
	p, ok := obj.Export().(*goja.Promise)
	if !ok {
		return "Promise {}"
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return "Promise { <fulfilled> }"
	case goja.PromiseStateRejected:
		return "Promise { <rejected> }"
	default:
		return "Promise { <pending> }"
	}
}
