// Package filter selects events with expr-lang expressions such as
//
//	Type == "heat" and Level >= 10 and daysSince(Timestamp) < 7
package filter

import (
	"maps"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smaxtec/sxapi/sxapi"
)

// DefaultCacheSize is the number of compiled expressions the default
// compiler keeps
const DefaultCacheSize = 64

var defaultCompiler = NewCompiler(WithCache(DefaultCacheSize))

// Compile compiles expression with the shared, cached compiler
func Compile(expression string) (*EventFilter, error) {
	return defaultCompiler.Compile(expression)
}

// EventFilter is a compiled expression. It is safe for concurrent use.
type EventFilter struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// CompilerOption configures a Compiler
type CompilerOption func(*Compiler)

// WithCache keeps up to size compiled expressions
func WithCache(size int) CompilerOption {
	return func(c *Compiler) {
		if size > 0 {
			c.cache = newLRUCache[*EventFilter](size)
		}
	}
}

// WithCustomFunctions adds helper functions to the expression environment
func WithCustomFunctions(funcs map[string]any) CompilerOption {
	return func(c *Compiler) {
		maps.Copy(c.helpers, funcs)
	}
}

// WithClock sets the time source of the date helpers
func WithClock(now func() time.Time) CompilerOption {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// Compiler compiles event filter expressions
type Compiler struct {
	helpers map[string]any
	cache   *lruCache[*EventFilter]
	now     func() time.Time
}

// NewCompiler creates a compiler
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		helpers: make(map[string]any, 16),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// custom functions win over the builtin helpers
	custom := c.helpers
	c.helpers = helperFunctions(c.now)
	maps.Copy(c.helpers, custom)

	return c
}

// Compile compiles an expression that must evaluate to a bool
func (c *Compiler) Compile(expression string) (*EventFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{Expression: expression, Reason: "empty expression"}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(expression); ok {
			return cached, nil
		}
	}

	program, err := expr.Compile(expression,
		expr.Env(environment(sxapi.Event{}, c.helpers)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	f := &EventFilter{expression: expression, program: program, helpers: c.helpers}
	if c.cache != nil {
		c.cache.Put(expression, f)
	}
	return f, nil
}

// Len returns the number of cached filters
func (c *Compiler) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear drops all cached filters
func (c *Compiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Expression returns the source expression
func (f *EventFilter) Expression() string {
	return f.expression
}

// Match evaluates the filter against ev
func (f *EventFilter) Match(ev sxapi.Event) (bool, error) {
	out, err := expr.Run(f.program, environment(ev, f.helpers))
	if err != nil {
		return false, &EvaluationError{Expression: f.expression, EventID: ev.ID, Err: err}
	}
	return out.(bool), nil
}

// Evaluate reports whether ev matches. Events the expression fails on, for
// example by indexing missing metadata, do not match.
func (f *EventFilter) Evaluate(ev sxapi.Event) bool {
	ok, err := f.Match(ev)
	return err == nil && ok
}

// Apply returns the matching events in their original order
func (f *EventFilter) Apply(events []sxapi.Event) []sxapi.Event {
	out := make([]sxapi.Event, 0, len(events))
	for _, ev := range events {
		if f.Evaluate(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func helperFunctions(now func() time.Time) map[string]any {
	return map[string]any{
		// Date helpers
		"now": now,
		"daysSince": func(t time.Time) int {
			return int(now().Sub(t).Hours() / 24)
		},
		"daysAgo": func(days int) time.Time {
			return now().AddDate(0, 0, -days)
		},
		"hoursAgo": func(hours int) time.Time {
			return now().Add(-time.Duration(hours) * time.Hour)
		},
		"parseDate": func(s string) time.Time {
			t, _ := time.Parse(time.DateOnly, s)
			return t
		},
		// String helpers
		"contains": func(s, substr string) bool {
			return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
		},
		"startsWith": func(s, prefix string) bool {
			return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
		},
		"endsWith": func(s, suffix string) bool {
			return strings.HasSuffix(strings.ToLower(s), strings.ToLower(suffix))
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}
}

// environment exposes the event fields next to the helpers
func environment(ev sxapi.Event, helpers map[string]any) map[string]any {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	env := make(map[string]any, len(helpers)+12)
	maps.Copy(env, helpers)

	env["ID"] = ev.ID
	env["Type"] = ev.EventType
	env["Level"] = ev.Level
	env["Timestamp"] = ev.Timestamp.Time
	env["AnimalID"] = ev.AnimalID
	env["DeviceID"] = ev.DeviceID
	env["OrganisationID"] = ev.OrganisationID
	env["Metadata"] = metadata
	env["hasMeta"] = func(key string) bool {
		_, ok := metadata[key]
		return ok
	}
	return env
}
