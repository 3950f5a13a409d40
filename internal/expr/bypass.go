package expr

import (
	"net/http"
	"strings"
)

// BypassRules is an ordered set of predicates. A request matching any of them
// is rendered without consulting or filling the cache.
type BypassRules struct {
	programs []Program
}

// CompileBypass compiles every expression, failing on the first bad one.
func CompileBypass(expressions []string) (*BypassRules, error) {
	if len(expressions) == 0 {
		return &BypassRules{}, nil
	}
	env, err := NewEnvironment()
	if err != nil {
		return nil, err
	}
	rules := &BypassRules{programs: make([]Program, 0, len(expressions))}
	for _, raw := range expressions {
		program, err := env.Compile(raw)
		if err != nil {
			return nil, err
		}
		rules.programs = append(rules.programs, program)
	}
	return rules, nil
}

// Len reports how many rules are compiled.
func (b *BypassRules) Len() int {
	if b == nil {
		return 0
	}
	return len(b.programs)
}

// Match returns the source of the first rule that matches r. Evaluation errors
// count as no match and are returned alongside so callers can log them.
func (b *BypassRules) Match(r *http.Request) (string, bool, error) {
	if b.Len() == 0 || r == nil {
		return "", false, nil
	}
	activation := map[string]any{"request": RequestActivation(r)}
	var firstErr error
	for _, program := range b.programs {
		matched, err := program.EvalBool(activation)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if matched {
			return program.Source(), true, nil
		}
	}
	return "", false, firstErr
}

// RequestActivation flattens r into the map exposed as `request`. Multi-valued
// headers and query parameters collapse to their first value.
func RequestActivation(r *http.Request) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	values := r.URL.Query()
	query := make(map[string]any, len(values))
	for name, vals := range values {
		if len(vals) > 0 {
			query[name] = vals[0]
		}
	}
	return map[string]any{
		"path":      r.URL.Path,
		"query":     query,
		"userAgent": r.UserAgent(),
		"headers":   headers,
	}
}
