package watching

import "regexp"

// Matcher is a compiled path matcher. It answers a single question -
// does this path match? - and is otherwise opaque to the watching package.
// Callers are expected to compile their own glob syntax down to the regular
// expression strings accepted by NewMatcher; this package does not implement
// glob semantics itself.
type Matcher struct {
	expression *regexp.Regexp
}

// NewMatcher compiles a regular expression string into a Matcher. The
// expression is anchored at both ends, so it must match the whole path; a
// match on only part of the path does not count.
func NewMatcher(expression string) (*Matcher, error) {
	expr, err := regexp.Compile("^(?:" + expression + ")$")
	if err != nil {
		return nil, err
	}
	return &Matcher{expression: expr}, nil
}

// Matches reports whether path matches the compiled expression.
func (m *Matcher) Matches(path string) bool {
	if m == nil {
		return false
	}
	return m.expression.MatchString(path)
}

// compileMatchers compiles a set of glob/regex strings into Matchers,
// wrapping the first failure in ErrInvalidIgnoreGlob.
func compileMatchers(expressions []string) ([]*Matcher, error) {
	if len(expressions) == 0 {
		return nil, nil
	}
	matchers := make([]*Matcher, 0, len(expressions))
	for _, expression := range expressions {
		m, err := NewMatcher(expression)
		if err != nil {
			return nil, &wrapError{ErrInvalidIgnoreGlob, expression, err}
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// wrapError attaches context to a sentinel error without losing the
// underlying cause, for use in errors.Is chains.
type wrapError struct {
	sentinel error
	context  string
	cause    error
}

func (e *wrapError) Error() string {
	return e.context + ": " + e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *wrapError) Is(target error) bool {
	return target == e.sentinel
}

func (e *wrapError) Unwrap() error {
	return e.cause
}
