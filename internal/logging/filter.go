package logging

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Filter decides which components may log. The syntax is a comma or
// whitespace separated list of component names; "*" matches any run of
// characters and a leading "-" excludes the component.
type Filter struct {
	names []*regexp.Regexp
	skips []*regexp.Regexp
}

// ParseFilter compiles a filter expression. An empty expression enables everything.
func ParseFilter(expr string) *Filter {
	f := &Filter{}
	for _, part := range strings.FieldsFunc(expr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		skip := strings.HasPrefix(part, "-")
		part = strings.TrimPrefix(part, "-")
		if part == "" {
			continue
		}

		pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(part), `\*`, ".*?") + "$"
		re := regexp.MustCompile(pattern)
		if skip {
			f.skips = append(f.skips, re)
		} else {
			f.names = append(f.names, re)
		}
	}
	return f
}

// Enabled reports whether the named component passes the filter.
func (f *Filter) Enabled(name string) bool {
	if f == nil {
		return true
	}
	if strings.HasSuffix(name, "*") {
		return true
	}
	if matchAny(f.skips, name) {
		return false
	}
	if len(f.names) > 0 {
		return matchAny(f.names, name)
	}
	return true
}

func matchAny(set []*regexp.Regexp, name string) bool {
	for _, re := range set {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Component returns a child logger tagged with the component name, or a
// disabled logger when the filter excludes it.
func Component(logger zerolog.Logger, filter *Filter, name string) zerolog.Logger {
	if !filter.Enabled(name) {
		return zerolog.Nop()
	}
	return logger.With().Str("component", name).Logger()
}
