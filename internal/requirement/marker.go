package requirement

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// MarkerEnv holds the environment marker values a requirement is evaluated
// against, keyed by marker variable name.
type MarkerEnv map[string]string

// NewMarkerEnv describes a CPython interpreter of the given version running on
// a wheel platform tag. pythonVersion may be "3.11" or a full "3.11.9".
// Variables that cannot be derived from an unknown platform are left unset.
func NewMarkerEnv(pythonVersion, platformTag string) MarkerEnv {
	env := MarkerEnv{
		"python_version":                 majorMinor(pythonVersion),
		"python_full_version":            pythonVersion,
		"implementation_name":            "cpython",
		"implementation_version":         pythonVersion,
		"platform_python_implementation": "CPython",
		"extra":                          "",
	}

	switch {
	case strings.HasPrefix(platformTag, "win"):
		env["sys_platform"] = "win32"
		env["platform_system"] = "Windows"
		env["os_name"] = "nt"
		switch platformTag {
		case "win_amd64":
			env["platform_machine"] = "AMD64"
		case "win32":
			env["platform_machine"] = "x86"
		case "win_arm64":
			env["platform_machine"] = "ARM64"
		}
	case strings.HasPrefix(platformTag, "linux"), strings.HasPrefix(platformTag, "manylinux"), strings.HasPrefix(platformTag, "musllinux"):
		env["sys_platform"] = "linux"
		env["platform_system"] = "Linux"
		env["os_name"] = "posix"
		env["platform_machine"] = tagMachine(platformTag)
	case strings.HasPrefix(platformTag, "macosx"):
		env["sys_platform"] = "darwin"
		env["platform_system"] = "Darwin"
		env["os_name"] = "posix"
		env["platform_machine"] = tagMachine(platformTag)
	}
	for k, v := range env {
		if v == "" && k != "extra" {
			delete(env, k)
		}
	}
	return env
}

var tagMachines = []string{"x86_64", "aarch64", "arm64", "i686", "ppc64le", "s390x", "universal2"}

func tagMachine(tag string) string {
	for _, m := range tagMachines {
		if strings.HasSuffix(tag, "_"+m) {
			return m
		}
	}
	return ""
}

func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}

// Applies reports whether the requirement's marker holds in env. A
// requirement without a marker always applies.
func (r Requirement) Applies(env MarkerEnv) (bool, error) {
	if r.Marker == "" {
		return true, nil
	}
	return EvaluateMarker(r.Marker, env)
}

// Select splits reqs into the requirements that apply in env and those whose
// marker excludes them. Every marker is evaluated; failures are returned
// together.
func Select(reqs []Requirement, env MarkerEnv) (kept, skipped []Requirement, err error) {
	for _, req := range reqs {
		ok, evalErr := req.Applies(env)
		if evalErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", req.Name, evalErr))
			continue
		}
		if ok {
			kept = append(kept, req)
		} else {
			skipped = append(skipped, req)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return kept, skipped, nil
}

// EvaluateMarker evaluates a PEP 508 marker expression such as
// `sys_platform == "win32" and python_version >= "3.8"`.
func EvaluateMarker(marker string, env MarkerEnv) (bool, error) {
	expr, err := parseMarker(marker)
	if err != nil {
		return false, err
	}
	return expr.eval(env)
}

type markerExpr interface {
	eval(env MarkerEnv) (bool, error)
}

type markerOr []markerExpr

func (m markerOr) eval(env MarkerEnv) (bool, error) {
	for _, e := range m {
		ok, err := e.eval(env)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

type markerAnd []markerExpr

func (m markerAnd) eval(env MarkerEnv) (bool, error) {
	for _, e := range m {
		ok, err := e.eval(env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// markerValue is a variable name or a quoted literal.
type markerValue struct {
	text     string
	variable bool
}

func (v markerValue) resolve(env MarkerEnv) (string, error) {
	if !v.variable {
		return v.text, nil
	}
	val, ok := env[v.text]
	if !ok {
		return "", fmt.Errorf("marker variable %s is not known for this environment", v.text)
	}
	return val, nil
}

type markerCompare struct {
	lhs, rhs markerValue
	op       string
}

func (m markerCompare) eval(env MarkerEnv) (bool, error) {
	lhs, err := m.lhs.resolve(env)
	if err != nil {
		return false, err
	}
	rhs, err := m.rhs.resolve(env)
	if err != nil {
		return false, err
	}

	switch m.op {
	case "in":
		return strings.Contains(rhs, lhs), nil
	case "not in":
		return !strings.Contains(rhs, lhs), nil
	}

	if v, err := ParseVersion(lhs); err == nil && validateSpecVersion(m.op, rhs) == nil {
		return Specifier{Op: m.op, Version: rhs}.Contains(v), nil
	}

	switch m.op {
	case "==", "===":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "<":
		return lhs < rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">":
		return lhs > rhs, nil
	case ">=":
		return lhs >= rhs, nil
	}
	return false, fmt.Errorf("cannot compare %q %s %q", lhs, m.op, rhs)
}

var markerVariables = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

type markerParser struct {
	tokens []string
	pos    int
}

func parseMarker(marker string) (markerExpr, error) {
	tokens, err := tokenizeMarker(marker)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty marker")
	}
	p := &markerParser{tokens: tokens}
	expr, err := p.or()
	if err != nil {
		return nil, fmt.Errorf("marker %q: %w", marker, err)
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("marker %q: unexpected %q", marker, p.tokens[p.pos])
	}
	return expr, nil
}

func (p *markerParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *markerParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *markerParser) or() (markerExpr, error) {
	var terms markerOr
	for {
		e, err := p.and()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
		if p.peek() != "or" {
			break
		}
		p.next()
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *markerParser) and() (markerExpr, error) {
	var terms markerAnd
	for {
		e, err := p.atom()
		if err != nil {
			return nil, err
		}
		terms = append(terms, e)
		if p.peek() != "and" {
			break
		}
		p.next()
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}

func (p *markerParser) atom() (markerExpr, error) {
	if p.peek() == "(" {
		p.next()
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("unbalanced parenthesis")
		}
		return e, nil
	}

	lhs, err := p.value()
	if err != nil {
		return nil, err
	}
	op := p.next()
	switch op {
	case "===", "==", "!=", "<=", ">=", "~=", "<", ">", "in":
	case "not":
		if p.next() != "in" {
			return nil, fmt.Errorf(`expected "in" after "not"`)
		}
		op = "not in"
	case "":
		return nil, fmt.Errorf("missing operator")
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	rhs, err := p.value()
	if err != nil {
		return nil, err
	}
	if !lhs.variable && !rhs.variable {
		return nil, fmt.Errorf("comparison of two literals")
	}
	return markerCompare{lhs: lhs, op: op, rhs: rhs}, nil
}

func (p *markerParser) value() (markerValue, error) {
	t := p.next()
	switch {
	case t == "":
		return markerValue{}, fmt.Errorf("unexpected end of marker")
	case t[0] == '"' || t[0] == '\'':
		return markerValue{text: t[1 : len(t)-1]}, nil
	case markerVariables[t]:
		return markerValue{text: t, variable: true}, nil
	}
	return markerValue{}, fmt.Errorf("unknown marker variable %q", t)
}

func tokenizeMarker(s string) ([]string, error) {
	var tokens []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in marker %q", s)
			}
			tokens = append(tokens, s[i:i+end+2])
			i += end + 2
		case strings.ContainsRune("=!<>~", rune(c)):
			j := i
			for j < len(s) && strings.ContainsRune("=!<>~", rune(s[j])) {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		case isMarkerIdent(c):
			j := i
			for j < len(s) && isMarkerIdent(s[j]) {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q in marker %q", c, s)
		}
	}
	return tokens, nil
}

func isMarkerIdent(c byte) bool {
	return c == '_' || c == '.' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
