package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a route or trigger pattern as a regular expression.
const RegexPrefix = "re:"

// Stage is an immutable, named definition of one outbound message and the
// rules for interpreting the reply to it.
type Stage struct {
	Name    string
	Message Message
	Routes  []Route

	// Session persists the stage as current before it is sent.
	Session bool
	// Checkpoint remembers the stage as the fallback for a bare "Retry".
	Checkpoint bool
	// Authenticated gates the stage on an active auth session.
	Authenticated bool
	// Acknowledge marks the inbound message as read.
	Acknowledge bool
	// Transient stages are sent but never recorded as current.
	Transient bool

	// Prop stores the raw scalar reply under this property name.
	Prop string
	// ReplyMessageID quotes a previous message when sending.
	ReplyMessageID string

	OnGenerate string
	OnReceive  string
	Validator  string
	Middleware string
	Router     string

	Params map[string]any
}

// Kind returns the kind of the stage message, or "" when none is set.
func (s Stage) Kind() Kind {
	if s.Message == nil {
		return ""
	}
	return s.Message.Kind()
}

// HasLiteralRoute reports whether the stage declares a literal route for input.
func (s Stage) HasLiteralRoute(input string) bool {
	for _, r := range s.Routes {
		if !r.IsRegex && strings.EqualFold(strings.TrimSpace(r.Pattern), strings.TrimSpace(input)) {
			return true
		}
	}
	return false
}

// HookNames returns all hook names the stage references, in pipeline order.
func (s Stage) HookNames() []string {
	var names []string
	for _, n := range []string{s.Validator, s.OnReceive, s.Middleware, s.Router, s.OnGenerate} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Route leads from a stage to Next when the reply matches Pattern.
type Route struct {
	Pattern string
	Next    string
	IsRegex bool

	re *regexp.Regexp
}

// NewRoute builds a route, compiling the pattern when it carries RegexPrefix.
func NewRoute(pattern, next string) (Route, error) {
	r := Route{Pattern: pattern, Next: next}
	if strings.HasPrefix(pattern, RegexPrefix) {
		re, err := regexp.Compile(strings.TrimPrefix(pattern, RegexPrefix))
		if err != nil {
			return Route{}, fmt.Errorf("invalid route pattern %q: %w", pattern, err)
		}
		r.Pattern = strings.TrimPrefix(pattern, RegexPrefix)
		r.IsRegex = true
		r.re = re
	}
	return r, nil
}

// Matches reports whether input selects this route.
// Literal patterns compare case-insensitively; regex patterns match anywhere in input.
func (r Route) Matches(input string) bool {
	return match(r.Pattern, r.IsRegex, r.re, input)
}

// Trigger is a stage-independent pattern that forces a jump to Target.
type Trigger struct {
	Pattern string
	Target  string
	IsRegex bool

	re *regexp.Regexp
}

// NewTrigger builds a trigger, compiling the pattern when it carries RegexPrefix.
func NewTrigger(pattern, target string) (Trigger, error) {
	r, err := NewRoute(pattern, target)
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{Pattern: r.Pattern, Target: target, IsRegex: r.IsRegex, re: r.re}, nil
}

// Matches reports whether input fires the trigger.
func (t Trigger) Matches(input string) bool {
	return match(t.Pattern, t.IsRegex, t.re, input)
}

func match(pattern string, isRegex bool, re *regexp.Regexp, input string) bool {
	if !isRegex {
		return strings.EqualFold(strings.TrimSpace(pattern), strings.TrimSpace(input))
	}
	if re == nil {
		ok, err := regexp.MatchString(pattern, input)
		return err == nil && ok
	}
	return re.MatchString(input)
}

// ParseTarget splits a "target|param" trigger destination.
func ParseTarget(def string) (target, param string) {
	target, param, _ = strings.Cut(def, "|")
	return strings.TrimSpace(target), strings.TrimSpace(param)
}
