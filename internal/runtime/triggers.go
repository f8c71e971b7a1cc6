package runtime

import (
	"sort"
	"strings"

	"github.com/aretw0/wadialog/pkg/domain"
)

// TriggerKind identifies which built-in trigger fired.
type TriggerKind int

const (
	TriggerNone TriggerKind = iota
	TriggerMenu
	TriggerBack
	TriggerReport
	TriggerGlobal
	TriggerCustom
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerMenu:
		return "menu"
	case TriggerBack:
		return "back"
	case TriggerReport:
		return "report"
	case TriggerGlobal:
		return "global"
	case TriggerCustom:
		return "custom"
	}
	return "none"
}

// TriggerMatch is the outcome of checking input against the trigger set.
// Target is empty for menu, back and report; the resolver fills those in.
type TriggerMatch struct {
	Kind    TriggerKind
	Keyword string
	Target  string
	Param   string
}

type globalTrigger struct {
	keyword string
	target  string
	param   string
}

// TriggerSet holds the built-in and global keyword triggers.
// Storage-provided triggers are matched separately by MatchCustom.
type TriggerSet struct {
	menu    []string
	back    []string
	report  []string
	globals []globalTrigger
}

// NewTriggerSet builds the keyword triggers from settings.
func NewTriggerSet(s Settings) *TriggerSet {
	t := &TriggerSet{
		menu:   orDefault(s.MenuKeywords, "menu"),
		back:   orDefault(s.BackKeywords, "back", "retry"),
		report: orDefault(s.ReportKeywords, "report"),
	}
	for keyword, def := range s.GlobalTriggers {
		target, param := domain.ParseTarget(def)
		t.globals = append(t.globals, globalTrigger{keyword: keyword, target: target, param: param})
	}
	// map order is random; keep matching deterministic
	sort.Slice(t.globals, func(i, j int) bool { return t.globals[i].keyword < t.globals[j].keyword })
	return t
}

// MatchBuiltin checks input against menu, back, report and global keywords,
// in that order. Matching is case-insensitive on the trimmed input.
func (t *TriggerSet) MatchBuiltin(input string) (TriggerMatch, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TriggerMatch{}, false
	}
	if kw, ok := matchKeyword(t.menu, input); ok {
		return TriggerMatch{Kind: TriggerMenu, Keyword: kw}, true
	}
	if kw, ok := matchKeyword(t.back, input); ok {
		return TriggerMatch{Kind: TriggerBack, Keyword: kw}, true
	}
	if kw, ok := matchKeyword(t.report, input); ok {
		return TriggerMatch{Kind: TriggerReport, Keyword: kw}, true
	}
	for _, g := range t.globals {
		if strings.EqualFold(g.keyword, input) {
			return TriggerMatch{Kind: TriggerGlobal, Keyword: g.keyword, Target: g.target, Param: g.param}, true
		}
	}
	return TriggerMatch{}, false
}

// MatchCustom returns the first storage trigger matching input.
func MatchCustom(triggers []domain.Trigger, input string) (TriggerMatch, bool) {
	if strings.TrimSpace(input) == "" {
		return TriggerMatch{}, false
	}
	for _, tr := range triggers {
		if tr.Matches(input) {
			target, param := domain.ParseTarget(tr.Target)
			return TriggerMatch{Kind: TriggerCustom, Keyword: tr.Pattern, Target: target, Param: param}, true
		}
	}
	return TriggerMatch{}, false
}

func matchKeyword(keywords []string, input string) (string, bool) {
	for _, kw := range keywords {
		if strings.EqualFold(strings.TrimSpace(kw), input) {
			return kw, true
		}
	}
	return "", false
}
