package runtime

import "time"

// Settings carries the engine behaviour knobs the runtime needs.
// The root package maps its public Config onto it.
type Settings struct {
	StartStage  string
	ReportStage string

	MenuKeywords   []string
	BackKeywords   []string
	ReportKeywords []string
	// GlobalTriggers maps a keyword to a "target|param" destination.
	GlobalTriggers map[string]string

	GlobalPreHooks      []string
	GlobalPostHooks     []string
	GlobalTriggerHook   string
	ExternalHandlerHook string

	AuthRequired      bool
	HandleInactivity  bool
	InactivityTimeout time.Duration

	Dedup     bool
	RingSize  int
	Debounce  time.Duration
	Staleness time.Duration

	ReadReceipts bool
	// PersistAlways records the next stage even when delivery failed.
	PersistAlways bool

	Now func() time.Time
}

// DefaultRingSize is the dedup ring length used when Settings.RingSize is unset.
const DefaultRingSize = 10

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Settings) ringSize() int {
	if s.RingSize <= 0 {
		return DefaultRingSize
	}
	return s.RingSize
}

func orDefault(keywords []string, def ...string) []string {
	if len(keywords) == 0 {
		return def
	}
	return keywords
}
