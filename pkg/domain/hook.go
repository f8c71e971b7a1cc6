package domain

// OutputRoute is the HookArg.Output key a router hook writes the next stage to.
const OutputRoute = "route"

// ParamTriggerRoute is the HookArg.Params key carrying a trigger's route parameter.
const ParamTriggerRoute = "trigger-route"

// SessionAccessor is the view of one session's state available during a turn.
// Reads of missing keys report found == false and never fail for that reason.
type SessionAccessor interface {
	Get(key string, out any) (bool, error)
	Save(key string, value any) error
	Evict(key string) error

	SaveProp(key string, value any) error
	GetProp(key string, out any) (bool, error)
	EvictProp(key string) (bool, error)
	UserProps() (map[string]any, error)

	SaveGlobal(key string, value any) error
	GetGlobal(key string, out any) (bool, error)
	EvictGlobal(key string) error

	Clear(retain ...string) error
	KeyInSession(key string, checkGlobal bool) (bool, error)
}

// OutboundContent lets hooks shape what gets sent for a stage.
type OutboundContent struct {
	// Message replaces the stage message (required for dynamic stages).
	Message Message
	// Variables are substituted into the stage message by the sender.
	Variables map[string]any
	// FlowPayload is the initial data for flow stages.
	FlowPayload map[string]any
}

// HookArg is the value passed into every hook call of a turn.
//
// The engine owns it. A hook receives a copy and only Content and Output
// are read back from the value it returns.
type HookArg struct {
	SessionID   string
	Session     SessionAccessor
	User        User
	Input       string
	Data        map[string]any
	Params      map[string]any
	FromTrigger bool

	Content *OutboundContent
	Output  map[string]any
}

// Clone returns a copy whose maps can be mutated without affecting a.
func (a *HookArg) Clone() *HookArg {
	c := *a
	c.Data = copyMap(a.Data)
	c.Params = copyMap(a.Params)
	c.Output = copyMap(a.Output)
	if a.Content != nil {
		content := *a.Content
		c.Content = &content
	}
	return &c
}

// Route returns the next stage written by a router hook, if any.
func (a *HookArg) Route() string {
	s, _ := a.Output[OutputRoute].(string)
	return s
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
