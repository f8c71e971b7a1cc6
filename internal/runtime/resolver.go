package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/ports"
)

// Messages shown to the user for recoverable failures.
const (
	MsgInvalidResponse     = "Invalid response, please try again"
	MsgUnsupportedResponse = "Unsupported response, kindly provide a valid response"
	MsgAuthExpired         = "Your session has expired. Kindly login again to access our WhatsApp Services"
	MsgInactive            = "You have been inactive for a while, to secure your account, kindly login again"
)

const retryKeyword = "retry"

// Resolution is the outcome of resolving one turn.
type Resolution struct {
	Current domain.Stage
	Next    domain.Stage
	Arg     *domain.HookArg

	FirstContact bool
	FromTrigger  bool
	Trigger      TriggerMatch
}

// Resolver computes the next stage of a conversation and runs the hooks
// around that decision.
type Resolver struct {
	storage  ports.StageStorage
	pipeline *Pipeline
	triggers *TriggerSet
	settings Settings
	logger   *slog.Logger
}

// NewResolver creates a resolver. logger may be nil.
func NewResolver(storage ports.StageStorage, pipeline *Pipeline, settings Settings, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		storage:  storage,
		pipeline: pipeline,
		triggers: NewTriggerSet(settings),
		settings: settings,
		logger:   logger,
	}
}

// turn is the working state of one resolution.
type turn struct {
	sess  domain.SessionAccessor
	user  domain.User
	input domain.Input
	text  string

	current      domain.Stage
	firstContact bool
	fromTrigger  bool
	trigger      TriggerMatch
}

// Resolve runs the resolution order for one inbound message against the
// locked session sess.
func (r *Resolver) Resolve(ctx context.Context, sess domain.SessionAccessor, user domain.User, input domain.Input) (*Resolution, error) {
	t := &turn{sess: sess, user: user, input: input, text: input.Text()}

	if err := r.loadCurrent(ctx, t); err != nil {
		return nil, err
	}

	switch input.Kind {
	case domain.MessageContacts, domain.MessageOrder, domain.MessageReaction:
		return nil, &domain.ResponseError{Stage: t.current.Name, Msg: MsgUnsupportedResponse}
	}

	if !t.firstContact && input.Kind.Triggerable() {
		if err := r.checkTriggers(ctx, t); err != nil {
			return nil, err
		}
	}

	if !t.fromTrigger && !t.current.Session {
		if err := sess.Save(domain.KeyCurrentStage, t.current.Name); err != nil {
			return nil, err
		}
	}
	if t.current.Checkpoint {
		if err := sess.Save(domain.KeyCheckpoint, t.current.Name); err != nil {
			return nil, err
		}
	}

	arg := r.newArg(t)

	if err := r.receive(ctx, t, arg); err != nil {
		return nil, err
	}

	nextName, err := r.nextStage(ctx, t, arg)
	if err != nil {
		return nil, err
	}

	next, err := r.stage(ctx, nextName)
	if err != nil {
		return nil, err
	}

	if err := r.checkAuth(next, sess); err != nil {
		return nil, err
	}

	if err := r.generate(ctx, next, arg); err != nil {
		return nil, err
	}

	return &Resolution{
		Current:      t.current,
		Next:         next,
		Arg:          arg,
		FirstContact: t.firstContact,
		FromTrigger:  t.fromTrigger,
		Trigger:      t.trigger,
	}, nil
}

func (r *Resolver) loadCurrent(ctx context.Context, t *turn) error {
	var name string
	found, err := t.sess.Get(domain.KeyCurrentStage, &name)
	if err != nil {
		return err
	}

	if !found || name == "" {
		start, err := r.storage.Stage(ctx, r.settings.StartStage)
		if err != nil {
			return &domain.ConfigError{Stage: r.settings.StartStage, Msg: "configured start stage does not exist", Err: err}
		}
		t.current = start
		t.firstContact = true
		if err := t.sess.Save(domain.KeyCurrentStage, start.Name); err != nil {
			return err
		}
		return t.sess.Save(domain.KeyPrevStage, start.Name)
	}

	current, err := r.stage(ctx, name)
	if err != nil {
		return err
	}
	t.current = current
	return nil
}

func (r *Resolver) checkTriggers(ctx context.Context, t *turn) error {
	match, ok := r.triggers.MatchBuiltin(t.text)
	if ok && match.Kind == TriggerBack && isRetry(t.text) {
		pending, err := r.checkpointPending(t)
		if err != nil {
			return err
		}
		if pending {
			ok = false
		}
	}

	if ok {
		target, err := r.builtinTarget(t, match)
		if err != nil {
			return err
		}
		match.Target = target

		arg := r.newArg(t)
		arg.FromTrigger = true
		if err := r.pipeline.Run(ctx, r.settings.GlobalTriggerHook, arg); err != nil {
			return err
		}
	} else {
		triggers, err := r.storage.Triggers(ctx)
		if err != nil {
			return &domain.ConfigError{Msg: "failed to load triggers", Err: err}
		}
		if match, ok = MatchCustom(triggers, t.text); !ok {
			return nil
		}
	}

	stage, err := r.stage(ctx, match.Target)
	if err != nil {
		return err
	}

	r.logger.Debug("Stage changed by trigger",
		"session_id", t.user.ID,
		"trigger", match.Kind.String(),
		"from", t.current.Name,
		"stage", stage.Name,
	)

	t.current = stage
	t.fromTrigger = true
	t.trigger = match
	return nil
}

func (r *Resolver) builtinTarget(t *turn, match TriggerMatch) (string, error) {
	switch match.Kind {
	case TriggerMenu:
		return r.settings.StartStage, nil
	case TriggerReport:
		if r.settings.ReportStage == "" {
			return "", &domain.ConfigError{Msg: "report triggered but no report stage is configured"}
		}
		return r.settings.ReportStage, nil
	case TriggerBack:
		if isRetry(t.text) {
			// A bare retry after a failed turn re-renders the stage the user is on.
			retrying, err := t.sess.KeyInSession(domain.KeyDynamicRetry, false)
			if err != nil {
				return "", err
			}
			if retrying {
				return t.current.Name, nil
			}
		}
		var prev string
		found, err := t.sess.Get(domain.KeyPrevStage, &prev)
		if err != nil {
			return "", err
		}
		if !found || prev == "" {
			return r.settings.StartStage, nil
		}
		return prev, nil
	}
	return match.Target, nil
}

// checkpointPending reports whether a bare "Retry" should go to the checkpoint.
func (r *Resolver) checkpointPending(t *turn) (bool, error) {
	if t.fromTrigger || !isRetry(t.text) || t.current.HasLiteralRoute(domain.ButtonRetry) {
		return false, nil
	}
	var checkpoint string
	found, err := t.sess.Get(domain.KeyCheckpoint, &checkpoint)
	if err != nil || !found || checkpoint == "" {
		return false, err
	}
	return t.sess.KeyInSession(domain.KeyDynamicRetry, false)
}

func (r *Resolver) newArg(t *turn) *domain.HookArg {
	arg := &domain.HookArg{
		SessionID:   t.user.ID,
		Session:     t.sess,
		User:        t.user,
		Input:       t.text,
		Data:        map[string]any{},
		Params:      map[string]any{},
		FromTrigger: t.fromTrigger,
		Output:      map[string]any{},
	}
	if t.input.Structured() {
		for k, v := range t.input.Body {
			arg.Data[k] = v
		}
	}
	for k, v := range t.current.Params {
		arg.Params[k] = v
	}
	if t.trigger.Param != "" {
		arg.Params[domain.ParamTriggerRoute] = t.trigger.Param
	}
	return arg
}

// receive runs the hooks bound to the reply of the current stage.
// They are skipped while a dynamic retry is pending.
func (r *Resolver) receive(ctx context.Context, t *turn, arg *domain.HookArg) error {
	retrying, err := t.sess.KeyInSession(domain.KeyDynamicRetry, false)
	if err != nil || retrying {
		return err
	}

	// The user has not answered a stage reached by first contact or a trigger.
	answered := !t.firstContact && !t.fromTrigger
	if answered {
		for _, name := range []string{t.current.Validator, t.current.OnReceive, t.current.Middleware} {
			if err := r.pipeline.Run(ctx, name, arg); err != nil {
				return err
			}
		}
	}

	if err := r.pipeline.RunAll(ctx, r.settings.GlobalPostHooks, arg); err != nil {
		return err
	}

	if answered && t.current.Prop != "" {
		var value any = t.text
		if t.text == "" && len(arg.Data) > 0 {
			value = arg.Data
		}
		if err := t.sess.SaveProp(t.current.Prop, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) nextStage(ctx context.Context, t *turn, arg *domain.HookArg) (string, error) {
	if t.firstContact {
		return r.settings.StartStage, nil
	}

	if err := r.checkInactivity(t.sess); err != nil {
		return "", err
	}

	pending, err := r.checkpointPending(t)
	if err != nil {
		return "", err
	}
	if pending {
		var checkpoint string
		if _, err := t.sess.Get(domain.KeyCheckpoint, &checkpoint); err != nil {
			return "", err
		}
		return checkpoint, nil
	}

	if t.current.Router != "" {
		next, err := r.pipeline.Route(ctx, t.current.Router, arg)
		if err != nil {
			r.logger.Error("Router hook failed, falling back to routes",
				"session_id", t.user.ID, "stage", t.current.Name, "hook", t.current.Router, "err", err)
		} else if next != "" {
			return next, nil
		}
	}

	if t.fromTrigger {
		return t.current.Name, nil
	}

	if !t.current.Kind().CarriesDecision() {
		if len(t.current.Routes) == 0 {
			return "", &domain.ConfigError{Stage: t.current.Name, Msg: "stage has no route to continue to"}
		}
		return t.current.Routes[0].Next, nil
	}

	if next, ok := matchRoutes(t.current.Routes, t.text); ok {
		return next, nil
	}
	return "", &domain.ResponseError{Stage: t.current.Name, Msg: MsgInvalidResponse}
}

// matchRoutes tries literal routes before regex routes, each group in declared order.
func matchRoutes(routes []domain.Route, input string) (string, bool) {
	if input == "" {
		return "", false
	}
	for _, rt := range routes {
		if !rt.IsRegex && rt.Matches(input) {
			return rt.Next, true
		}
	}
	for _, rt := range routes {
		if rt.IsRegex && rt.Matches(input) {
			return rt.Next, true
		}
	}
	return "", false
}

func (r *Resolver) checkAuth(next domain.Stage, sess domain.SessionAccessor) error {
	if !next.Authenticated || !r.settings.AuthRequired {
		return nil
	}
	active, err := sess.KeyInSession(domain.KeyAuthSession, false)
	if err != nil {
		return err
	}
	var expireAt string
	found, err := sess.Get(domain.KeyAuthExpireAt, &expireAt)
	if err != nil {
		return err
	}
	if !active || !found {
		return &domain.SessionExpiredError{Reason: MsgAuthExpired}
	}
	at, err := parseTimestamp(expireAt)
	if err != nil || r.settings.now().After(at) {
		return &domain.SessionExpiredError{Reason: MsgAuthExpired}
	}
	return nil
}

func (r *Resolver) checkInactivity(sess domain.SessionAccessor) error {
	if !r.settings.HandleInactivity || !r.settings.AuthRequired || r.settings.InactivityTimeout <= 0 {
		return nil
	}
	active, err := sess.KeyInSession(domain.KeyAuthSession, false)
	if err != nil || !active {
		return err
	}
	var last string
	found, err := sess.Get(domain.KeyLastActivity, &last)
	if err != nil || !found {
		return err
	}
	at, err := parseTimestamp(last)
	if err != nil {
		r.logger.Warn("Ignoring unreadable last activity timestamp", "value", last, "err", err)
		return nil
	}
	elapsed := r.settings.now().Sub(at)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	if elapsed > r.settings.InactivityTimeout {
		return &domain.SessionExpiredError{Reason: MsgInactive}
	}
	return nil
}

// generate runs the hooks that shape the outbound content of next.
func (r *Resolver) generate(ctx context.Context, next domain.Stage, arg *domain.HookArg) error {
	for k, v := range next.Params {
		arg.Params[k] = v
	}
	if err := r.pipeline.Run(ctx, next.OnGenerate, arg); err != nil {
		return err
	}
	return r.pipeline.RunAll(ctx, r.settings.GlobalPreHooks, arg)
}

func (r *Resolver) stage(ctx context.Context, name string) (domain.Stage, error) {
	if name == "" {
		return domain.Stage{}, &domain.ConfigError{Msg: "empty stage name"}
	}
	st, err := r.storage.Stage(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrStageNotFound) {
			return domain.Stage{}, &domain.ConfigError{Stage: name, Msg: "stage not found", Err: err}
		}
		return domain.Stage{}, &domain.ConfigError{Stage: name, Msg: "failed to load stage", Err: err}
	}
	return st, nil
}

func isRetry(input string) bool {
	return strings.EqualFold(strings.TrimSpace(input), retryKeyword)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp reads RFC 3339 and zone-less ISO 8601 timestamps.
// Zone-less values are taken as local time.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
