package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/wadialog/internal/runtime"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graph(t *testing.T) []domain.Stage {
	return []domain.Stage{
		{
			Name:    "START-MENU",
			Message: buttons("Welcome", "Buy", "Sell"),
			Routes: []domain.Route{
				route(t, "buy", "BUY"),
				route(t, "sell", "SELL"),
				route(t, "numbers", "NUMBERS"),
			},
		},
		{
			Name:    "BUY",
			Message: domain.TextMessage{Body: "What do you want to buy?"},
			Routes:  []domain.Route{route(t, "re:.*", "START-MENU")},
		},
		{
			Name:    "SELL",
			Message: buttons("Sell what?", "Car", "Menu"),
			// A literal "menu" route must lose to the menu trigger.
			Routes: []domain.Route{route(t, "menu", "BUY"), route(t, "car", "BUY")},
		},
		{
			Name:    "NUMBERS",
			Message: domain.TextMessage{Body: "Pick a number"},
			Routes:  []domain.Route{route(t, "re:^[0-9]+$", "B"), route(t, "1", "A")},
		},
		{Name: "A", Message: domain.TextMessage{Body: "A"}},
		{Name: "B", Message: domain.TextMessage{Body: "B"}},
		{Name: "REPORT", Message: domain.TextMessage{Body: "Report a problem"}},
	}
}

func TestWorker_FirstContactPersistsStartStage(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})

	outcome, err := f.send("hi")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeProcessed, outcome)

	assert.Equal(t, "START-MENU", f.currentStage())
	prev, _ := f.get(domain.KeyPrevStage)
	assert.Equal(t, "START-MENU", prev)
	assert.Equal(t, "START-MENU", f.sender.last(t).Stage.Name)

	last, _ := f.get(domain.KeyLastMessageID)
	assert.Equal(t, "wamid.001", last)
}

func TestWorker_DuplicateMessageIsProcessedOnce(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	input := domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": "hi"}}

	outcome, err := f.sendAs("wamid.dup", input)
	require.NoError(t, err)
	require.Equal(t, runtime.OutcomeProcessed, outcome)

	var debounceBefore int64
	_, err = f.sessions.Get(context.Background(), userID, domain.KeyDebounce, &debounceBefore)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	outcome, err = f.sendAs("wamid.dup", input)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeDuplicate, outcome)

	assert.Equal(t, 1, f.sender.count())

	var ring []string
	_, err = f.sessions.Get(context.Background(), userID, domain.KeyMessageIDs, &ring)
	require.NoError(t, err)
	assert.Equal(t, []string{"wamid.dup"}, ring)

	var debounceAfter int64
	_, err = f.sessions.Get(context.Background(), userID, domain.KeyDebounce, &debounceAfter)
	require.NoError(t, err)
	assert.Equal(t, debounceBefore, debounceAfter, "a duplicate must not touch the session")
}

func TestWorker_DedupRingIsBounded(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{settings: func(s *runtime.Settings) { s.RingSize = 3 }})

	for i := 0; i < 5; i++ {
		_, err := f.send("buy")
		require.NoError(t, err)
	}

	var ring []string
	_, err := f.sessions.Get(context.Background(), userID, domain.KeyMessageIDs, &ring)
	require.NoError(t, err)
	assert.Equal(t, []string{"wamid.003", "wamid.004", "wamid.005"}, ring)
}

func TestWorker_DebounceAcceptsOneTurn(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	text := func(s string) domain.Input {
		return domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": s}}
	}

	outcome, err := f.sendAs("wamid.a", text("hi"))
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeProcessed, outcome)

	f.clock.Advance(2 * time.Second)
	outcome, err = f.sendAs("wamid.b", text("buy"))
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeDebounced, outcome)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, "START-MENU", f.currentStage())

	// Exactly one window after the first accepted turn is accepted again.
	f.clock.Advance(4 * time.Second)
	outcome, err = f.sendAs("wamid.c", text("buy"))
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeProcessed, outcome)
	assert.Equal(t, "BUY", f.currentStage())
}

func TestWorker_DropsUnsupportedAndStale(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})

	outcome, err := f.sendAs("wamid.u", domain.Input{Kind: domain.MessageUnsupported})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeUnsupported, outcome)

	old := f.user("wamid.old")
	old.Timestamp = f.clock.Now().Add(-time.Minute)
	outcome, err = f.worker.Process(context.Background(), old, domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeStale, outcome)

	assert.Zero(t, f.sender.count())
	_, found := f.get(domain.KeyCurrentStage)
	assert.False(t, found, "dropped messages must not create a session")
}

func TestWorker_LiteralRouteBeatsRegex(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	f.save(domain.KeyCurrentStage, "NUMBERS")

	_, err := f.send("1")
	require.NoError(t, err)
	assert.Equal(t, "A", f.currentStage())

	f.save(domain.KeyCurrentStage, "NUMBERS")
	_, err = f.send("42")
	require.NoError(t, err)
	assert.Equal(t, "B", f.currentStage())
}

func TestWorker_MenuAlwaysReturnsToStart(t *testing.T) {
	for _, from := range []string{"SELL", "BUY", "NUMBERS", "A"} {
		t.Run(from, func(t *testing.T) {
			f := newFixture(t, graph(t), fixtureOpts{})
			f.save(domain.KeyCurrentStage, from)

			_, err := f.send("  MENU ")
			require.NoError(t, err)
			assert.Equal(t, "START-MENU", f.currentStage())
			assert.Equal(t, "START-MENU", f.sender.last(t).Stage.Name)
			assert.True(t, f.sender.last(t).Arg.FromTrigger)
		})
	}
}

func TestWorker_BackAndReportTriggers(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})

	_, err := f.send("hi")
	require.NoError(t, err)
	_, err = f.send("sell")
	require.NoError(t, err)
	require.Equal(t, "SELL", f.currentStage())

	_, err = f.send("back")
	require.NoError(t, err)
	assert.Equal(t, "START-MENU", f.currentStage())

	_, err = f.send("Report")
	require.NoError(t, err)
	assert.Equal(t, "REPORT", f.currentStage())
}

func TestWorker_InvalidResponseKeepsStage(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	f.save(domain.KeyCurrentStage, "SELL")

	outcome, err := f.send("boat")
	assert.Equal(t, runtime.OutcomeFailed, outcome)
	var respErr *domain.ResponseError
	require.ErrorAs(t, err, &respErr)

	assert.Equal(t, "SELL", f.currentStage())
	msg, ok := f.sender.last(t).Stage.Message.(domain.ButtonMessage)
	require.True(t, ok)
	assert.Equal(t, runtime.MsgInvalidResponse+runtime.MsgReturnToMenu, msg.Body)
	assert.Equal(t, []string{domain.ButtonMenu, domain.ButtonReport}, msg.Buttons)
}

func TestWorker_UnsupportedReplyKind(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	f.save(domain.KeyCurrentStage, "SELL")

	_, err := f.sendAs("wamid.c", domain.Input{Kind: domain.MessageContacts, Body: map[string]any{}})
	var respErr *domain.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, runtime.MsgUnsupportedResponse, respErr.Msg)
}

func authGraph(t *testing.T) []domain.Stage {
	stages := graph(t)
	stages[0].Routes = append(stages[0].Routes, route(t, "account", "ACCOUNT"))
	return append(stages, domain.Stage{
		Name:          "ACCOUNT",
		Message:       domain.TextMessage{Body: "Your balance"},
		Authenticated: true,
	})
}

func TestWorker_AuthenticatedStageWithoutAuthClearsSession(t *testing.T) {
	f := newFixture(t, authGraph(t), fixtureOpts{settings: func(s *runtime.Settings) { s.AuthRequired = true }})

	_, err := f.send("hi")
	require.NoError(t, err)
	require.NoError(t, f.sessions.SaveProp(context.Background(), userID, "name", "Ana"))

	_, err = f.send("account")
	var expired *domain.SessionExpiredError
	require.ErrorAs(t, err, &expired)

	keys, err := f.backend.Keys(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, keys, "all session attributes must be gone")

	msg := f.sender.last(t).Stage.Message.(domain.ButtonMessage)
	assert.Equal(t, runtime.SecurityCheckTitle, msg.Title)
	assert.Equal(t, runtime.SessionExpiredFooter, msg.Footer)
	assert.Equal(t, []string{domain.ButtonMenu}, msg.Buttons)
}

func TestWorker_AuthenticatedStageWithAuth(t *testing.T) {
	f := newFixture(t, authGraph(t), fixtureOpts{settings: func(s *runtime.Settings) { s.AuthRequired = true }})

	_, err := f.send("hi")
	require.NoError(t, err)

	f.save(domain.KeyAuthSession, true)
	f.save(domain.KeyAuthExpireAt, f.clock.Now().Add(time.Hour).Format(time.RFC3339))
	_, err = f.send("account")
	require.NoError(t, err)
	assert.Equal(t, "ACCOUNT", f.currentStage())

	f.save(domain.KeyCurrentStage, "START-MENU")
	f.save(domain.KeyAuthExpireAt, f.clock.Now().Add(-time.Hour).Format(time.RFC3339))
	_, err = f.send("account")
	var expired *domain.SessionExpiredError
	assert.ErrorAs(t, err, &expired)
}

func TestWorker_InactivityExpiresAuthenticatedSession(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{settings: func(s *runtime.Settings) {
		s.HandleInactivity = true
		s.AuthRequired = true
		s.InactivityTimeout = 3 * time.Minute
	}})

	_, err := f.send("hi")
	require.NoError(t, err)
	stamp, found := f.get(domain.KeyLastActivity)
	require.True(t, found, "activity is stamped on send")
	assert.Equal(t, f.clock.Now().Format(time.RFC3339), stamp)

	// Without an auth session inactivity is not enforced.
	f.clock.Advance(10 * time.Minute)
	_, err = f.send("buy")
	require.NoError(t, err)

	f.save(domain.KeyAuthSession, true)
	f.clock.Advance(10 * time.Minute)
	_, err = f.send("anything")
	var expired *domain.SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, runtime.MsgInactive, expired.Reason)
}

func TestWorker_CheckpointRetry(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "check", "CHECK")}},
		{Name: "CHECK", Message: domain.TextMessage{Body: "cp"}, Checkpoint: true, Routes: []domain.Route{route(t, "next", "STEP1")}},
		{Name: "STEP1", Message: domain.TextMessage{Body: "s1"}, Routes: []domain.Route{route(t, "next", "FORM")}},
		{Name: "FORM", Message: domain.TextMessage{Body: "form"}, Routes: []domain.Route{route(t, "go", "BROKEN")}},
		{Name: "BROKEN", Message: domain.TextMessage{Body: "x"}, OnGenerate: "explode"},
	}
	f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{
		"explode": func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
			return nil, errors.New("downstream unavailable")
		},
	}})

	for _, in := range []string{"hi", "check", "next", "next"} {
		_, err := f.send(in)
		require.NoError(t, err)
	}
	require.Equal(t, "FORM", f.currentStage())
	cp, _ := f.get(domain.KeyCheckpoint)
	require.Equal(t, "CHECK", cp)

	_, err := f.send("go")
	var hookErr *domain.HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "explode", hookErr.Hook)
	assert.Equal(t, "FORM", f.currentStage())

	msg := f.sender.last(t).Stage.Message.(domain.ButtonMessage)
	assert.Equal(t, []string{domain.ButtonRetry, domain.ButtonReport}, msg.Buttons)
	flagged := f.flag(domain.KeyDynamicRetry)
	assert.True(t, flagged)

	// "Retry" goes to the checkpoint, not to the previous stage.
	_, err = f.send("Retry")
	require.NoError(t, err)
	assert.Equal(t, "CHECK", f.currentStage())
	flagged = f.flag(domain.KeyDynamicRetry)
	assert.False(t, flagged, "success clears the retry flag")
}

func TestWorker_RouterHook(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Router: "pick", Routes: []domain.Route{route(t, "re:.*", "A")}},
		{Name: "A", Message: domain.TextMessage{Body: "A"}},
		{Name: "B", Message: domain.TextMessage{Body: "B"}},
	}
	f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{
		"pick": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
			switch arg.Input {
			case "vip":
				arg.Output[domain.OutputRoute] = "B"
			case "boom":
				return nil, errors.New("router down")
			}
			return arg, nil
		},
	}})

	_, err := f.send("hi")
	require.NoError(t, err)

	_, err = f.send("vip")
	require.NoError(t, err)
	assert.Equal(t, "B", f.currentStage())

	f.save(domain.KeyCurrentStage, "START-MENU")
	_, err = f.send("regular")
	require.NoError(t, err)
	assert.Equal(t, "A", f.currentStage(), "empty router output falls through to routes")

	f.save(domain.KeyCurrentStage, "START-MENU")
	_, err = f.send("boom")
	require.NoError(t, err)
	assert.Equal(t, "A", f.currentStage(), "router errors fall through to routes")
}

func TestWorker_HookCapabilityBoundary(t *testing.T) {
	stages := []domain.Stage{
		{
			Name: "START-MENU", Message: domain.TextMessage{Body: "hi"},
			Routes: []domain.Route{route(t, "go", "DYN")},
		},
		{Name: "DYN", Message: domain.DynamicMessage{}, OnGenerate: "render", Params: map[string]any{"greeting": "hello"}},
	}
	f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{
		"render": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
			arg.Params["greeting"] = "tampered"
			arg.Input = "tampered"
			arg.Content = &domain.OutboundContent{Message: domain.TextMessage{Body: arg.Params["greeting"].(string) + " " + arg.User.Name}}
			return arg, nil
		},
	}})

	_, err := f.send("hi")
	require.NoError(t, err)
	_, err = f.send("go")
	require.NoError(t, err)

	out := f.sender.last(t)
	assert.Equal(t, "DYN", out.Stage.Name)
	require.NotNil(t, out.Arg.Content)
	assert.Equal(t, domain.TextMessage{Body: "tampered Test"}, out.Arg.Content.Message)
	assert.Equal(t, "hello", out.Arg.Params["greeting"], "params changes are not copied back")
	assert.Equal(t, "go", out.Arg.Input)
}

func TestWorker_DynamicStageWithoutContentFails(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "go", "DYN")}},
		{Name: "DYN", Message: domain.DynamicMessage{}},
	}
	f := newFixture(t, stages, fixtureOpts{})

	_, err := f.send("hi")
	require.NoError(t, err)
	_, err = f.send("go")
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "START-MENU", f.currentStage())
}

func TestWorker_HookPanicIsRecovered(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, OnReceive: "panics", Routes: []domain.Route{route(t, "re:.*", "START-MENU")}},
	}
	f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{
		"panics": func(context.Context, *domain.HookArg) (*domain.HookArg, error) { panic("nil map") },
	}})

	_, err := f.send("hi")
	require.NoError(t, err)

	var outcome runtime.Outcome
	require.NotPanics(t, func() { outcome, err = f.send("again") })
	assert.Equal(t, runtime.OutcomeFailed, outcome)
	var hookErr *domain.HookError
	assert.ErrorAs(t, err, &hookErr)
}

func TestWorker_PropIsSaved(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "Your name?"}, Prop: "name", Routes: []domain.Route{route(t, "re:.+", "GREET")}},
		{Name: "GREET", Message: domain.TextMessage{Body: "Hello"}},
	}
	f := newFixture(t, stages, fixtureOpts{})

	_, err := f.send("hi")
	require.NoError(t, err)
	props, err := f.sessions.UserProps(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, props, "first contact is not an answer")

	_, err = f.send("Ana")
	require.NoError(t, err)

	var name string
	found, err := f.sessions.GetProp(context.Background(), userID, "name", &name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ana", name)
}

func TestWorker_UndecidableStageTakesFirstRoute(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.FlowMessage{FlowID: "123", Body: "Fill"}, Routes: []domain.Route{route(t, "re:.*", "DONE")}},
		{Name: "DONE", Message: domain.TextMessage{Body: "Thanks"}},
	}
	f := newFixture(t, stages, fixtureOpts{})

	_, err := f.send("hi")
	require.NoError(t, err)

	f.clock.Advance(7 * time.Second)
	_, err = f.sendAs("wamid.flow", domain.Input{
		Kind: domain.MessageInteractiveFlow,
		Body: map[string]any{"response": map[string]any{"plan": "gold"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "DONE", f.currentStage())
}

func TestWorker_TriggersWithParam(t *testing.T) {
	var seen map[string]any
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "re:.*", "START-MENU")}},
		{Name: "PROMO", Message: domain.TextMessage{Body: "promo"}, OnGenerate: "capture"},
		{Name: "GREET", Message: domain.TextMessage{Body: "hello"}},
	}
	hello, err := domain.NewTrigger("re:^hel+o", "GREET")
	require.NoError(t, err)

	triggered := 0
	f := newFixture(t, stages, fixtureOpts{
		triggers: []domain.Trigger{hello},
		hooks: map[string]hooks.Func{
			"capture": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
				seen = arg.Params
				return nil, nil
			},
			"on-trigger": func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
				triggered++
				return nil, nil
			},
		},
		settings: func(s *runtime.Settings) {
			s.GlobalTriggers = map[string]string{"promo": "PROMO|summer"}
			s.GlobalTriggerHook = "on-trigger"
		},
	})

	_, err = f.send("hi")
	require.NoError(t, err)

	_, err = f.send("Promo")
	require.NoError(t, err)
	assert.Equal(t, "PROMO", f.currentStage())
	assert.Equal(t, "summer", seen[domain.ParamTriggerRoute])
	assert.Equal(t, 1, triggered)

	_, err = f.send("hellllo there")
	require.NoError(t, err)
	assert.Equal(t, "GREET", f.currentStage())
	assert.Equal(t, 1, triggered, "storage triggers do not run the global trigger hook")
}

func TestWorker_PersistPolicy(t *testing.T) {
	t.Run("on delivery", func(t *testing.T) {
		f := newFixture(t, graph(t), fixtureOpts{})
		_, err := f.send("hi")
		require.NoError(t, err)

		f.sender.undelivered = true
		_, err = f.send("buy")
		require.NoError(t, err)
		assert.Equal(t, "START-MENU", f.currentStage())
	})

	t.Run("always", func(t *testing.T) {
		f := newFixture(t, graph(t), fixtureOpts{settings: func(s *runtime.Settings) { s.PersistAlways = true }})
		_, err := f.send("hi")
		require.NoError(t, err)

		f.sender.err = errors.New("platform down")
		_, err = f.send("buy")
		assert.Error(t, err)
		assert.Equal(t, "BUY", f.currentStage())
	})

	t.Run("session stage persists before send", func(t *testing.T) {
		stages := graph(t)
		stages[1].Session = true // BUY
		f := newFixture(t, stages, fixtureOpts{})
		_, err := f.send("hi")
		require.NoError(t, err)

		f.sender.err = errors.New("platform down")
		_, err = f.send("buy")
		assert.Error(t, err)
		assert.Equal(t, "BUY", f.currentStage())
		prev, _ := f.get(domain.KeyPrevStage)
		assert.Equal(t, "START-MENU", prev)
	})

	t.Run("transient stage is never recorded", func(t *testing.T) {
		stages := graph(t)
		stages[1].Transient = true // BUY
		f := newFixture(t, stages, fixtureOpts{})
		_, err := f.send("hi")
		require.NoError(t, err)
		_, err = f.send("buy")
		require.NoError(t, err)
		assert.Equal(t, "START-MENU", f.currentStage())
	})
}

func TestWorker_ReadReceipts(t *testing.T) {
	stages := graph(t)
	stages[0].Acknowledge = true
	f := newFixture(t, stages, fixtureOpts{})

	_, err := f.send("hi")
	require.NoError(t, err)
	_, err = f.send("buy")
	require.NoError(t, err)
	// the start stage acknowledges both the first contact and the reply to it
	assert.Equal(t, []string{"wamid.001", "wamid.002"}, f.sender.read)

	f2 := newFixture(t, graph(t), fixtureOpts{settings: func(s *runtime.Settings) { s.ReadReceipts = true }})
	_, err = f2.send("hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"wamid.001"}, f2.sender.read)
}

func TestWorker_ExternalHandler(t *testing.T) {
	var relayed []string
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "agent", "AGENT")}},
		{Name: "AGENT", Message: domain.TextMessage{Body: "Connecting you"}, OnGenerate: "start-agent"},
	}
	f := newFixture(t, stages, fixtureOpts{
		hooks: map[string]hooks.Func{
			"start-agent": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
				return nil, arg.Session.Save(domain.KeyExtHandler, "live-agent")
			},
			"relay": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
				relayed = append(relayed, arg.Input)
				return nil, nil
			},
		},
		settings: func(s *runtime.Settings) { s.ExternalHandlerHook = "relay" },
	})
	ctx := context.Background()

	_, err := f.worker.RespondExternal(ctx, userID, "hello", "")
	assert.ErrorIs(t, err, domain.ErrNoExternalHandler)

	for _, in := range []string{"hi", "agent"} {
		_, err := f.send(in)
		require.NoError(t, err)
	}
	sentBefore := f.sender.count()

	outcome, err := f.send("menu")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeDiverted, outcome, "triggers are bypassed too")

	// Diverted sessions are not debounced.
	f.clock.Advance(time.Second)
	f.seq++
	outcome, err = f.sendAs(f.nextID(), domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": "are you there"}})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeDiverted, outcome)

	assert.Equal(t, []string{"menu", "are you there"}, relayed)
	assert.Equal(t, sentBefore, f.sender.count())

	res, err := f.worker.RespondExternal(ctx, userID, "Hi, this is Tino", "wamid.002")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out", res.MessageID)
	last := f.sender.last(t)
	assert.Equal(t, domain.TextMessage{Body: "Hi, this is Tino"}, last.Stage.Message)
	assert.Equal(t, "wamid.002", last.Stage.ReplyMessageID)

	require.NoError(t, f.worker.TerminateExternalHandler(ctx, userID))
	_, err = f.worker.RespondExternal(ctx, userID, "still there?", "")
	assert.ErrorIs(t, err, domain.ErrNoExternalHandler)

	outcome, err = f.send("menu")
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeProcessed, outcome)
	assert.Equal(t, "START-MENU", f.currentStage())
}

func TestWorker_MissingStartStage(t *testing.T) {
	f := newFixture(t, []domain.Stage{{Name: "OTHER", Message: domain.TextMessage{Body: "x"}}}, fixtureOpts{})

	_, err := f.send("hi")
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "START-MENU", cfgErr.Stage)
	assert.Equal(t, 1, f.sender.count(), "config errors still answer with a retry button")
}

func TestWorker_ConcurrentDeliveriesOfOneSession(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{})
	input := domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": "hi"}}

	var wg sync.WaitGroup
	outcomes := make([]runtime.Outcome, 20)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "wamid.same"
			if i%2 == 1 {
				id = fmt.Sprintf("wamid.%d", i)
			}
			outcomes[i], _ = f.sendAs(id, input)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, o := range outcomes {
		if o == runtime.OutcomeProcessed {
			processed++
		} else {
			assert.Contains(t, []runtime.Outcome{runtime.OutcomeDuplicate, runtime.OutcomeDebounced}, o)
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, f.sender.count())
}

func TestWorker_InactivityRequiresAuthEnforcement(t *testing.T) {
	f := newFixture(t, graph(t), fixtureOpts{settings: func(s *runtime.Settings) {
		s.HandleInactivity = true
		s.AuthRequired = false
		s.InactivityTimeout = 3 * time.Minute
	}})

	_, err := f.send("hi")
	require.NoError(t, err)
	f.save(domain.KeyAuthSession, true)

	f.clock.Advance(10 * time.Minute)
	_, err = f.send("buy")
	require.NoError(t, err)
	assert.Equal(t, "BUY", f.currentStage())
}

func TestWorker_RetryAfterFailedTurnReRendersCurrentStage(t *testing.T) {
	stages := []domain.Stage{
		{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "a", "A")}},
		{Name: "A", Message: domain.TextMessage{Body: "A"}, Routes: []domain.Route{route(t, "b", "B")}},
		{Name: "B", Message: domain.TextMessage{Body: "B"}, Routes: []domain.Route{route(t, "go", "BROKEN")}},
		{Name: "BROKEN", Message: domain.TextMessage{Body: "x"}, OnGenerate: "explode"},
	}
	f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{
		"explode": func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
			return nil, errors.New("downstream unavailable")
		},
	}})

	for _, in := range []string{"hi", "a", "b"} {
		_, err := f.send(in)
		require.NoError(t, err)
	}
	_, err := f.send("go")
	require.Error(t, err)
	require.Equal(t, "B", f.currentStage())

	_, err = f.send("Retry")
	require.NoError(t, err)
	assert.Equal(t, "B", f.currentStage())
	assert.Equal(t, "B", f.sender.last(t).Stage.Name)
	flagged := f.flag(domain.KeyDynamicRetry)
	assert.False(t, flagged)

	// Without a failed turn "retry" is the back trigger.
	_, err = f.send("retry")
	require.NoError(t, err)
	assert.Equal(t, "A", f.currentStage())
}

func TestWorker_HookErrorFallbackBody(t *testing.T) {
	tests := []struct {
		name string
		hook hooks.Func
		want string
	}{
		{
			name: "hook message",
			hook: func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
				return nil, errors.New("Account not found")
			},
			want: "Account not found",
		},
		{
			name: "empty message",
			hook: func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
				return nil, errors.New(" ")
			},
			want: runtime.MsgProcessingFailed,
		},
		{
			name: "panic",
			hook: func(context.Context, *domain.HookArg) (*domain.HookArg, error) {
				panic("nil map")
			},
			want: runtime.MsgProcessingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := []domain.Stage{
				{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "go", "LOOKUP")}},
				{Name: "LOOKUP", Message: domain.TextMessage{Body: "x"}, OnGenerate: "lookup"},
			}
			f := newFixture(t, stages, fixtureOpts{hooks: map[string]hooks.Func{"lookup": tt.hook}})

			_, err := f.send("hi")
			require.NoError(t, err)
			_, err = f.send("go")
			var hookErr *domain.HookError
			require.ErrorAs(t, err, &hookErr)

			msg := f.sender.last(t).Stage.Message.(domain.ButtonMessage)
			assert.Equal(t, tt.want, msg.Body)
			assert.Equal(t, []string{domain.ButtonRetry, domain.ButtonReport}, msg.Buttons)
		})
	}

	t.Run("missing hook", func(t *testing.T) {
		stages := []domain.Stage{
			{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "go", "LOOKUP")}},
			{Name: "LOOKUP", Message: domain.TextMessage{Body: "x"}, OnGenerate: "ghost"},
		}
		f := newFixture(t, stages, fixtureOpts{})

		_, err := f.send("hi")
		require.NoError(t, err)
		_, err = f.send("go")
		require.ErrorIs(t, err, domain.ErrHookNotFound)
		assert.Equal(t, runtime.MsgProcessingFailed, f.sender.last(t).Stage.Message.(domain.ButtonMessage).Body)
	})

	t.Run("config error", func(t *testing.T) {
		stages := []domain.Stage{
			{Name: "START-MENU", Message: domain.TextMessage{Body: "hi"}, Routes: []domain.Route{route(t, "go", "DYN")}},
			{Name: "DYN", Message: domain.DynamicMessage{}},
		}
		f := newFixture(t, stages, fixtureOpts{})

		_, err := f.send("hi")
		require.NoError(t, err)
		_, err = f.send("go")
		var cfgErr *domain.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, runtime.MsgProcessingFailed, f.sender.last(t).Stage.Message.(domain.ButtonMessage).Body)
	})
}

func TestWorker_HookOrder(t *testing.T) {
	var (
		order      []string
		propAtHook = map[string]bool{}
	)
	record := func(name string) hooks.Func {
		return func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
			order = append(order, name)
			found, err := arg.Session.GetProp("answer", nil)
			if err != nil {
				return nil, err
			}
			propAtHook[name] = found
			return nil, nil
		}
	}
	stages := []domain.Stage{
		{
			Name: "START-MENU", Message: domain.TextMessage{Body: "Question?"},
			Validator: "v", OnReceive: "r", Middleware: "m", Prop: "answer",
			Routes: []domain.Route{route(t, "re:.+", "NEXT")},
		},
		{Name: "NEXT", Message: domain.TextMessage{Body: "Thanks"}, OnGenerate: "g"},
	}
	f := newFixture(t, stages, fixtureOpts{
		hooks: map[string]hooks.Func{
			"v": record("v"), "r": record("r"), "m": record("m"),
			"post": record("post"), "g": record("g"), "pre": record("pre"),
		},
		settings: func(s *runtime.Settings) {
			s.GlobalPostHooks = []string{"post"}
			s.GlobalPreHooks = []string{"pre"}
		},
	})

	_, err := f.send("hi")
	require.NoError(t, err)
	order = nil

	_, err = f.send("42")
	require.NoError(t, err)
	assert.Equal(t, []string{"v", "r", "m", "post", "g", "pre"}, order)

	for _, name := range []string{"v", "r", "m", "post"} {
		assert.False(t, propAtHook[name], "prop saved before %s", name)
	}
	assert.True(t, propAtHook["g"], "prop is saved before the next stage is generated")
	assert.True(t, propAtHook["pre"])
}

func TestWorker_DivertedStructuredInputReachesHandler(t *testing.T) {
	var data map[string]any
	f := newFixture(t, graph(t), fixtureOpts{
		hooks: map[string]hooks.Func{
			"relay": func(_ context.Context, arg *domain.HookArg) (*domain.HookArg, error) {
				data = arg.Data
				return nil, nil
			},
		},
		settings: func(s *runtime.Settings) { s.ExternalHandlerHook = "relay" },
	})

	_, err := f.send("hi")
	require.NoError(t, err)
	f.save(domain.KeyExtHandler, "live-agent")

	f.clock.Advance(7 * time.Second)
	f.seq++
	loc := domain.Input{Kind: domain.MessageLocation, Body: map[string]any{"latitude": -17.8, "longitude": 31.0}}
	outcome, err := f.sendAs(f.nextID(), loc)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeDiverted, outcome)
	assert.Equal(t, map[string]any{"latitude": -17.8, "longitude": 31.0}, data)
}
