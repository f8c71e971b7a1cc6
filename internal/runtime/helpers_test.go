package runtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/wadialog/internal/runtime"
	"github.com/aretw0/wadialog/pkg/adapters/memory"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/aretw0/wadialog/pkg/session"
	"github.com/stretchr/testify/require"
)

const userID = "263770000001"

type sent struct {
	Stage domain.Stage
	Arg   *domain.HookArg
}

type fakeSender struct {
	mu          sync.Mutex
	sent        []sent
	read        []string
	err         error
	undelivered bool
}

func (f *fakeSender) Send(_ context.Context, stage domain.Stage, arg *domain.HookArg) (domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{Stage: stage, Arg: arg})
	if f.err != nil {
		return domain.SendResult{}, f.err
	}
	return domain.SendResult{MessageID: "wamid.out", Delivered: !f.undelivered}, nil
}

func (f *fakeSender) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "nothing was sent")
	return f.sent[len(f.sent)-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t        *testing.T
	worker   *runtime.Worker
	sessions *session.Manager
	backend  *memory.Store
	sender   *fakeSender
	clock    *clock
	seq      int
}

type fixtureOpts struct {
	hooks    map[string]hooks.Func
	triggers []domain.Trigger
	settings func(*runtime.Settings)
}

func route(t *testing.T, pattern, next string) domain.Route {
	t.Helper()
	r, err := domain.NewRoute(pattern, next)
	require.NoError(t, err)
	return r
}

func buttons(body string, labels ...string) domain.Message {
	return domain.ButtonMessage{Body: body, Buttons: labels}
}

func newFixture(t *testing.T, stages []domain.Stage, o fixtureOpts) *fixture {
	t.Helper()

	storage, err := memory.NewStorage(stages, o.triggers...)
	require.NoError(t, err)

	reg, err := hooks.NewRegistry(o.hooks)
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	settings := runtime.Settings{
		StartStage:  "START-MENU",
		ReportStage: "REPORT",
		Dedup:       true,
		Debounce:    6 * time.Second,
		Staleness:   10 * time.Second,
		Now:         c.Now,
	}
	if o.settings != nil {
		o.settings(&settings)
	}

	backend := memory.NewStore()
	sessions := session.NewManager(backend)
	sender := &fakeSender{}
	pipeline := runtime.NewPipeline(reg, nil, nil)

	return &fixture{
		t:        t,
		worker:   runtime.NewWorker(sessions, storage, sender, pipeline, settings),
		sessions: sessions,
		backend:  backend,
		sender:   sender,
		clock:    c,
	}
}

func (f *fixture) user(msgID string) domain.User {
	return domain.User{ID: userID, Name: "Test", MessageID: msgID, Timestamp: f.clock.Now()}
}

// send delivers text as a fresh message, outside the debounce window.
func (f *fixture) send(text string) (runtime.Outcome, error) {
	f.clock.Advance(7 * time.Second)
	f.seq++
	return f.sendAs(f.nextID(), domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": text}})
}

func (f *fixture) nextID() string {
	return fmt.Sprintf("wamid.%03d", f.seq)
}

func (f *fixture) sendAs(msgID string, input domain.Input) (runtime.Outcome, error) {
	return f.worker.Process(context.Background(), f.user(msgID), input)
}

func (f *fixture) get(key string) (string, bool) {
	f.t.Helper()
	var v string
	found, err := f.sessions.Get(context.Background(), userID, key, &v)
	require.NoError(f.t, err)
	return v, found
}

func (f *fixture) flag(key string) bool {
	f.t.Helper()
	var v bool
	_, err := f.sessions.Get(context.Background(), userID, key, &v)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) save(key string, value any) {
	f.t.Helper()
	require.NoError(f.t, f.sessions.Save(context.Background(), userID, key, value))
}

func (f *fixture) currentStage() string {
	f.t.Helper()
	v, _ := f.get(domain.KeyCurrentStage)
	return v
}
