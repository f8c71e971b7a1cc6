package validator

import (
	"context"
	"testing"

	"github.com/aretw0/wadialog/pkg/adapters/memory"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func route(t *testing.T, pattern, next string) domain.Route {
	t.Helper()
	r, err := domain.NewRoute(pattern, next)
	require.NoError(t, err)
	return r
}

func text(body string) domain.Message {
	return domain.TextMessage{Body: body}
}

func TestValidateGraph(t *testing.T) {
	ctx := context.Background()

	t.Run("valid graph", func(t *testing.T) {
		storage, err := memory.NewStorage([]domain.Stage{
			{Name: "start", Message: text("hi"), Routes: []domain.Route{route(t, "a", "a")}},
			{Name: "a", Message: text("a"), Routes: []domain.Route{route(t, "re:.*", "b")}},
			{Name: "b", Message: text("b")},
		})
		require.NoError(t, err)

		report, err := ValidateGraph(ctx, storage, Options{StartStage: "start", Strict: true})
		require.NoError(t, err)
		assert.True(t, report.OK(), report.Errors)
		assert.Equal(t, []string{"a", "b", "start"}, report.Visited)
		assert.NoError(t, report.Err())
	})

	t.Run("broken route", func(t *testing.T) {
		storage, err := memory.NewStorage([]domain.Stage{
			{Name: "start", Message: text("hi"), Routes: []domain.Route{route(t, "x", "ghost")}},
		})
		require.NoError(t, err)

		report, err := ValidateGraph(ctx, storage, Options{StartStage: "start"})
		require.NoError(t, err)
		assert.False(t, report.OK())
		assert.Equal(t, []string{"ghost"}, report.Missing)

		var cfgErr *domain.ConfigError
		require.ErrorAs(t, report.Err(), &cfgErr)
		assert.Contains(t, cfgErr.Error(), "Missing stage: 'ghost'")
	})

	t.Run("missing start", func(t *testing.T) {
		storage, err := memory.NewStorage(nil)
		require.NoError(t, err)

		report, err := ValidateGraph(ctx, storage, Options{StartStage: "start"})
		require.NoError(t, err)
		assert.False(t, report.OK())

		_, err = ValidateGraph(ctx, storage, Options{})
		assert.Error(t, err)
	})

	t.Run("triggers and report are roots", func(t *testing.T) {
		trigger, err := domain.NewTrigger("re:^help", "HELP|faq")
		require.NoError(t, err)
		storage, err := memory.NewStorage([]domain.Stage{
			{Name: "start", Message: text("hi")},
			{Name: "HELP", Message: text("help")},
			{Name: "REPORT", Message: text("report")},
			{Name: "PROMO", Message: text("promo")},
			{Name: "orphan", Message: text("nobody links here")},
		}, trigger)
		require.NoError(t, err)

		report, err := ValidateGraph(ctx, storage, Options{
			StartStage:    "start",
			ReportStage:   "REPORT",
			GlobalTargets: []string{"PROMO|summer"},
			Strict:        true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"orphan"}, report.Unreachable)
		assert.Equal(t, []string{"HELP", "PROMO", "REPORT", "start"}, report.Visited)
	})

	t.Run("unregistered hooks", func(t *testing.T) {
		storage, err := memory.NewStorage([]domain.Stage{
			{Name: "start", Message: domain.DynamicMessage{}, Routes: []domain.Route{route(t, "go", "next")}},
			{Name: "next", Message: text("next"), Validator: "check", OnReceive: "known"},
		})
		require.NoError(t, err)
		registry, err := hooks.NewRegistry(map[string]hooks.Func{
			"known": func(context.Context, *domain.HookArg) (*domain.HookArg, error) { return nil, nil },
		})
		require.NoError(t, err)

		report, err := ValidateGraph(ctx, storage, Options{StartStage: "start", Hooks: registry})
		require.NoError(t, err)
		assert.Equal(t, []string{"check"}, report.Hooks)
		assert.Len(t, report.Errors, 2, "dynamic stage without on_generate is also reported")
	})
}
