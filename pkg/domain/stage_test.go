package domain_test

import (
	"testing"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoute(t *testing.T) {
	t.Run("Literal", func(t *testing.T) {
		r, err := domain.NewRoute("Yes", "confirm")
		require.NoError(t, err)
		assert.False(t, r.IsRegex)
		assert.True(t, r.Matches("yes"))
		assert.True(t, r.Matches("  YES "))
		assert.False(t, r.Matches("yess"))
	})

	t.Run("Regex searches anywhere", func(t *testing.T) {
		r, err := domain.NewRoute("re:[0-9]+", "digits")
		require.NoError(t, err)
		assert.True(t, r.IsRegex)
		assert.Equal(t, "[0-9]+", r.Pattern)
		assert.True(t, r.Matches("order 42"))
		assert.False(t, r.Matches("none"))
	})

	t.Run("Invalid regex", func(t *testing.T) {
		_, err := domain.NewRoute("re:(", "x")
		assert.Error(t, err)
	})

	t.Run("Uncompiled regex still matches", func(t *testing.T) {
		r := domain.Route{Pattern: "^a", Next: "x", IsRegex: true}
		assert.True(t, r.Matches("abc"))
	})
}

func TestParseTarget(t *testing.T) {
	target, param := domain.ParseTarget("orders|pending")
	assert.Equal(t, "orders", target)
	assert.Equal(t, "pending", param)

	target, param = domain.ParseTarget("orders")
	assert.Equal(t, "orders", target)
	assert.Empty(t, param)
}

func TestKind_CarriesDecision(t *testing.T) {
	assert.True(t, domain.KindText.CarriesDecision())
	assert.True(t, domain.KindList.CarriesDecision())
	assert.True(t, domain.KindDynamic.CarriesDecision())
	for _, k := range []domain.Kind{
		domain.KindMedia, domain.KindFlow, domain.KindRequestLocation, domain.KindTemplate,
		domain.KindCTA, domain.KindCatalog, domain.KindProduct, domain.KindProducts,
	} {
		assert.False(t, k.CarriesDecision(), k)
	}
}

func TestStage_HasLiteralRoute(t *testing.T) {
	retry, _ := domain.NewRoute("Retry", "again")
	catchAll, _ := domain.NewRoute("re:.*", "other")
	s := domain.Stage{Name: "s", Routes: []domain.Route{catchAll, retry}}
	assert.True(t, s.HasLiteralRoute("retry"))
	assert.False(t, s.HasLiteralRoute("menu"))
}

func TestInput_Text(t *testing.T) {
	cases := []struct {
		name string
		in   domain.Input
		want string
	}{
		{"text", domain.Input{Kind: domain.MessageText, Body: map[string]any{"body": "hi"}}, "hi"},
		{"button", domain.Input{Kind: domain.MessageButton, Body: map[string]any{"text": "Yes", "payload": "y"}}, "Yes"},
		{"list", domain.Input{Kind: domain.MessageInteractiveList, Body: map[string]any{"id": "row-1", "title": "Row"}}, "row-1"},
		{"location", domain.Input{Kind: domain.MessageLocation, Body: map[string]any{"latitude": 1.0}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Text())
		})
	}
}

func TestHookArg_Clone(t *testing.T) {
	arg := &domain.HookArg{
		Params:  map[string]any{"a": 1},
		Content: &domain.OutboundContent{Variables: map[string]any{"x": 1}},
	}
	c := arg.Clone()
	c.Params["a"] = 2
	c.Output[domain.OutputRoute] = "next"
	c.Content.Message = domain.TextMessage{Body: "changed"}

	assert.Equal(t, 1, arg.Params["a"])
	assert.Empty(t, arg.Route())
	assert.Nil(t, arg.Content.Message)
	assert.Equal(t, "next", c.Route())
}
