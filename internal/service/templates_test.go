package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/broker-comms/internal/model"
)

func TestTemplateStore_ProcessReplacesSuppliedVariables(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(newTestTemplate("quote", model.CategoryNegotiation, 0))

	vars := map[string]string{
		"SHIPPER_NAME": "Walmart",
		"LOAD_ID":      "FL-2025-001",
		"RATE":         "2,450",
	}
	out, err := store.Process("quote", vars)
	require.NoError(t, err)

	assert.Equal(t, "Hi Walmart, rate for FL-2025-001 is 2,450.", out.Content)
	require.NotNil(t, out.Subject)
	assert.Equal(t, "Load FL-2025-001", *out.Subject)
	for k := range vars {
		assert.NotContains(t, out.Content, "{"+k+"}")
		assert.NotContains(t, *out.Subject, "{"+k+"}")
	}
}

func TestTemplateStore_ProcessLeavesUnresolvedPlaceholders(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(newTestTemplate("quote", model.CategoryNegotiation, 0))

	out, err := store.Process("quote", map[string]string{"RATE": "900"})
	require.NoError(t, err)
	assert.Equal(t, "Hi {SHIPPER_NAME}, rate for {LOAD_ID} is 900.", out.Content)
}

func TestTemplateStore_ProcessIsLiteral(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(&model.Template{ID: "t", Body: "{A} then {B} and {a}"})

	out, err := store.Process("t", map[string]string{
		"A": "$1.*{B}",
		"B": "done",
	})
	require.NoError(t, err)

	// Values are inserted verbatim and never expanded again; keys are
	// case-sensitive.
	assert.Equal(t, "$1.*{B} then done and {a}", out.Content)
	assert.Nil(t, out.Subject)
}

func TestTemplateStore_ProcessDoesNotExpandValues(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(&model.Template{ID: "t", Subject: "{B}", Body: "Hi {A}"})

	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"value names another key", map[string]string{"A": "{B}", "B": "x"}, "Hi {B}"},
		{"value names itself", map[string]string{"A": "{A}"}, "Hi {A}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Same result on every run regardless of map order.
			for range 20 {
				out, err := store.Process("t", tt.vars)
				require.NoError(t, err)
				assert.Equal(t, tt.want, out.Content)
			}
		})
	}

	out, err := store.Process("t", map[string]string{"A": "{B}", "B": "x"})
	require.NoError(t, err)
	require.NotNil(t, out.Subject)
	assert.Equal(t, "x", *out.Subject)
}

func TestTemplateStore_ProcessUnknownTemplate(t *testing.T) {
	store := NewTemplateStore(nil, nil)

	_, err := store.Process("missing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(err, model.ErrTemplateNotFound))
}

func TestTemplateStore_ListOrdersByUsage(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(newTestTemplate("a", model.CategoryNegotiation, 5))
	store.Add(newTestTemplate("b", model.CategoryFollowUp, 20))
	store.Add(newTestTemplate("c", model.CategoryNegotiation, 5))
	store.Add(newTestTemplate("d", model.CategoryConfirmation, 12))

	ids := func(list []model.Template) []string {
		out := make([]string, len(list))
		for i, tmpl := range list {
			out[i] = tmpl.ID
		}
		return out
	}

	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(store.List("")))
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(store.List("all")))
	assert.Equal(t, []string{"a", "c"}, ids(store.List("negotiation")))
	assert.Empty(t, store.List("marketing"))
}

func TestTemplateStore_Top(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	for i, usage := range []int{1, 9, 3, 7, 5, 8} {
		store.Add(newTestTemplate(string(rune('a'+i)), model.CategoryNegotiation, usage))
	}

	top := store.Top(5)
	require.Len(t, top, 5)
	assert.Equal(t, "b", top[0].TemplateID)
	assert.Equal(t, 9, top[0].Usage)
	assert.Equal(t, "c", top[4].TemplateID)
	assert.Equal(t, 50.0, top[0].Effectiveness)
}

func TestTemplateStore_IncrementUsage(t *testing.T) {
	persister := newMemPersister()
	store := NewTemplateStore(persister, nil)
	store.Add(newTestTemplate("a", model.CategoryNegotiation, 2))
	store.Add(newTestTemplate("b", model.CategoryNegotiation, 4))

	assert.True(t, store.IncrementUsage(context.Background(), "a"))
	assert.False(t, store.IncrementUsage(context.Background(), "missing"))

	a, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Usage)
	b, err := store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 4, b.Usage)

	require.Contains(t, persister.templates, "a")
	assert.Equal(t, 3, persister.templates["a"].Usage)
}

func TestTemplateStore_IncrementUsageSurvivesPersistFailure(t *testing.T) {
	persister := newMemPersister()
	persister.err = errStub
	store := NewTemplateStore(persister, nil)
	store.Add(newTestTemplate("a", model.CategoryNegotiation, 0))

	assert.True(t, store.IncrementUsage(context.Background(), "a"))
	a, _ := store.Get("a")
	assert.Equal(t, 1, a.Usage)
}

func TestTemplateStore_GetReturnsCopy(t *testing.T) {
	store := NewTemplateStore(nil, nil)
	store.Add(newTestTemplate("a", model.CategoryNegotiation, 0))

	got, err := store.Get("a")
	require.NoError(t, err)
	got.Body = "changed"
	got.Variables[0] = "changed"

	again, _ := store.Get("a")
	assert.True(t, strings.HasPrefix(again.Body, "Hi "))
	assert.Equal(t, "SHIPPER_NAME", again.Variables[0])
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "plain text", nil},
		{"dedupes in order", "{A} {B} {A}", []string{"A", "B"}},
		{"dollar prefix", "Rate: ${RATE}", []string{"RATE"}},
		{"skips empty and nested", "{} {{A} {B C} {D}", []string{"A", "D"}},
		{"unterminated", "{A} {B", []string{"A"}},
		{"multiline", "{A\n} {E}", []string{"E"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholders(tt.text))
		})
	}
}
