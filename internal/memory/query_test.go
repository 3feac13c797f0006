package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func newTestQuery(t *testing.T) (*memory.Store, *memory.QueryEngine) {
	t.Helper()
	store, reg := newTestStore(t)
	return store, memory.NewQueryEngine(reg, nil)
}

func TestQueryEngine_Query(t *testing.T) {
	store, query := newTestQuery(t)
	ctx := context.Background()

	billing, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "the billing service emits invoices nightly",
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "alice", memory.CreateParams{
		Content: "the editor uses dark mode",
	})
	require.NoError(t, err)

	matches, err := query.Query(ctx, "alice", "billing invoices", memory.Filters{}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, billing, matches[0].ID)
	assert.Equal(t, "the billing service emits invoices nightly", matches[0].Content)
	assert.Equal(t, "alice", matches[0].Record.TenantID)
	assert.Greater(t, matches[0].Score, float32(0))
}

func TestQueryEngine_Validation(t *testing.T) {
	_, query := newTestQuery(t)
	ctx := context.Background()

	_, err := query.Query(ctx, "alice", "  ", memory.Filters{}, 5)
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = query.Query(ctx, "alice", "text", memory.Filters{Type: "bogus"}, 5)
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = query.Query(ctx, "", "text", memory.Filters{}, 5)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestQueryEngine_TenantIsolation(t *testing.T) {
	store, query := newTestQuery(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", memory.CreateParams{Content: "shared secret project plans"})
	require.NoError(t, err)
	_, err = store.Create(ctx, "bob", memory.CreateParams{Content: "shared secret project plans"})
	require.NoError(t, err)

	matches, err := query.Query(ctx, "alice", "secret project plans", memory.Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice", matches[0].Record.TenantID)
}

func TestQueryEngine_TypeAndProjectFilters(t *testing.T) {
	store, query := newTestQuery(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "User: deploy plan?\nAssistant: ship friday",
		Type:    memory.TypeConversation,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "alice", memory.CreateParams{
		Content: "deploy plan notes",
		Type:    memory.TypeMemory,
	})
	require.NoError(t, err)
	scoped, err := store.Create(ctx, "alice", memory.CreateParams{
		Content:   "deploy plan for the gateway",
		ProjectID: "gw",
	})
	require.NoError(t, err)

	convs, err := query.Query(ctx, "alice", "deploy plan", memory.Filters{Type: memory.TypeConversation}, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, conv, convs[0].ID)

	project, err := query.Query(ctx, "alice", "deploy plan", memory.Filters{ProjectID: "gw"}, 10)
	require.NoError(t, err)
	require.Len(t, project, 1)
	assert.Equal(t, scoped, project[0].ID)
}

func TestQueryEngine_TagFilter(t *testing.T) {
	store, query := newTestQuery(t)
	ctx := context.Background()

	tagged, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "database migration checklist",
		Tags:    []string{"infra", "db"},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "alice", memory.CreateParams{
		Content: "database naming conventions",
		Tags:    []string{"style"},
	})
	require.NoError(t, err)

	matches, err := query.Query(ctx, "alice", "database migration", memory.Filters{Tags: []string{"db", "unused"}}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1, "any-of tag match")
	assert.Equal(t, tagged, matches[0].ID)
}

func TestQueryEngine_TopK(t *testing.T) {
	store, query := newTestQuery(t)
	ctx := context.Background()

	for _, content := range []string{
		"release checklist step one",
		"release checklist step two",
		"release checklist step three",
	} {
		_, err := store.Create(ctx, "alice", memory.CreateParams{Content: content})
		require.NoError(t, err)
	}

	matches, err := query.Query(ctx, "alice", "release checklist", memory.Filters{}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	// topK <= 0 falls back to the default.
	matches, err = query.Query(ctx, "alice", "release checklist", memory.Filters{}, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score, "descending score order")
	}
}

func TestQueryEngine_EmptyTenantCollection(t *testing.T) {
	_, query := newTestQuery(t)

	matches, err := query.Query(context.Background(), "alice", "anything", memory.Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
