package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/tenant"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

func newTestStore(t *testing.T) (*memory.Store, *tenant.Registry) {
	t.Helper()
	engine, err := vectorindex.NewChromemEngine(vectorindex.ChromemConfig{
		VectorSize: 64,
	}, embeddings.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	reg := tenant.NewRegistry(engine, nil)
	return memory.NewStore(reg, nil), reg
}

func TestStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{
		Content:   "prefers dark mode",
		Tags:      []string{"ui", "preference", "ui"},
		ProjectID: "p1",
		Meta:      map[string]string{"source": "settings"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "alice", rec.TenantID)
	assert.Equal(t, "prefers dark mode", rec.Content)
	assert.ElementsMatch(t, []string{"ui", "preference"}, rec.Tags, "tags deduplicated")
	assert.Equal(t, "p1", rec.ProjectID)
	assert.Equal(t, memory.TypeMemory, rec.Type, "type defaults to memory")
	assert.Equal(t, "settings", rec.Meta["source"])
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_CreateValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", memory.CreateParams{Content: "   "})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = store.Create(ctx, "alice", memory.CreateParams{Content: "x", Type: "bogus"})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = store.Create(ctx, "", memory.CreateParams{Content: "x"})
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestStore_ReservedMetadataKeysWin(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "note",
		Meta: map[string]string{
			"tenant_id":  "mallory",
			"type":       "config",
			"created_at": "1970-01-01T00:00:00Z",
			"custom":     "kept",
		},
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.TenantID)
	assert.Equal(t, memory.TypeMemory, rec.Type)
	assert.NotEqual(t, 1970, rec.CreatedAt.Year())
	assert.Equal(t, "kept", rec.Meta["custom"])
	assert.NotContains(t, rec.Meta, "tenant_id")
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "alice", "no-such-id")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_GetForeignRecordIsAccessDenied(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "bob", memory.CreateParams{Content: "bob's secret"})
	require.NoError(t, err)

	_, err = store.Get(ctx, "alice", id)
	assert.ErrorIs(t, err, memory.ErrAccessDenied)
}

func TestStore_Update(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "original",
		Tags:    []string{"a"},
		Meta:    map[string]string{"k1": "v1", "k2": "v2"},
	})
	require.NoError(t, err)
	before, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)

	content := "revised"
	updated, err := store.Update(ctx, "alice", id, memory.UpdateParams{
		Content: &content,
		Meta:    map[string]string{"k2": "changed", "k3": "new"},
	})
	require.NoError(t, err)

	assert.Equal(t, "revised", updated.Content)
	assert.Equal(t, []string{"a"}, updated.Tags, "unset fields unchanged")
	assert.Equal(t, "v1", updated.Meta["k1"], "merge keeps untouched keys")
	assert.Equal(t, "changed", updated.Meta["k2"])
	assert.Equal(t, "new", updated.Meta["k3"])
	assert.Equal(t, before.CreatedAt, updated.CreatedAt, "created_at never changes")
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt), "updated_at strictly increases")

	// The write is visible on re-read.
	got, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "revised", got.Content)
	assert.Equal(t, "changed", got.Meta["k2"])
}

func TestStore_UpdateMetadataOnlyKeepsContent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{
		Content: "stable content",
		Tags:    []string{"a"},
		Meta:    map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	before, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)

	// Metadata-only update: content untouched.
	updated, err := store.Update(ctx, "alice", id, memory.UpdateParams{
		Meta: map[string]string{"extra": "field"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stable content", updated.Content)
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt))

	// Content-only update: everything else untouched except updated_at.
	content := "replaced content"
	replaced, err := store.Update(ctx, "alice", id, memory.UpdateParams{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "replaced content", replaced.Content)
	assert.Equal(t, updated.Tags, replaced.Tags)
	assert.Equal(t, updated.Meta, replaced.Meta)
	assert.Equal(t, updated.CreatedAt, replaced.CreatedAt)
	assert.True(t, replaced.UpdatedAt.After(updated.UpdatedAt))
}

func TestStore_UpdateValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{Content: "x"})
	require.NoError(t, err)

	empty := "  "
	_, err = store.Update(ctx, "alice", id, memory.UpdateParams{Content: &empty})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = store.Update(ctx, "alice", "missing", memory.UpdateParams{Tags: []string{"t"}})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_UpdateForeignRecordIsAccessDenied(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "bob", memory.CreateParams{Content: "bob's note"})
	require.NoError(t, err)

	tags := []string{"stolen"}
	_, err = store.Update(ctx, "alice", id, memory.UpdateParams{Tags: tags})
	assert.ErrorIs(t, err, memory.ErrAccessDenied)

	// Bob's record is untouched.
	rec, err := store.Get(ctx, "bob", id)
	require.NoError(t, err)
	assert.Empty(t, rec.Tags)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{Content: "ephemeral"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "alice", id))

	_, err = store.Get(ctx, "alice", id)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "alice", id), memory.ErrNotFound)
}

func TestStore_DeleteForeignRecordIsAccessDenied(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "bob", memory.CreateParams{Content: "keep me"})
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete(ctx, "alice", id), memory.ErrAccessDenied)

	_, err = store.Get(ctx, "bob", id)
	require.NoError(t, err, "foreign delete must not remove the record")
}

func TestStore_AssignProject(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "alice", memory.CreateParams{Content: "design note"})
	require.NoError(t, err)

	rec, err := store.AssignProject(ctx, "alice", id, "proj-9")
	require.NoError(t, err)
	assert.Equal(t, "proj-9", rec.ProjectID)

	_, err = store.AssignProject(ctx, "alice", id, "")
	assert.ErrorIs(t, err, memory.ErrValidation)

	listed, err := store.List(ctx, "alice", memory.Filters{ProjectID: "proj-9"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	const id = "3f1d4a7e-6b2c-5e9f-8a0d-1c2b3e4f5a6b"
	require.NoError(t, store.Upsert(ctx, "alice", id, memory.CreateParams{Content: "v1"}))
	first, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "alice", id, memory.CreateParams{Content: "v2"}))
	second, err := store.Get(ctx, "alice", id)
	require.NoError(t, err)

	assert.Equal(t, "v2", second.Content)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "replacement keeps creation time")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	all, err := store.List(ctx, "alice", memory.Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert replaces instead of duplicating")
}

func TestStore_UpsertRequiresUUIDID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"chunk-1", "not a uuid", "12345"} {
		err := store.Upsert(ctx, "alice", id, memory.CreateParams{Content: "x"})
		assert.ErrorIs(t, err, memory.ErrValidation, "id %q", id)
	}
}

func TestStore_DeadlineSurfacesAsTimeout(t *testing.T) {
	engine, err := vectorindex.NewChromemEngine(vectorindex.ChromemConfig{
		VectorSize: 64,
	}, ctxEmbedder{inner: embeddings.NewHashEmbedder(64)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	store := memory.NewStore(tenant.NewRegistry(engine, nil), nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = store.Create(ctx, "alice", memory.CreateParams{Content: "too late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "deadline errors stay recognizable for retry policies")
	assert.NotErrorIs(t, err, memory.ErrEngine, "a timeout is not a generic engine fault")
}

// ctxEmbedder honors context expiry before embedding, like a remote model
// client would.
type ctxEmbedder struct {
	inner *embeddings.HashEmbedder
}

func (e ctxEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.inner.EmbedDocuments(ctx, texts)
}

func (e ctxEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.inner.EmbedQuery(ctx, text)
}

func TestStore_ListFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate := func(p memory.CreateParams) string {
		t.Helper()
		id, err := store.Create(ctx, "alice", p)
		require.NoError(t, err)
		return id
	}

	memID := mustCreate(memory.CreateParams{Content: "plain note", Tags: []string{"work"}})
	convID := mustCreate(memory.CreateParams{Content: "User: hi\nAssistant: hello", Type: memory.TypeConversation})
	projID := mustCreate(memory.CreateParams{Content: "scoped", ProjectID: "p1", Tags: []string{"work", "infra"}})

	all, err := store.List(ctx, "alice", memory.Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	convs, err := store.List(ctx, "alice", memory.Filters{Type: memory.TypeConversation})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, convID, convs[0].ID)

	scoped, err := store.List(ctx, "alice", memory.Filters{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, projID, scoped[0].ID)

	// Tag filter matches records with at least one requested tag.
	tagged, err := store.List(ctx, "alice", memory.Filters{Tags: []string{"infra", "absent"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, projID, tagged[0].ID)

	work, err := store.List(ctx, "alice", memory.Filters{Tags: []string{"work"}})
	require.NoError(t, err)
	assert.Len(t, work, 2)
	_ = memID

	_, err = store.List(ctx, "alice", memory.Filters{Type: "bogus"})
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestStore_ListIsTenantScoped(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", memory.CreateParams{Content: "alice note"})
	require.NoError(t, err)
	_, err = store.Create(ctx, "bob", memory.CreateParams{Content: "bob note"})
	require.NoError(t, err)

	records, err := store.List(ctx, "alice", memory.Filters{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].TenantID)
}
