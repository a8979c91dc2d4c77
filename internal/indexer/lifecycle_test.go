package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentgraph/crsync/internal/dimension"
	crerrors "github.com/contentgraph/crsync/internal/errors"
)

func TestCreateIndexRequiresPostfix(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), nil)
	err := env.indexer.CreateIndex(context.Background(), dimension.DefaultHash)
	require.Error(t, err)
	assert.Equal(t, crerrors.ErrCodeMissingPostfix, crerrors.GetCode(err))
}

func TestCreateIndexIsIdempotent(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), func(cfg *Config) { cfg.Postfix = "100" })
	ctx := context.Background()

	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))
	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))

	exists, err := env.embedded().IndexExists(ctx, "crsync-default-100")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateIndexAliasGuards(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), nil)
	ctx := context.Background()

	// Without a postfix the alias would point at itself
	err := env.indexer.UpdateIndexAlias(ctx, dimension.DefaultHash)
	require.Error(t, err)
	assert.Equal(t, crerrors.ErrCodeMissingPostfix, crerrors.GetCode(err))

	// With a postfix but no physical index the call fails fast
	env.indexer.SetPostfix("100")
	err = env.indexer.UpdateIndexAlias(ctx, dimension.DefaultHash)
	require.Error(t, err)
	assert.Equal(t, crerrors.ErrCodeIndexMissing, crerrors.GetCode(err))
}

func TestUpdateIndexAliasSwapsAtomically(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), func(cfg *Config) { cfg.Postfix = "100" })
	ctx := context.Background()

	// First generation: alias starts out unknown, which is benign
	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))
	require.NoError(t, env.indexer.UpdateIndexAlias(ctx, dimension.DefaultHash))

	indices, err := env.embedded().IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-100"}, indices)

	// Second generation: the swap lands in one step
	env.indexer.SetPostfix("200")
	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))
	require.NoError(t, env.indexer.UpdateIndexAlias(ctx, dimension.DefaultHash))

	indices, err = env.embedded().IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-200"}, indices)
}

func TestUpdateMainAliasSpansGeneration(t *testing.T) {
	de := dimension.Combination{"language": {"de"}}
	fr := dimension.Combination{"language": {"fr"}}
	env := newTestEnv(t, newFakeGraph(de, fr), func(cfg *Config) { cfg.Postfix = "100" })
	ctx := context.Background()

	hashDe := env.dims.HashOf(de)
	hashFr := env.dims.HashOf(fr)
	require.NoError(t, env.indexer.CreateIndex(ctx, hashDe))
	require.NoError(t, env.indexer.CreateIndex(ctx, hashFr))

	// When pointing the main alias at the generation
	require.NoError(t, env.indexer.UpdateMainAlias(ctx))

	indices, err := env.embedded().IndicesByAlias(ctx, "crsync")
	require.NoError(t, err)
	assert.Len(t, indices, 2)
	assert.Contains(t, indices, "crsync-"+string(hashDe)+"-100")
	assert.Contains(t, indices, "crsync-"+string(hashFr)+"-100")

	// When a new generation replaces it, the old one drops out
	env.indexer.SetPostfix("200")
	require.NoError(t, env.indexer.CreateIndex(ctx, hashDe))
	require.NoError(t, env.indexer.CreateIndex(ctx, hashFr))
	require.NoError(t, env.indexer.UpdateMainAlias(ctx))

	indices, err = env.embedded().IndicesByAlias(ctx, "crsync")
	require.NoError(t, err)
	assert.Len(t, indices, 2)
	assert.Contains(t, indices, "crsync-"+string(hashDe)+"-200")
	assert.Contains(t, indices, "crsync-"+string(hashFr)+"-200")
}

func TestUpdateMainAliasWithoutGenerationFails(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), func(cfg *Config) { cfg.Postfix = "100" })
	err := env.indexer.UpdateMainAlias(context.Background())
	require.Error(t, err)
	assert.Equal(t, crerrors.ErrCodeIndexMissing, crerrors.GetCode(err))
}

func TestRemoveOldIndicesSparesAliasedGeneration(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), func(cfg *Config) { cfg.Postfix = "100" })
	ctx := context.Background()

	// Given two generations with the alias on the newer one
	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))
	env.indexer.SetPostfix("200")
	require.NoError(t, env.indexer.CreateIndex(ctx, dimension.DefaultHash))
	require.NoError(t, env.indexer.UpdateIndexAlias(ctx, dimension.DefaultHash))

	// When pruning
	removed, err := env.indexer.RemoveOldIndices(ctx, dimension.DefaultHash)
	require.NoError(t, err)

	// Then only the superseded generation was deleted
	assert.Equal(t, []string{"crsync-default-100"}, removed)
	assert.NotContains(t, removed, "crsync-default-200")

	exists, err := env.embedded().IndexExists(ctx, "crsync-default-200")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = env.embedded().IndexExists(ctx, "crsync-default-100")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHasPostfixedName(t *testing.T) {
	env := newTestEnv(t, newFakeGraph(), func(cfg *Config) { cfg.Postfix = "100" })

	assert.True(t, env.indexer.HasPostfixedName("crsync-default-100"))
	assert.True(t, env.indexer.HasPostfixedName("crsync-abc123def456-100"))
	assert.False(t, env.indexer.HasPostfixedName("crsync-default-200"))
	assert.False(t, env.indexer.HasPostfixedName("other-default-100"))
	assert.False(t, env.indexer.HasPostfixedName("crsync-default"))

	env.indexer.SetPostfix("")
	assert.False(t, env.indexer.HasPostfixedName("crsync-default-100"))
}
