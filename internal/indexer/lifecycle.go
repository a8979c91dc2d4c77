package indexer

import (
	"context"
	"fmt"

	"github.com/contentgraph/crsync/internal/dimension"
	"github.com/contentgraph/crsync/internal/driver"
	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// Index and alias lifecycle. A rebuild creates a fresh physical
// generation per dimension partition (prefix-hash-postfix), fills it,
// then atomically repoints the partition alias (prefix-hash) and the
// prefix-wide main alias. Superseded generations are reclaimed by
// RemoveOldIndices.

// CreateIndex creates the physical index for the given partition hash
// and the current postfix. Requires a postfix so the physical name
// never collides with the alias.
func (ix *Indexer) CreateIndex(ctx context.Context, hash dimension.Hash) error {
	if ix.postfix == "" {
		return crerrors.New(crerrors.ErrCodeMissingPostfix,
			"cannot create an index generation without a postfix", nil)
	}
	name := ix.indexNameFor(hash)
	exists, err := ix.backend.IndexExists(ctx, name)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	if exists {
		return nil
	}
	if err := ix.backend.CreateIndex(ctx, name); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	ix.log.Info("created index", "index", name)
	return nil
}

// UpdateIndexAlias atomically repoints one partition alias
// (prefix-hash) from whatever indices currently hold it to the current
// generation. Fails fast without a postfix, or when the target index
// does not exist. The remove and add actions travel in a single batch
// so readers never observe zero or two live indices under the alias.
func (ix *Indexer) UpdateIndexAlias(ctx context.Context, hash dimension.Hash) error {
	if ix.postfix == "" {
		return crerrors.New(crerrors.ErrCodeMissingPostfix,
			"cannot update the index alias without a postfix", nil)
	}

	alias := ix.prefix + "-" + string(hash)
	target := ix.indexNameFor(hash)

	exists, err := ix.backend.IndexExists(ctx, target)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	if !exists {
		return crerrors.Newf(crerrors.ErrCodeIndexMissing,
			"cannot alias %s to missing index %s", alias, target)
	}

	// An unknown alias resolves to an empty holder list, first
	// rebuilds go straight to the add action.
	holders, err := ix.backend.IndicesByAlias(ctx, alias)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}

	actions := make([]driver.AliasAction, 0, len(holders)+1)
	for _, holder := range holders {
		if holder == target {
			continue
		}
		actions = append(actions, driver.AliasAction{
			Type:  driver.AliasRemove,
			Alias: alias,
			Index: holder,
		})
	}
	actions = append(actions, driver.AliasAction{
		Type:  driver.AliasAdd,
		Alias: alias,
		Index: target,
	})

	if err := ix.backend.UpdateAliases(ctx, actions); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	ix.log.Info("updated index alias", "alias", alias, "index", target)
	return nil
}

// UpdateMainAlias points the prefix-wide alias at every partition
// index of the current generation, so one alias queries across all
// dimension partitions. Candidate indices are filtered structurally:
// exactly three hyphen-delimited segments with the current prefix and
// postfix.
func (ix *Indexer) UpdateMainAlias(ctx context.Context) error {
	if ix.postfix == "" {
		return crerrors.New(crerrors.ErrCodeMissingPostfix,
			"cannot update the main alias without a postfix", nil)
	}

	all, err := ix.backend.IndicesByPrefix(ctx, ix.prefix+"-")
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	var generation []string
	for _, name := range all {
		if ix.HasPostfixedName(name) {
			generation = append(generation, name)
		}
	}
	if len(generation) == 0 {
		return crerrors.Newf(crerrors.ErrCodeIndexMissing,
			"no indices found for generation %s", ix.postfix)
	}

	holders, err := ix.backend.IndicesByAlias(ctx, ix.prefix)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}

	var actions []driver.AliasAction
	held := make(map[string]bool, len(holders))
	for _, holder := range holders {
		held[holder] = true
	}
	wanted := make(map[string]bool, len(generation))
	for _, name := range generation {
		wanted[name] = true
	}
	for _, holder := range holders {
		if !wanted[holder] {
			actions = append(actions, driver.AliasAction{
				Type:  driver.AliasRemove,
				Alias: ix.prefix,
				Index: holder,
			})
		}
	}
	for _, name := range generation {
		if !held[name] {
			actions = append(actions, driver.AliasAction{
				Type:  driver.AliasAdd,
				Alias: ix.prefix,
				Index: name,
			})
		}
	}
	if len(actions) == 0 {
		return nil
	}

	if err := ix.backend.UpdateAliases(ctx, actions); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	ix.log.Info("updated main alias",
		"alias", ix.prefix,
		"indices", len(generation))
	return nil
}

// RemoveOldIndices deletes every physical index of one partition that
// the partition alias no longer references, and returns the deleted
// names. Indices still referenced by the alias are never touched.
func (ix *Indexer) RemoveOldIndices(ctx context.Context, hash dimension.Hash) ([]string, error) {
	alias := ix.prefix + "-" + string(hash)

	candidates, err := ix.backend.IndicesByPrefix(ctx, alias+"-")
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	live, err := ix.backend.IndicesByAlias(ctx, alias)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	keep := make(map[string]bool, len(live))
	for _, name := range live {
		keep[name] = true
	}

	var removed []string
	for _, name := range candidates {
		if keep[name] {
			continue
		}
		if err := ix.backend.DeleteIndex(ctx, name); err != nil {
			return removed, crerrors.Wrap(crerrors.ErrCodeIndexTransport,
				fmt.Errorf("failed to delete index %s: %w", name, err))
		}
		ix.log.Info("removed superseded index", "index", name)
		removed = append(removed, name)
	}
	return removed, nil
}
