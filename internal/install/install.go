// Package install implements zb's install pipeline: resolve the
// dependency closure of a set of root formulae, plan which nodes already
// satisfy the install, fetch and unpack their bottles with bounded
// concurrency, then materialize, link, and durably record each node in
// topological order.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zb-pm/zb/internal/blobcache"
	"github.com/zb-pm/zb/internal/linker"
	"github.com/zb-pm/zb/internal/materializer"
	"github.com/zb-pm/zb/internal/metadatastore"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/platform"
	"github.com/zb-pm/zb/internal/progress"
	"github.com/zb-pm/zb/internal/resolver"
	"github.com/zb-pm/zb/internal/selector"
	"github.com/zb-pm/zb/internal/store"
	"github.com/zb-pm/zb/internal/zberrors"
)

// kegDir is the standard Cellar layout path for one formula version.
func kegDir(cellarDir, name, version string) string {
	return filepath.Join(cellarDir, name, version)
}

// removeKegDir deletes a keg directory, tolerating it already being gone.
func removeKegDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &zberrors.IoError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Pipeline wires together every stage an install or uninstall needs. It
// holds no state of its own beyond its collaborators; all durable state
// lives in meta.
type Pipeline struct {
	fetcher      resolver.FormulaFetcher
	blobs        *blobcache.Cache
	store        *store.Store
	meta         *metadatastore.Store
	target       platform.Target
	prefix       string
	cellarDir    string
	unpackPool   int
	materialPool int
	sink         progress.Sink
}

// Options configures one Pipeline.
type Options struct {
	Prefix                 string
	CellarDir              string // <prefix>/Cellar
	UnpackConcurrency      int
	MaterializeConcurrency int
	Sink                   progress.Sink
}

// New builds a Pipeline from its collaborators and Options. Sink defaults
// to progress.NoopSink if nil; pool sizes default to 4 if <= 0.
func New(fetcher resolver.FormulaFetcher, blobs *blobcache.Cache, st *store.Store, meta *metadatastore.Store, target platform.Target, opts Options) *Pipeline {
	sink := opts.Sink
	if sink == nil {
		sink = progress.NoopSink{}
	}
	unpackPool := opts.UnpackConcurrency
	if unpackPool <= 0 {
		unpackPool = 4
	}
	materialPool := opts.MaterializeConcurrency
	if materialPool <= 0 {
		materialPool = 4
	}
	return &Pipeline{
		fetcher:      fetcher,
		blobs:        blobs,
		store:        st,
		meta:         meta,
		target:       target,
		prefix:       opts.Prefix,
		cellarDir:    opts.CellarDir,
		unpackPool:   unpackPool,
		materialPool: materialPool,
		sink:         sink,
	}
}

// plannedNode is one formula in the resolved, topologically ordered
// install set, paired with the bottle selected for it. A node already
// satisfied by an identical installed store_key is marked skip so Fetch
// and the commit stage do no redundant work.
type plannedNode struct {
	formula model.Formula
	bottle  model.BottleFile
	tag     string
	skip    bool
}

// Install resolves roots' transitive dependency closure, plans which
// nodes are already installed, fetches and unpacks the rest with bounded
// concurrency, then materializes, links, and commits each node in
// topological order. A failure in one node's commit unwinds only that
// node's partial effects; nodes already committed earlier in the same
// call are left in place.
func (p *Pipeline) Install(ctx context.Context, roots []string) error {
	formulas, err := resolver.Resolve(ctx, p.fetcher, roots)
	if err != nil {
		return err
	}

	plan, err := p.plan(formulas)
	if err != nil {
		return err
	}

	if err := p.fetchAndUnpack(ctx, plan); err != nil {
		return err
	}

	for _, node := range plan {
		if node.skip {
			continue
		}
		if err := p.materializeLinkAndRecord(ctx, node); err != nil {
			return fmt.Errorf("installing %s: %w", node.formula.Name, err)
		}
		p.sink.Notify(progress.Event{Kind: progress.InstallCompleted, Name: node.formula.Name, Detail: node.formula.Version})
	}
	return nil
}

// plan selects a bottle for every formula and skips nodes already
// installed at the same store key, failing the whole plan before any I/O
// if any node has no bottle for the target platform.
func (p *Pipeline) plan(formulas []model.Formula) ([]plannedNode, error) {
	plan := make([]plannedNode, 0, len(formulas))
	for _, f := range formulas {
		bottle, tag, err := selector.SelectBottle(f, p.target)
		if err != nil {
			return nil, err
		}

		node := plannedNode{formula: f, bottle: bottle, tag: tag}
		if installed, ok, err := p.meta.GetInstalledKeg(f.Name); err == nil && ok {
			if string(installed.StoreKey) == bottle.SHA256 {
				node.skip = true
			} else if selector.IsUpgrade(installed.Version, f.Version) {
				p.sink.Notify(progress.Event{
					Kind:   progress.LinkStarted,
					Name:   f.Name,
					Detail: fmt.Sprintf("upgrading %s -> %s", installed.Version, f.Version),
				})
			}
		}
		plan = append(plan, node)
	}
	return plan, nil
}

// fetchAndUnpack runs the download and unpack stages over every
// non-skipped node with bounded concurrency. Downloads happen via the
// blob cache's own singleflight+semaphore bound; unpack work is bounded
// separately here to the pipeline's configured pool size.
func (p *Pipeline) fetchAndUnpack(ctx context.Context, plan []plannedNode) error {
	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.unpackPool)

	for _, node := range plan {
		if node.skip {
			continue
		}
		node := node
		g.Go(func() error {
			p.sink.Notify(progress.Event{Kind: progress.DownloadStarted, Name: node.formula.Name, Detail: node.bottle.URL})
			blobPath, err := p.blobs.Fetch(ctx, node.bottle.URL, node.bottle.SHA256)
			if err != nil {
				return err
			}
			p.sink.Notify(progress.Event{Kind: progress.DownloadCompleted, Name: node.formula.Name})

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()

			p.sink.Notify(progress.Event{Kind: progress.UnpackStarted, Name: node.formula.Name})
			if _, err := p.store.EnsureEntry(model.StoreKey(node.bottle.SHA256), blobPath); err != nil {
				return err
			}
			p.sink.Notify(progress.Event{Kind: progress.UnpackCompleted, Name: node.formula.Name})
			return nil
		})
	}
	return g.Wait()
}

// materializeLinkAndRecord copies node's store entry into its keg
// directory, links the keg into the prefix, and commits InstalledKeg +
// LinkRecords + a StoreRef increment as a single metadata store
// transaction via CommitInstall. Any symlink or partial keg directory
// created before a failure — including a CommitInstall failure, which
// leaves no durable row behind it — is unwound before returning.
func (p *Pipeline) materializeLinkAndRecord(ctx context.Context, node plannedNode) error {
	p.sink.Notify(progress.Event{Kind: progress.LinkStarted, Name: node.formula.Name})

	key := model.StoreKey(node.bottle.SHA256)
	storePath := p.store.EntryPath(key)
	kegPath := kegDir(p.cellarDir, node.formula.Name, node.formula.Version)

	if err := materializer.Materialize(storePath, kegPath); err != nil {
		return err
	}

	keg := model.Keg{Name: node.formula.Name, Version: node.formula.Version, Path: kegPath}
	records, err := linker.LinkKeg(keg, p.prefix)
	if err != nil {
		_ = linker.UnlinkKeg(records)
		_ = removeKegDir(kegPath)
		return err
	}

	installed := model.InstalledKeg{
		Name:        node.formula.Name,
		Version:     node.formula.Version,
		StoreKey:    key,
		InstalledAt: time.Now(),
		PlatformTag: node.tag,
	}
	if err := p.meta.CommitInstall(ctx, installed, records, key); err != nil {
		_ = linker.UnlinkKeg(records)
		_ = removeKegDir(kegPath)
		return err
	}

	p.sink.Notify(progress.Event{Kind: progress.LinkCompleted, Name: node.formula.Name})
	return nil
}

// Uninstall removes name's links and keg directory, then commits the
// LinkRecords deletion, InstalledKeg deletion, and StoreRef decrement as a
// single metadata store transaction via CommitUninstall. It does not touch
// the underlying store entry directly — that is gc()'s job, once no
// installed keg references it at all.
func (p *Pipeline) Uninstall(ctx context.Context, name string) error {
	keg, ok, err := p.meta.GetInstalledKeg(name)
	if err != nil {
		return err
	}
	if !ok {
		return &zberrors.FormulaNotFound{Name: name}
	}

	records, err := p.meta.GetLinkRecordsForName(name)
	if err != nil {
		return err
	}
	if err := linker.UnlinkKeg(records); err != nil {
		return err
	}

	kegPath := kegDir(p.cellarDir, keg.Name, keg.Version)
	if err := removeKegDir(kegPath); err != nil {
		return err
	}

	if _, err := p.meta.CommitUninstall(ctx, name, keg.StoreKey); err != nil {
		return err
	}
	return nil
}

// GC removes every store entry with a zero reference count. It is the
// only legal deleter of store entries outside the blob/metadata cache's
// own tmp-file cleanup.
func (p *Pipeline) GC(ctx context.Context) ([]model.StoreKey, error) {
	return p.meta.PruneBlobCache(ctx, p.store, true)
}

// Doctor reports every installed keg whose on-disk state no longer
// matches what the metadata store recorded.
func (p *Pipeline) Doctor() ([]error, error) {
	return p.meta.Doctor(p.store)
}
