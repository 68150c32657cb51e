// Package resolver computes the transitive dependency closure of a set of
// root formula names and orders it so dependencies always precede their
// dependents, deterministically.
package resolver

import (
	"context"
	"sort"

	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
	"golang.org/x/sync/errgroup"
)

// FormulaFetcher fetches a single formula's metadata. Implemented by
// apiclient.Client; kept as an interface here so the resolver can be tested
// without a network.
type FormulaFetcher interface {
	GetFormula(ctx context.Context, name string) (model.Formula, error)
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// Resolve fetches every formula reachable from roots and returns them in
// topological order: a formula always appears after all of its
// dependencies. The order is that of a depth-first walk that visits the
// roots, and each formula's dependencies, in name order, so the output is a
// pure function of the root set and each formula's declared dependencies,
// never of fetch completion order. It is not a lexicographic order over all
// ready formulas: roots "a" and "b", with "a" depending on "z", give
// z, a, b.
func Resolve(ctx context.Context, fetcher FormulaFetcher, roots []string) ([]model.Formula, error) {
	formulas := make(map[string]model.Formula)
	colors := make(map[string]color)
	order := make([]string, 0, len(roots)*2)

	// Fetch the full closure first, level by level, issuing every
	// not-yet-seen fetch of a level concurrently via fetchClosure below.
	if err := fetchClosure(ctx, fetcher, roots, formulas); err != nil {
		return nil, err
	}

	sortedRoots := append([]string(nil), roots...)
	sort.Strings(sortedRoots)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			cyclePath := append(append([]string(nil), path...), name)
			return &zberrors.CyclicDependency{Path: cyclePath}
		}

		colors[name] = gray
		f, ok := formulas[name]
		if !ok {
			return &zberrors.FormulaNotFound{Name: name}
		}

		deps := append([]string(nil), f.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}

		colors[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range sortedRoots {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}

	result := make([]model.Formula, len(order))
	for i, name := range order {
		result[i] = formulas[name]
	}
	return result, nil
}

// fetchClosure fetches every formula transitively reachable from roots,
// issuing all not-yet-seen fetches at each BFS-style level concurrently so
// sibling dependencies resolve in parallel rather than one at a time.
func fetchClosure(ctx context.Context, fetcher FormulaFetcher, names []string, out map[string]model.Formula) error {
	pending := make(map[string]struct{})
	for _, n := range names {
		if _, ok := out[n]; !ok {
			pending[n] = struct{}{}
		}
	}

	for len(pending) > 0 {
		batch := make([]string, 0, len(pending))
		for n := range pending {
			batch = append(batch, n)
		}
		sort.Strings(batch)

		fetched := make([]model.Formula, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range batch {
			i, name := i, name
			g.Go(func() error {
				f, err := fetcher.GetFormula(gctx, name)
				if err != nil {
					return err
				}
				fetched[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		next := make(map[string]struct{})
		for i, name := range batch {
			out[name] = fetched[i]
			for _, dep := range fetched[i].Dependencies {
				if _, ok := out[dep]; !ok {
					next[dep] = struct{}{}
				}
			}
		}
		pending = next
	}

	return nil
}
