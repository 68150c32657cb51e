package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

type mapFetcher map[string]model.Formula

func (m mapFetcher) GetFormula(_ context.Context, name string) (model.Formula, error) {
	f, ok := m[name]
	if !ok {
		return model.Formula{}, &zberrors.FormulaNotFound{Name: name}
	}
	return f, nil
}

func TestResolve_OrdersDependenciesBeforeDependents(t *testing.T) {
	fetcher := mapFetcher{
		"curl":      {Name: "curl", Dependencies: []string{"openssl", "zlib"}},
		"openssl":   {Name: "openssl", Dependencies: nil},
		"zlib":      {Name: "zlib", Dependencies: nil},
		"wget":      {Name: "wget", Dependencies: []string{"openssl"}},
	}

	result, err := Resolve(context.Background(), fetcher, []string{"curl", "wget"})
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, f := range result {
		pos[f.Name] = i
	}

	require.Less(t, pos["openssl"], pos["curl"])
	require.Less(t, pos["zlib"], pos["curl"])
	require.Less(t, pos["openssl"], pos["wget"])
}

func TestResolve_DeterministicTieBreak(t *testing.T) {
	fetcher := mapFetcher{
		"app": {Name: "app", Dependencies: []string{"zeta", "alpha", "mid"}},
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
		"mid":   {Name: "mid"},
	}

	result1, err := Resolve(context.Background(), fetcher, []string{"app"})
	require.NoError(t, err)
	result2, err := Resolve(context.Background(), fetcher, []string{"app"})
	require.NoError(t, err)

	names1 := namesOf(result1)
	names2 := namesOf(result2)
	require.Equal(t, names1, names2)
	require.Equal(t, []string{"alpha", "mid", "zeta", "app"}, names1)
}

func TestResolve_CyclicDependency(t *testing.T) {
	fetcher := mapFetcher{
		"a": {Name: "a", Dependencies: []string{"b"}},
		"b": {Name: "b", Dependencies: []string{"a"}},
	}

	_, err := Resolve(context.Background(), fetcher, []string{"a"})
	require.Error(t, err)

	var cyclic *zberrors.CyclicDependency
	require.ErrorAs(t, err, &cyclic)
}

func TestResolve_FormulaNotFound(t *testing.T) {
	fetcher := mapFetcher{
		"app": {Name: "app", Dependencies: []string{"missing"}},
	}

	_, err := Resolve(context.Background(), fetcher, []string{"app"})
	require.Error(t, err)

	var notFound *zberrors.FormulaNotFound
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.Name)
}

func TestResolve_NoDependencies(t *testing.T) {
	fetcher := mapFetcher{
		"standalone": {Name: "standalone"},
	}

	result, err := Resolve(context.Background(), fetcher, []string{"standalone"})
	require.NoError(t, err)
	require.Equal(t, []string{"standalone"}, namesOf(result))
}

func namesOf(formulas []model.Formula) []string {
	names := make([]string, len(formulas))
	for i, f := range formulas {
		names[i] = f.Name
	}
	return names
}
