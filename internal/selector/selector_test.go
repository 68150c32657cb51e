package selector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/platform"
	"github.com/zb-pm/zb/internal/zberrors"
)

func TestSelectBottle_ExactMacOSTag(t *testing.T) {
	f := model.Formula{
		Name: "jq",
		Bottles: map[string]model.BottleFile{
			"arm64_sequoia": {URL: "https://example/jq-sequoia.tar.gz", SHA256: "aaa"},
			"arm64":         {URL: "https://example/jq-generic.tar.gz", SHA256: "bbb"},
		},
	}
	target := platform.NewTarget("darwin", "arm64", "sequoia", "", "")

	bottle, tag, err := SelectBottle(f, target)
	require.NoError(t, err)
	require.Equal(t, "arm64_sequoia", tag)
	require.Equal(t, "aaa", bottle.SHA256)
}

func TestSelectBottle_FallsBackToGenericArch(t *testing.T) {
	f := model.Formula{
		Name: "jq",
		Bottles: map[string]model.BottleFile{
			"arm64": {URL: "https://example/jq-generic.tar.gz", SHA256: "bbb"},
		},
	}
	target := platform.NewTarget("darwin", "arm64", "tahoe", "", "")

	bottle, tag, err := SelectBottle(f, target)
	require.NoError(t, err)
	require.Equal(t, "arm64", tag)
	require.Equal(t, "bbb", bottle.SHA256)
}

func TestSelectBottle_Linux(t *testing.T) {
	f := model.Formula{
		Name: "jq",
		Bottles: map[string]model.BottleFile{
			"arm64_linux": {URL: "https://example/jq-linux.tar.gz", SHA256: "ccc"},
		},
	}
	target := platform.NewTarget("linux", "arm64", "", "debian", "glibc")

	bottle, tag, err := SelectBottle(f, target)
	require.NoError(t, err)
	require.Equal(t, "arm64_linux", tag)
	require.Equal(t, "ccc", bottle.SHA256)
}

func TestSelectBottle_Unsupported(t *testing.T) {
	f := model.Formula{
		Name: "jq",
		Bottles: map[string]model.BottleFile{
			"arm64_sonoma": {URL: "https://example/jq.tar.gz", SHA256: "aaa"},
		},
	}
	target := platform.NewTarget("linux", "arm64", "", "debian", "glibc")

	_, _, err := SelectBottle(f, target)
	require.Error(t, err)

	var unsupported *zberrors.UnsupportedBottle
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "jq", unsupported.Name)
}

func TestIsUpgrade_NewerSemverIsUpgrade(t *testing.T) {
	require.True(t, IsUpgrade("1.7.0", "1.7.1"))
}

func TestIsUpgrade_SameOrOlderIsNotUpgrade(t *testing.T) {
	require.False(t, IsUpgrade("1.7.1", "1.7.1"))
	require.False(t, IsUpgrade("1.7.1", "1.6.0"))
}

func TestIsUpgrade_NonSemverFallsBackToStringInequality(t *testing.T) {
	require.True(t, IsUpgrade("2023a", "2023b"))
	require.False(t, IsUpgrade("2023a", "2023a"))
}
