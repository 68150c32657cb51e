// Package selector picks the bottle archive matching a host's platform
// tags out of a Formula's bottle map.
package selector

import (
	"github.com/Masterminds/semver/v3"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/platform"
	"github.com/zb-pm/zb/internal/zberrors"
)

// SelectBottle returns the BottleFile and matching platform tag for the
// first tag in target.BottleTags() present in f.Bottles. Tags are tried
// most specific first (macOS: exact codename tag, then generic arch;
// Linux: {arch}_linux only). No match returns UnsupportedBottle.
func SelectBottle(f model.Formula, target platform.Target) (model.BottleFile, string, error) {
	for _, tag := range target.BottleTags() {
		if bottle, ok := f.Bottles[tag]; ok {
			return bottle, tag, nil
		}
	}
	return model.BottleFile{}, "", &zberrors.UnsupportedBottle{
		Name:     f.Name,
		Platform: target.OS + "/" + target.Arch,
	}
}

// IsUpgrade reports whether candidate is a strictly newer version than
// installed, using semver comparison. Homebrew formula versions aren't
// always strict semver (some carry dotted suffixes like "1.2.3_1"), so a
// parse failure on either side falls back to a plain string inequality
// check rather than erroring — the pipeline only uses this to decide
// whether to log an upgrade notice, never to gate correctness.
func IsUpgrade(installed, candidate string) bool {
	installedVer, err1 := semver.NewVersion(installed)
	candidateVer, err2 := semver.NewVersion(candidate)
	if err1 != nil || err2 != nil {
		return installed != candidate
	}
	return candidateVer.GreaterThan(installedVer)
}
