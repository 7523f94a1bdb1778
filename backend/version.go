package backend

import (
	"runtime/debug"
	"strings"
	"sync"
)

var buildDeps = sync.OnceValue(func() map[string]string {
	deps := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}
	for _, d := range info.Deps {
		mod := d
		if d.Replace != nil {
			mod = d.Replace
		}
		deps[d.Path] = strings.TrimPrefix(mod.Version, "v")
	}
	return deps
})

// ModuleVersion reports the version of module path linked into the binary,
// or fallback when build information is unavailable (tests, devel builds).
func ModuleVersion(path, fallback string) string {
	if v := buildDeps()[path]; v != "" && v != "(devel)" {
		return v
	}
	return fallback
}
