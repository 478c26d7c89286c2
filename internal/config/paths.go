package config

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// windowsVar matches a %NAME% reference.
var windowsVar = regexp.MustCompile(`%([^%]+)%`)

// expandPath resolves environment references and a leading ~ in a
// configured path. On Windows ~\ and %NAME% are accepted too.
func expandPath(p string) string {
	if p == "" {
		return p
	}

	p = os.ExpandEnv(p)
	if runtime.GOOS == "windows" {
		p = expandWindowsVars(p)
	}

	rest, ok := cutHome(p)
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}

// cutHome reports whether p is relative to the home directory and returns
// the part after the ~.
func cutHome(p string) (string, bool) {
	if p == "~" {
		return "", true
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return rest, true
	}
	if runtime.GOOS == "windows" {
		return strings.CutPrefix(p, `~\`)
	}
	return "", false
}

// expandWindowsVars replaces %NAME% with its value. Unset names are left as
// written.
func expandWindowsVars(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	return windowsVar.ReplaceAllStringFunc(p, func(ref string) string {
		if val, ok := os.LookupEnv(ref[1 : len(ref)-1]); ok {
			return val
		}
		return ref
	})
}
