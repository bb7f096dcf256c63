// Package fsutil provides file system helpers for checkpoint directories.
package fsutil

import (
	"os"
	"sort"
	"strings"
)

// StagingSuffix marks generation directories that are still being written.
// They are invisible to readers and swept opportunistically.
const StagingSuffix = ".tmp"

// ListGenerations returns the published generation directories under root
// whose names start with prefix, sorted ascending. Zero-padded key values
// make lexical order match numeric order. A missing root is not an error:
// it simply has no generations yet.
func ListGenerations(root, prefix string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, StagingSuffix) {
			continue
		}
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// LatestGeneration returns the most recent published generation under root,
// or ok=false when none exists.
func LatestGeneration(root, prefix string) (string, bool, error) {
	dirs, err := ListGenerations(root, prefix)
	if err != nil || len(dirs) == 0 {
		return "", false, err
	}
	return dirs[len(dirs)-1], true, nil
}
