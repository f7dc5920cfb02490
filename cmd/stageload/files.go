package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loadedDir is the subdirectory successfully loaded files are moved to.
const loadedDir = "Uploaded"

// expandPaths replaces each directory argument with the .csv files
// directly inside it, sorted by name. File arguments pass through.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
				continue
			}
			found = append(found, filepath.Join(arg, e.Name()))
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// moveLoaded moves path into the loadedDir beside it.
func moveLoaded(path string) (string, error) {
	dir := filepath.Join(filepath.Dir(path), loadedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s directory: %w", loadedDir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", filepath.Base(path), err)
	}
	return dest, nil
}
