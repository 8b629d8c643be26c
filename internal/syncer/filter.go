package syncer

import (
	"path/filepath"
	"strings"
)

// Internal directory names the engine writes into; never synchronized.
const (
	trashDirName  = ".tongbu_trash"
	backupDirName = ".tongbu_backup"
	tmpSuffix     = ".tongbu_tmp"
)

// pathFilter applies exclude patterns and the extension allow-list before
// events enter the debounce table, so filtered paths never produce state.
type pathFilter struct {
	patterns   []string
	extensions map[string]bool
}

func newPathFilter(patterns, extensions []string) *pathFilter {
	f := &pathFilter{patterns: append([]string{}, patterns...)}
	if len(extensions) > 0 {
		f.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.extensions[ext] = true
		}
	}
	return f
}

// Skip reports whether the relative path must not be synchronized.
func (f *pathFilter) Skip(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == trashDirName || part == backupDirName {
			return true
		}
		if strings.HasSuffix(part, tmpSuffix) {
			return true
		}
	}
	for _, p := range f.patterns {
		if matchGlob(p, rel, isDir) {
			return true
		}
	}
	if !isDir && f.extensions != nil {
		ext := strings.ToLower(filepath.Ext(rel))
		if !f.extensions[ext] {
			return true
		}
	}
	return false
}

func matchGlob(pattern, rel string, isDir bool) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return false
	}
	pattern = filepath.ToSlash(pattern)
	// Directory patterns without glob meta match themselves and everything below.
	if !strings.ContainsAny(pattern, "*?[]") {
		trimmed := strings.TrimSuffix(pattern, "/")
		if rel == trimmed || strings.HasPrefix(rel, trimmed+"/") {
			return true
		}
	}
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	// Match against the basename so "*.log" works at any depth.
	if ok, _ := filepath.Match(pattern, rel[strings.LastIndex(rel, "/")+1:]); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}
	return false
}
