package eol

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Mode line-ending normalization mode
type Mode string

const (
	LF   Mode = "lf"
	CRLF Mode = "crlf"
	Keep Mode = "keep"
)

// ParseMode maps a config string onto a Mode, defaulting to Keep.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lf":
		return LF
	case "crlf":
		return CRLF
	default:
		return Keep
	}
}

var textExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".cs": true, ".go": true, ".rs": true, ".rb": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true, ".r": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true,
	".md": true, ".markdown": true, ".rst": true, ".txt": true, ".html": true,
	".htm": true, ".css": true, ".scss": true, ".sass": true, ".less": true,
	".sh": true, ".bash": true, ".zsh": true, ".bat": true, ".cmd": true, ".ps1": true,
	".sql": true, ".csv": true, ".tsv": true,
	".gitignore": true, ".gitattributes": true, ".editorconfig": true, ".env": true,
}

var binaryExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".webp": true, ".ico": true, ".pdf": true,
	".zip": true, ".7z": true, ".rar": true, ".tar": true, ".gz": true,
	".bz2": true, ".xz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".whl": true, ".jar": true,
	".mp3": true, ".wav": true, ".flac": true, ".mp4": true, ".mkv": true,
	".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
}

var specialTextNames = map[string]bool{
	"Makefile": true, "Dockerfile": true, "Jenkinsfile": true,
	"README": true, "LICENSE": true,
}

// IsTextPath decides by extension whether a path is text-like.
func IsTextPath(rel string) bool {
	base := filepath.Base(filepath.ToSlash(rel))
	ext := strings.ToLower(filepath.Ext(base))
	if binaryExtensions[ext] {
		return false
	}
	if textExtensions[ext] {
		return true
	}
	return specialTextNames[base]
}

// LooksBinary samples up to the first 8KiB for NUL bytes.
func LooksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

// Normalize rewrites line terminators of text content. Binary content and
// Keep mode are returned unchanged. Idempotent.
func Normalize(data []byte, mode Mode) []byte {
	if mode == Keep || len(data) == 0 || LooksBinary(data) {
		return data
	}
	out := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	out = bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
	if mode == CRLF {
		out = bytes.ReplaceAll(out, []byte("\n"), []byte("\r\n"))
	}
	return out
}

// NormalizeForPath normalizes only when the path is text-like.
func NormalizeForPath(rel string, data []byte, mode Mode) []byte {
	if mode == Keep || !IsTextPath(rel) {
		return data
	}
	return Normalize(data, mode)
}

// Fingerprint returns the hex SHA-1 of content after normalization, so two
// copies that differ only in line endings compare equal.
func Fingerprint(rel string, data []byte, mode Mode) string {
	sum := sha1.Sum(NormalizeForPath(rel, data, mode))
	return hex.EncodeToString(sum[:])
}
