package syncer

import "testing"

func TestFilterInternalDirsAlwaysSkipped(t *testing.T) {
	f := newPathFilter(nil, nil)
	cases := []string{
		".tongbu_trash/20250601_120000/a.txt",
		"sub/.tongbu_backup/20250601_120000/a.txt",
		"doc.txt.123.tongbu_tmp",
	}
	for _, rel := range cases {
		if !f.Skip(rel, false) {
			t.Errorf("internal path %q must be skipped", rel)
		}
	}
	if f.Skip("normal/doc.txt", false) {
		t.Error("plain path must not be skipped")
	}
}

func TestFilterExcludePatterns(t *testing.T) {
	f := newPathFilter([]string{"*.log", "node_modules", "build/**", ".git"}, nil)

	skipped := []struct {
		rel   string
		isDir bool
	}{
		{"app.log", false},
		{"deep/nested/err.log", false},
		{"node_modules", true},
		{"node_modules/pkg/index.js", false},
		{"build/out.bin", false},
		{".git/HEAD", false},
	}
	for _, c := range skipped {
		if !f.Skip(c.rel, c.isDir) {
			t.Errorf("%q must be excluded", c.rel)
		}
	}

	kept := []string{"src/main.go", "logfile.txt", "builder/x.txt"}
	for _, rel := range kept {
		if f.Skip(rel, false) {
			t.Errorf("%q must not be excluded", rel)
		}
	}
}

func TestFilterExtensionAllowList(t *testing.T) {
	f := newPathFilter(nil, []string{".go", "md"})

	if f.Skip("pkg/main.go", false) {
		t.Error(".go must pass the allow-list")
	}
	if f.Skip("README.md", false) {
		t.Error("md without dot must be normalized and pass")
	}
	if !f.Skip("image.png", false) {
		t.Error(".png must be rejected by the allow-list")
	}
	// Directories are never rejected by the extension list.
	if f.Skip("some.dir", true) {
		t.Error("directories must not be filtered by extension")
	}
}
