package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func mustDefaults(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewFromDefaults(nil)
	if err != nil {
		t.Fatalf("NewFromDefaults: %v", err)
	}
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuiltinDefaults(t *testing.T) {
	m := mustDefaults(t)

	for _, d := range []string{".git", ".sfdx", ".sf", "node_modules", ".apexlens", ".vscode",
		"force-app/main/default/staticresources"} {
		if !m.ShouldIgnore(d, true) {
			t.Errorf("expected directory %q to be ignored by defaults", d)
		}
	}

	if !m.ShouldIgnore("node_modules/lib/Foo.cls", false) {
		t.Error("file inside an ignored directory should be ignored")
	}
	if m.ShouldIgnore("force-app/main/default/classes/Foo.cls", false) {
		t.Error("class file should not be ignored by defaults")
	}
}

func TestDirOnlyPattern(t *testing.T) {
	m := mustDefaults(t)
	if m.ShouldIgnore("coverage", false) {
		t.Error("dir-only pattern 'coverage/' should not match a file named 'coverage'")
	}
	if !m.ShouldIgnore("coverage", true) {
		t.Error("dir-only pattern 'coverage/' should match a directory named 'coverage'")
	}
}

func TestIncluded(t *testing.T) {
	m := mustDefaults(t)
	tests := []struct {
		path string
		want bool
	}{
		{"Foo.cls", true},
		{"force-app/main/default/classes/Foo.cls", true},
		{"force-app/main/default/triggers/AccountTrigger.trigger", true},
		{"./classes/Foo.cls", true},
		{"classes/Foo.cls-meta.xml", false},
		{"lwc/app/app.js", false},
	}
	for _, tt := range tests {
		if got := m.Included(tt.path); got != tt.want {
			t.Errorf("Included(%q) = %v; want %v", tt.path, got, tt.want)
		}
	}
}

func TestCustomIncludes(t *testing.T) {
	m, err := NewFromDefaults([]string{"src/**/*.apex"})
	if err != nil {
		t.Fatalf("NewFromDefaults: %v", err)
	}
	if !m.Accept("src/a/b/Job.apex") {
		t.Error("custom include should accept src/a/b/Job.apex")
	}
	if m.Accept("Foo.cls") {
		t.Error("custom include should replace the defaults")
	}
	if got := m.Includes(); len(got) != 1 || got[0] != "src/**/*.apex" {
		t.Errorf("Includes() = %v", got)
	}
}

func TestInvalidInclude(t *testing.T) {
	if _, err := NewFromDefaults([]string{"[unclosed"}); err == nil {
		t.Error("expected an error for an invalid include pattern")
	}
}

func TestProjectIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ForceIgnoreFile), "# sfdx\n**/legacy/**\n")
	writeFile(t, filepath.Join(root, IgnoreFile), "*Test.cls\n!KeepTest.cls\n")

	m, err := New(root, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"classes/Foo.cls", true},
		{"classes/legacy/Old.cls", false},
		{"classes/FooTest.cls", false},
		{"classes/KeepTest.cls", true},
		{".sfdx/tools/Gen.cls", false},
	}
	for _, tt := range tests {
		if got := m.Accept(tt.path); got != tt.want {
			t.Errorf("Accept(%q) = %v; want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewWithoutIgnoreFiles(t *testing.T) {
	m, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !m.Accept("classes/Foo.cls") {
		t.Error("expected class to be accepted")
	}
}

func TestNewEmpty(t *testing.T) {
	m := NewEmpty()
	for _, p := range []string{".git/config", "node_modules/x.js", "Foo.cls"} {
		if !m.Accept(p) {
			t.Errorf("NewEmpty should accept %q", p)
		}
	}
}

func TestWalkFunc(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "classes", "Foo.cls"), "class Foo {}")
	writeFile(t, filepath.Join(root, "classes", "Foo.cls-meta.xml"), "<xml/>")
	writeFile(t, filepath.Join(root, "node_modules", "x", "Bar.cls"), "class Bar {}")

	m := mustDefaults(t)
	check := m.WalkFunc(root)

	var got []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		skip, skipDir := check(path, d.IsDir())
		if skipDir {
			return filepath.SkipDir
		}
		if skip || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "classes/Foo.cls" {
		t.Errorf("walked files = %v; want [classes/Foo.cls]", got)
	}
}
