package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLintGoFindsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "queries.go", "package q\n\n"+
		"const cols = `id, name`\n\n"+
		"const QGood = `--sql 11111111-2222-4333-8444-555555555555\nselect ` + cols + ` from t;`\n\n"+
		"const QBare = `select 1;`\n\n"+
		"const QDup = \"--sql 11111111-2222-4333-8444-555555555555\\nupdate t set x = 1\"\n\n"+
		"const label = \"not sql\"\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(l.violations) != 2 {
		t.Fatalf("violations = %+v, want 2", l.violations)
	}
	if l.violations[0].name != "QBare" || !strings.Contains(l.violations[0].message, "missing") {
		t.Fatalf("first violation = %+v", l.violations[0])
	}
	if l.violations[1].name != "QDup" || !strings.Contains(l.violations[1].message, "already used") {
		t.Fatalf("second violation = %+v", l.violations[1])
	}
}

func TestLintSQLRequiresLeadingMarker(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"marked", "\n--sql aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee\ncreate table x (id int);\n", 0},
		{"unmarked", "create table x (id int);\n", 1},
		{"empty", "\n\n", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newLinter()
			path := writeFile(t, t.TempDir(), "0001_init.sql", tc.body)
			if err := l.lintSQL(path); err != nil {
				t.Fatalf("lint: %v", err)
			}
			if len(l.violations) != tc.want {
				t.Fatalf("violations = %+v, want %d", l.violations, tc.want)
			}
		})
	}
}

func TestWalkSkipsTestsAndUnderscoreDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_test.go", "package a\n\nconst q = `select 1`\n")
	writeFile(t, dir, "_examples/b.go", "package b\n\nconst q = `select 1`\n")

	l := newLinter()
	if err := l.walk(dir); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(l.violations) != 0 {
		t.Fatalf("violations = %+v", l.violations)
	}
}

func TestRepositoryQueriesCarryMarkers(t *testing.T) {
	l := newLinter()
	for _, dir := range []string{"../../sqlinline", "../../migrate/migrations"} {
		if err := l.walk(dir); err != nil {
			t.Fatalf("walk %s: %v", dir, err)
		}
	}
	if len(l.seen) == 0 {
		t.Fatal("no markers found")
	}
	for _, v := range l.violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
}
