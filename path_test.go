package odal

import (
	"errors"
	"testing"
)

func mustPath(t *testing.T, raw string) Path {
	t.Helper()
	p, err := ParsePath(raw)
	if err != nil {
		t.Fatalf("ParsePath(%q): %v", raw, err)
	}
	return p
}

func TestParsePathNormalizes(t *testing.T) {
	cases := map[string]string{
		"a/b/c.txt":      "a/b/c.txt",
		`a\b\c.txt`:      "a/b/c.txt",
		"a//b///c":       "a/b/c",
		"/a/b/":          "a/b",
		"./a/./b":        "a/b",
		"a/b/.":          "a/b",
		`\a\b`:           "a/b",
		"folder/.hidden": "folder/.hidden",
	}
	for raw, want := range cases {
		if got := mustPath(t, raw).String(); got != want {
			t.Errorf("ParsePath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestParsePathIdempotent(t *testing.T) {
	for _, raw := range []string{`a\\b//c`, "/x/./y/", "a/b"} {
		once := mustPath(t, raw)
		twice := mustPath(t, once.String())
		if once != twice {
			t.Errorf("re-parse of %q changed %q to %q", raw, once, twice)
		}
	}
}

func TestParsePathRejects(t *testing.T) {
	for _, raw := range []string{"", "/", ".", "./.", "a/../b", "..", "a/..", "bad\x00path"} {
		_, err := ParsePath(raw)
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ParsePath(%q) err = %v, want ErrInvalidPath", raw, err)
		}
	}
}

func TestPathName(t *testing.T) {
	if got := mustPath(t, "a/b/c.txt").Name(); got != "c.txt" {
		t.Errorf("Name = %q", got)
	}
	if got := mustPath(t, "solo").Name(); got != "solo" {
		t.Errorf("Name = %q", got)
	}
}

func TestPathParent(t *testing.T) {
	p, ok := mustPath(t, "a/b/c").Parent()
	if !ok || p.String() != "a/b" {
		t.Errorf("Parent = %q, %v", p, ok)
	}
	if _, ok := mustPath(t, "solo").Parent(); ok {
		t.Error("single segment should have no parent")
	}
}

func TestPathJoin(t *testing.T) {
	p, err := mustPath(t, "a/b").Join("c/d.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if p.String() != "a/b/c/d.txt" {
		t.Errorf("Join = %q", p)
	}
	if _, err := mustPath(t, "a").Join("../escape"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Join with '..' err = %v, want ErrInvalidPath", err)
	}
}

func TestPathSuffix(t *testing.T) {
	cases := map[string]string{
		"a/b.txt":       ".txt",
		"archive.tar.gz": ".gz",
		"noext":         "",
		"dir/.profile":  "",
	}
	for raw, want := range cases {
		if got := mustPath(t, raw).Suffix(); got != want {
			t.Errorf("Suffix(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestPathParts(t *testing.T) {
	got := mustPath(t, "a/b/c").Parts()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Parts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Parts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
