package vfs

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a/b", "/a/b"},
		{"/a//b/", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/../../etc", "/etc"},
		{"..", "/"},
		{"a\\b", "/a/b"},
	}

	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContain(t *testing.T) {
	tests := []struct {
		root, p, want string
	}{
		{"/", "/a", "/a"},
		{"/sandbox", "/", "/sandbox"},
		{"/sandbox", "/etc/passwd", "/sandbox/etc/passwd"},
		{"/sandbox", "etc", "/sandbox/etc"},
		{"/sandbox", "../../etc", "/sandbox/etc"},
		{"/sandbox", "/a/../../..", "/sandbox"},
		{"/sandbox/", "x", "/sandbox/x"},
	}

	for _, tt := range tests {
		if got := Contain(tt.root, tt.p); got != tt.want {
			t.Errorf("Contain(%q, %q) = %q, want %q", tt.root, tt.p, got, tt.want)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		p, prefix string
		want      bool
	}{
		{"/a/b", "/", true},
		{"/a/b", "/a", true},
		{"/a/b", "/a/b", true},
		{"/a/bc", "/a/b", false},
		{"/a", "/a/b", false},
		{"/ab", "/a", false},
	}

	for _, tt := range tests {
		if got := HasPrefix(tt.p, tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.p, tt.prefix, got, tt.want)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	if got := Segments("/a/b/c"); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Segments() = %v", got)
	}
	if got := Segments("/"); len(got) != 0 {
		t.Errorf("Segments(/) = %v, want none", got)
	}
	if got := Dir("/a/b"); got != "/a" {
		t.Errorf("Dir() = %q, want /a", got)
	}
	if got := Dir("/a"); got != "/" {
		t.Errorf("Dir() = %q, want /", got)
	}
	if got := Base("/a/b"); got != "b" {
		t.Errorf("Base() = %q, want b", got)
	}
	if got := Base("/"); got != "" {
		t.Errorf("Base(/) = %q, want empty", got)
	}
	if got := Join("/a", "../b", "c"); got != "/b/c" {
		t.Errorf("Join() = %q, want /b/c", got)
	}
	if !IsClean("/a/b") || IsClean("/a/b/") || IsClean("a") {
		t.Error("IsClean() gave a wrong answer")
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("/ok"); err != nil {
		t.Errorf("ValidatePath() failed: %v", err)
	}

	for _, p := range []string{"", "/a\x00b", "/" + strings.Repeat("a", MaxPathLength)} {
		err := ValidatePath(p)
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidatePath(%.10q) = %v, want ErrInvalidPath", p, err)
		}
	}
}
