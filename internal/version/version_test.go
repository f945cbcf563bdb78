package version

import (
	"strings"
	"testing"
)

func TestShortCommit(t *testing.T) {
	t.Parallel()

	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("unexpected short commit %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("unexpected short commit %q", got)
	}
}

func TestResolve(t *testing.T) {
	info := Resolve()
	if info.Version == "" || !strings.HasPrefix(info.GoVersion, "go") {
		t.Fatalf("incomplete info %+v", info)
	}
}
