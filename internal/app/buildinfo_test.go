package app

import "testing"

func TestBuildVersionFallsBackToDev(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "  "
	if got := BuildVersion(); got != "dev" {
		t.Fatalf("expected dev fallback, got %q", got)
	}

	Version = "1.2.3"
	if got := BuildVersion(); got != "1.2.3" {
		t.Fatalf("expected version passthrough, got %q", got)
	}
}
