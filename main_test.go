package main

import (
	"testing"

	"devauth/cmd"
)

func TestVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}
}

func TestSetVersionFromMain(t *testing.T) {
	original := cmd.GetVersion()
	defer cmd.SetVersion(original)

	for _, v := range []string{"dev", "1.0.0", "v2.0.0-rc1"} {
		cmd.SetVersion(v)
		if got := cmd.GetVersion(); got != v {
			t.Errorf("GetVersion() = %q, want %q", got, v)
		}
	}
}
