// SPDX-License-Identifier: MIT
package build

import (
	"strings"
	"testing"
)

func TestUnstampedBuildFallsBackToDefaults(t *testing.T) {
	Initialize()

	f := Get()
	if f.Name != "beatbox" {
		t.Errorf("name = %q, want beatbox", f.Name)
	}
	if f.Version != "dev" {
		t.Errorf("version = %q, want dev", f.Version)
	}
}

func TestStampedValuesOverrideDefaults(t *testing.T) {
	defer func() {
		buildVersion = ""
		buildCommit = ""
		flags.Version = "dev"
		flags.Commit = "unknown"
	}()

	buildVersion = "1.2.0"
	buildCommit = "abc1234"
	Initialize()

	f := Get()
	if f.Version != "1.2.0" || f.Commit != "abc1234" {
		t.Errorf("stamped values not applied: %+v", f)
	}
}

func TestStringContainsAllFields(t *testing.T) {
	f := Flags{Name: "beatbox", Version: "1.0.0", Commit: "deadbeef", Time: "2026-01-01"}
	s := f.String()
	for _, part := range []string{"beatbox", "1.0.0", "deadbeef", "2026-01-01"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
