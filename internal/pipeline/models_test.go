package pipeline

import (
	"testing"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input   string
		want    BuildMode
		wantErr bool
	}{
		{"iso", ModeISO, false},
		{"netboot", ModeNetboot, false},
		{"bootstrap", ModeBootstrap, false},
		{" ISO ", ModeISO, false},
		{"tarball", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		mode, err := ParseMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q) expected error, got %q", tc.input, mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q) error = %v", tc.input, err)
			continue
		}
		if mode != tc.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tc.input, mode, tc.want)
		}
	}
}

func TestParseModesRejectsDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := ParseModes([]string{"iso", "netboot", "iso"}); err == nil {
		t.Fatal("ParseModes() expected duplicate error")
	}
}

func TestParseModesPreservesOrder(t *testing.T) {
	t.Parallel()

	modes, err := ParseModes([]string{"bootstrap", "iso"})
	if err != nil {
		t.Fatalf("ParseModes() error = %v", err)
	}
	if len(modes) != 2 || modes[0] != ModeBootstrap || modes[1] != ModeISO {
		t.Fatalf("ParseModes() = %v, want [bootstrap iso]", modes)
	}
}

func TestContainsMode(t *testing.T) {
	t.Parallel()

	modes := []BuildMode{ModeISO, ModeBootstrap}
	if !ContainsMode(modes, ModeISO) {
		t.Error("expected ContainsMode to find iso")
	}
	if ContainsMode(modes, ModeNetboot) {
		t.Error("did not expect ContainsMode to find netboot")
	}
}

func TestSupportedModesAreValid(t *testing.T) {
	t.Parallel()

	for _, mode := range SupportedModes() {
		if !mode.IsValid() {
			t.Errorf("supported mode %q reported invalid", mode)
		}
	}
	if BuildMode("image").IsValid() {
		t.Error("unexpected mode reported valid")
	}
}
