package requirement

import (
	"sort"
	"testing"
)

func mustVersion(t *testing.T, s string) Version {
	t.Helper()
	v, err := ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

func TestParseVersionNormalizes(t *testing.T) {
	tests := map[string]string{
		"1.0":               "1.0",
		"v2.31.0":           "2.31.0",
		"1.0alpha1":         "1.0a1",
		"1.0-beta.2":        "1.0b2",
		"1.0c1":             "1.0rc1",
		"1.0-1":             "1.0.post1",
		"1.0.rev2":          "1.0.post2",
		"1.0.dev":           "1.0.dev0",
		"2!1.0":             "2!1.0",
		"1.0+Ubuntu.1":      "1.0+ubuntu.1",
		"1.0rc1.post2.dev3": "1.0rc1.post2.dev3",
	}
	for in, want := range tests {
		if got := mustVersion(t, in).String(); got != want {
			t.Errorf("ParseVersion(%q).String() = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "latest", "1.0.x", "1..0", "1.0+"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Errorf("ParseVersion(%q) accepted", bad)
		}
	}
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{
		"1.0.dev0",
		"1.0a1",
		"1.0a2.dev1",
		"1.0a2",
		"1.0b1",
		"1.0rc1",
		"1.0",
		"1.0+local",
		"1.0.post1.dev0",
		"1.0.post1",
		"1.1",
		"1.10",
		"2.0",
		"1!0.1",
	}

	shuffled := make([]Version, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		shuffled = append(shuffled, mustVersion(t, ordered[i]))
	}
	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i].Compare(shuffled[j]) < 0 })

	for i, v := range shuffled {
		if v.Raw() != ordered[i] {
			t.Errorf("position %d: got %s, want %s", i, v.Raw(), ordered[i])
		}
	}

	if mustVersion(t, "1.0").Compare(mustVersion(t, "1.0.0")) != 0 {
		t.Error("1.0 and 1.0.0 should compare equal")
	}
}

func TestIsPrerelease(t *testing.T) {
	tests := map[string]bool{
		"1.0":       false,
		"1.0.post1": false,
		"1.0a1":     true,
		"1.0rc2":    true,
		"1.0.dev3":  true,
	}
	for in, want := range tests {
		if got := mustVersion(t, in).IsPrerelease(); got != want {
			t.Errorf("IsPrerelease(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSpecifierContains(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{">=68.0.0", "68.0.0", true},
		{">=68.0.0", "69.5.1", true},
		{">=68.0.0", "67.8.0", false},
		{">=0.38.0", "0.42.0", true},
		{"==1.26.4", "1.26.4", true},
		{"==1.26.4", "1.26.4+cpu", true},
		{"==1.26.4+cpu", "1.26.4", false},
		{"==1.26.*", "1.26.9", true},
		{"==1.26.*", "1.27.0", false},
		{"!=1.26.*", "1.27.0", true},
		{"~=2.2", "2.9", true},
		{"~=2.2", "3.0", false},
		{"~=2.2.1", "2.2.5", true},
		{"~=2.2.1", "2.3.0", false},
		{">1.7", "1.7.post1", false},
		{">1.7", "1.7.1", true},
		{"<2.0", "2.0rc1", false},
		{"<2.0rc2", "2.0rc1", true},
		{"<=2.0", "2.0", true},
		{">=1,<2", "1.5", true},
		{">=1,<2", "2.1", false},
		{"===1.0", "1.0", true},
		{"===1.0", "1.0.0", false},
	}
	for _, tt := range tests {
		set, err := ParseSpecifierSet(tt.spec)
		if err != nil {
			t.Fatalf("ParseSpecifierSet(%q): %v", tt.spec, err)
		}
		if got := set.Contains(mustVersion(t, tt.version)); got != tt.want {
			t.Errorf("%s contains %s = %v, want %v", tt.spec, tt.version, got, tt.want)
		}
	}
}

func TestAllowsPrereleases(t *testing.T) {
	for spec, want := range map[string]bool{
		">=1.0":      false,
		">=1.0rc1":   true,
		"==2.0.dev1": true,
		"":           false,
	} {
		set, err := ParseSpecifierSet(spec)
		if err != nil {
			t.Fatalf("ParseSpecifierSet(%q): %v", spec, err)
		}
		if got := set.AllowsPrereleases(); got != want {
			t.Errorf("AllowsPrereleases(%q) = %v, want %v", spec, got, want)
		}
	}
}
