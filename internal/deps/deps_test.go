package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTool(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	writeTool(t, dir, "fake-rec", `echo "fake-rec 1.2.3"; echo "second line"`)
	writeTool(t, dir, "fake-broken", `exit 1`)
	t.Setenv("PATH", dir)

	tests := []struct {
		name          string
		tool          Tool
		wantInstalled bool
		wantVersion   string
	}{
		{"installed with version", Tool{Name: "fake-rec", VersionFlag: "--version"}, true, "fake-rec 1.2.3"},
		{"version flag fails", Tool{Name: "fake-broken", VersionFlag: "--version"}, true, ""},
		{"no version flag", Tool{Name: "fake-rec"}, true, ""},
		{"missing", Tool{Name: "not-there", VersionFlag: "--version", Needed: "nothing"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Check(tt.tool)
			if st.Name != tt.tool.Name || st.Needed != tt.tool.Needed {
				t.Errorf("status names %q/%q", st.Name, st.Needed)
			}
			if st.Installed != tt.wantInstalled {
				t.Fatalf("Installed = %v, want %v", st.Installed, tt.wantInstalled)
			}
			if st.Installed && st.Path != filepath.Join(dir, tt.tool.Name) {
				t.Errorf("Path = %q", st.Path)
			}
			if !st.Installed && st.Path != "" {
				t.Errorf("not installed but Path = %q", st.Path)
			}
			if st.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", st.Version, tt.wantVersion)
			}
		})
	}
}

func TestCheckAllKeepsOrder(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	got := CheckAll(ClientTools)
	if len(got) != len(ClientTools) {
		t.Fatalf("got %d statuses", len(got))
	}
	for i, st := range got {
		if st.Name != ClientTools[i].Name || st.Installed {
			t.Errorf("status %d = %+v", i, st)
		}
	}
}
