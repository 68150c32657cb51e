package platform

import (
	"reflect"
	"testing"
)

func TestTarget_BottleTags_Darwin(t *testing.T) {
	tests := []struct {
		name string
		t    Target
		want []string
	}{
		{
			name: "sequoia arm64 tries exact tag then generic",
			t:    NewTarget("darwin", "arm64", "sequoia", "", ""),
			want: []string{"arm64_sequoia", "arm64"},
		},
		{
			name: "undetectable codename falls back to generic only",
			t:    NewTarget("darwin", "arm64", "", "", ""),
			want: []string{"arm64"},
		},
		{
			name: "sonoma x86_64",
			t:    NewTarget("darwin", "amd64", "sonoma", "", ""),
			want: []string{"x86_64_sonoma", "x86_64"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.t.BottleTags()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BottleTags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTarget_BottleTags_Linux(t *testing.T) {
	target := NewTarget("linux", "arm64", "", "debian", "glibc")
	want := []string{"arm64_linux"}
	got := target.BottleTags()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BottleTags() = %v, want %v", got, want)
	}
}

func TestTarget_BottleTags_LinuxX86_64(t *testing.T) {
	target := NewTarget("linux", "amd64", "", "debian", "glibc")
	want := []string{"x86_64_linux"}
	got := target.BottleTags()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BottleTags() = %v, want %v", got, want)
	}
}

func TestTarget_BottleTags_UnknownOS(t *testing.T) {
	target := NewTarget("windows", "amd64", "", "", "")
	if got := target.BottleTags(); got != nil {
		t.Errorf("BottleTags() = %v, want nil", got)
	}
}

func TestDetectTarget_ReturnsNonEmptyOSAndArch(t *testing.T) {
	target, err := DetectTarget()
	if err != nil {
		t.Fatalf("DetectTarget() error = %v", err)
	}
	if target.OS == "" || target.Arch == "" {
		t.Errorf("DetectTarget() = %+v, want non-empty OS/Arch", target)
	}
}

func TestValidLinuxFamilies(t *testing.T) {
	expected := []string{"debian", "rhel", "arch", "alpine", "suse"}
	if !reflect.DeepEqual(ValidLinuxFamilies, expected) {
		t.Errorf("ValidLinuxFamilies = %v, want %v", ValidLinuxFamilies, expected)
	}
}
