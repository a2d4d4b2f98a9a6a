package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".albumchat", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(HomeEnv, tmp)
	if got := Dir("work"); got != filepath.Join(tmp, "profiles", "work") {
		t.Errorf("Dir(work) = %q", got)
	}
}

func TestPathSuffixes(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("profiles", "test", "chatd.sock")},
		{"lock", LockPath("test"), filepath.Join("profiles", "test", "LOCK")},
		{"credentials", CredentialsPath("test"), filepath.Join("profiles", "test", "credentials.toml")},
		{"db", DBPath("test"), filepath.Join("profiles", "test", "outbox.db")},
		{"log", LogPath("test"), filepath.Join("profiles", "test", "logs", "chatd.log")},
		{"media", MediaDir("test"), filepath.Join("profiles", "test", "media")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.got, tt.want) {
				t.Errorf("%s path = %q, want suffix %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := EnsureDir("p1"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("p1"), LogDir("p1"), MediaDir("p1")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("%s perm = %o, want 0700", d, info.Mode().Perm())
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv("ALBUMCHAT_PROFILE", "")

	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve without config = %q, want %q", got, DefaultName)
	}

	t.Setenv("ALBUMCHAT_PROFILE", "work")
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve with env = %q, want work", got)
	}
}
