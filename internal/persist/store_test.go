package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/cortex/schema"
)

func TestProfilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	profiles, err := store.Profiles()
	if err != nil || len(profiles) != 0 {
		t.Fatalf("expected no profiles, got %v %v", profiles, err)
	}
	saved, err := store.SaveProfile(schema.SSHProfile{
		Host:     "build.example",
		Username: "ci",
		Auth:     schema.SSHAuth{Type: schema.SSHAuthPassword, HasPassword: true},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.Port != 22 || saved.Name != "ci@build.example" {
		t.Fatalf("unexpected defaults: %+v", saved)
	}
	saved.Name = "build"
	if _, err := store.SaveProfile(saved); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Profile(saved.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if got.Name != "build" || !got.Auth.HasPassword {
		t.Fatalf("unexpected profile: %+v", got)
	}
	info, err := os.Stat(filepath.Join(dir, profilesFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	if err := store.DeleteProfile(saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Profile(saved.ID); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.DeleteProfile(saved.ID); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
}

func TestValidateProfile(t *testing.T) {
	cases := []schema.SSHProfile{
		{Username: "u", Auth: schema.SSHAuth{Type: schema.SSHAuthAgent}},
		{Host: "h", Auth: schema.SSHAuth{Type: schema.SSHAuthAgent}},
		{Host: "h", Username: "u", Auth: schema.SSHAuth{Type: schema.SSHAuthKey}},
		{Host: "h", Username: "u", Auth: schema.SSHAuth{Type: "kerberos"}},
		{Host: "h", Username: "u", Port: 70000, Auth: schema.SSHAuth{Type: schema.SSHAuthAgent}},
	}
	for i, p := range cases {
		if err := ValidateProfile(p); !errors.Is(err, schema.ErrBadArgument) {
			t.Fatalf("case %d: expected bad argument, got %v", i, err)
		}
	}
}

func TestWindowSnapshots(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.LoadWindow("main"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.SaveWindow(schema.WindowSnapshot{WindowID: "main", Folders: []string{"/src"}, OpenFiles: []string{"/src/a.go"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.LoadWindow("main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Folders) != 1 || got.Folders[0] != "/src" || got.SavedAt == 0 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	list, err := store.ListWindows()
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if _, err := store.SaveWindow(schema.WindowSnapshot{}); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
}

func TestSettingsWithComments(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	raw, err := store.LoadSettings()
	if err != nil || string(raw) != "{}" {
		t.Fatalf("expected empty settings, got %s %v", raw, err)
	}
	content := "{\n  // editor\n  \"editor\": {\"tabSize\": 4,},\n}\n"
	if err := os.WriteFile(store.SettingsPath(), []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	section, err := store.Section("editor")
	if err != nil {
		t.Fatalf("section: %v", err)
	}
	var editor struct {
		TabSize int `json:"tabSize"`
	}
	if err := json.Unmarshal(section, &editor); err != nil || editor.TabSize != 4 {
		t.Fatalf("expected tabSize 4, got %s %v", section, err)
	}
	missing, err := store.Section("terminal")
	if err != nil || string(missing) != "null" {
		t.Fatalf("expected null for missing section, got %s %v", missing, err)
	}
}
