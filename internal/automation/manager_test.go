//go:build !no_automation

package automation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Night Light", Description: "dim at night", Enabled: true},
		LuaCode: `rgb.set_color(0, "#202020")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "night_light" {
		t.Errorf("id = %q, want night_light", saved.ID)
	}

	got, err := m.Get("night_light")
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != saved.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, saved.Meta)
	}
	if strings.TrimSpace(got.LuaCode) != `rgb.set_color(0, "#202020")` {
		t.Errorf("lua code = %q", got.LuaCode)
	}

	data, err := os.ReadFile(saved.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `-- {"name":"Night Light"`) {
		t.Errorf("file header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}
}

func TestManagerUniqueIDs(t *testing.T) {
	m := newTestManager(t)
	var ids []string
	for range 3 {
		s, err := m.Save(&Script{Meta: ScriptMeta{Name: "Party!"}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}
	want := []string{"party", "party_1", "party_2"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}

	unnamed, err := m.Save(&Script{})
	if err != nil {
		t.Fatal(err)
	}
	if unnamed.ID != "script" {
		t.Errorf("unnamed id = %q", unnamed.ID)
	}
}

func TestManagerListSortedAndSkipsBad(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}, LuaCode: "-- noop"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(m.dir, "broken.lua"), []byte("-- {not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, "plain.lua"), []byte("rgb.log('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "alpha,plain,zeta" {
		t.Errorf("ids = %v", ids)
	}
	if scripts[1].Meta.Name != "" || scripts[1].LuaCode != "rgb.log('hi')\n" {
		t.Errorf("plain script = %+v", scripts[1])
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Save(&Script{Meta: ScriptMeta{Name: "gone"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestManagerRejectsBadIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`, "a/b"} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) succeeded", id)
		}
		if err := m.Delete(id); err == nil {
			t.Errorf("Delete(%q) succeeded", id)
		}
	}
	if _, err := m.Save(&Script{ID: "../x"}); err == nil {
		t.Error("Save with traversal id succeeded")
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Night Light":          "night_light",
		"  --Fancy  Stuff--":   "fancy_stuff",
		"!!!":                  "",
		strings.Repeat("x", 50): strings.Repeat("x", 40),
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
