package normalizer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArtifact(t *testing.T, dir, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestScanSkipsUnreadyFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)

	writeArtifact(t, dir, "b.json", `[]`, old.Add(time.Minute))
	writeArtifact(t, dir, "a.json", `[]`, old)
	writeArtifact(t, dir, "empty.json", ``, old)
	writeArtifact(t, dir, ".hidden.json", `[]`, old)
	writeArtifact(t, dir, "c.json.part", `[]`, old)
	writeArtifact(t, dir, "fresh.json", `[]`, now.Add(-time.Second))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res, err := Scan(dir, "COMPRASMX", 5*time.Second, now)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(res.Artifacts))
	}
	if res.Artifacts[0].Name != "a.json" || res.Artifacts[1].Name != "b.json" {
		t.Fatalf("unexpected order %s, %s", res.Artifacts[0].Name, res.Artifacts[1].Name)
	}
	if res.Skipped != 4 {
		t.Fatalf("expected 4 skipped, got %d", res.Skipped)
	}
	if res.Artifacts[0].Source != "COMPRASMX" {
		t.Fatalf("unexpected source %q", res.Artifacts[0].Source)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), "DOF", 0, time.Now()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestAfterCursor(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	arts := []Artifact{
		{Name: "a", Key: ArtifactKey(base, "a")},
		{Name: "b", Key: ArtifactKey(base.Add(time.Second), "b")},
		{Name: "c", Key: ArtifactKey(base.Add(2*time.Second), "c")},
	}
	if got := After(arts, ""); len(got) != 3 {
		t.Fatalf("empty cursor should keep everything, got %d", len(got))
	}
	got := After(arts, arts[1].Key)
	if len(got) != 1 || got[0].Name != "c" {
		t.Fatalf("unexpected %v", got)
	}
	if got := After(arts, arts[2].Key); len(got) != 0 {
		t.Fatalf("expected nothing after last key, got %d", len(got))
	}
}

func TestArtifactKeyOrdersChronologically(t *testing.T) {
	early := ArtifactKey(time.Date(2025, 1, 9, 23, 0, 0, 5, time.UTC), "z.json")
	late := ArtifactKey(time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC), "a.json")
	if early >= late {
		t.Fatalf("expected %s < %s", early, late)
	}
}

func TestDateFromName(t *testing.T) {
	cases := map[string]time.Time{
		"dof_2025-02-18_mat.txt":    time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
		"20250218.json":             time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
		"export_18-02-2025.csv":     time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
		"releases_2024_12_31.jsonl": time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	for name, want := range cases {
		got, ok := DateFromName(name, time.UTC)
		if !ok || !got.Equal(want) {
			t.Fatalf("DateFromName(%q) = %s, %v", name, got, ok)
		}
	}
	if _, ok := DateFromName("expedientes.json", time.UTC); ok {
		t.Fatal("expected no date")
	}
}

func TestArtifactDateFallsBackToModTime(t *testing.T) {
	a := Artifact{Name: "expedientes.json", ModTime: time.Date(2025, 3, 4, 22, 0, 0, 0, time.UTC)}
	loc := time.FixedZone("CST", -6*3600)
	got := a.Date(loc)
	if got.Day() != 4 || got.Hour() != 0 {
		t.Fatalf("unexpected date %s", got)
	}
}
