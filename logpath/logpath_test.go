package logpath

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var day = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func TestFolder(t *testing.T) {
	root := t.TempDir()
	dir, err := Folder(root, "wheat", "ndvi", day)
	if err != nil {
		t.Fatalf("Folder() failed: %s", err)
	}
	if want := filepath.Join(root, "20240603_wheat_ndvi"); dir != want {
		t.Errorf("Folder() = %q, want %q", dir, want)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("folder not created: %v", err)
	}
	// A second call reuses the folder.
	if _, err := Folder(root, "wheat", "ndvi", day); err != nil {
		t.Errorf("Folder() on existing folder failed: %s", err)
	}
}

func TestNextEmpty(t *testing.T) {
	dir, err := Folder(t.TempDir(), "wheat", "temp", day)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Next(dir, ".csv")
	if err != nil {
		t.Fatalf("Next() failed: %s", err)
	}
	if want := filepath.Join(dir, "20240603_wheat_temp_001.csv"); got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestNextAfterHighest(t *testing.T) {
	dir, err := Folder(t.TempDir(), "wheat", "spectral", day)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"20240603_wheat_spectral_001.db",
		"20240603_wheat_spectral_002.db",
		"20240603_wheat_spectral_007.db",
		"20240603_wheat_spectral_009.csv",
		"20240603_wheat_spectral_notes.db",
		"other_012.db",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := Next(dir, ".db")
	if err != nil {
		t.Fatalf("Next() failed: %s", err)
	}
	if want := filepath.Join(dir, "20240603_wheat_spectral_008.db"); got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestPath(t *testing.T) {
	root := t.TempDir()
	got, err := Path(root, "barley", "pri", ".csv", day)
	if err != nil {
		t.Fatalf("Path() failed: %s", err)
	}
	if want := filepath.Join(root, "20240603_barley_pri", "20240603_barley_pri_001.csv"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}
