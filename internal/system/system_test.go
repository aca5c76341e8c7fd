package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestImagePoolAccounting(t *testing.T) {
	pool := NewImagePool()

	img := pool.Get(10, 20)
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 20 {
		t.Fatalf("Unexpected bounds: %v", img.Bounds())
	}
	if got := pool.LiveBytes(); got != 10*20*4 {
		t.Errorf("Expected %d live bytes, got %d", 10*20*4, got)
	}

	pool.Put(img)
	if got := pool.LiveBytes(); got != 0 {
		t.Errorf("Expected 0 live bytes after Put, got %d", got)
	}

	pool.Put(nil)
}

func TestFindLatestPDF(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.pdf", "b.PDF", "c.txt"}
	for i, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		modTime := time.Now().Add(time.Duration(i) * time.Hour)
		os.Chtimes(p, modTime, modTime)
	}

	latest, err := FindLatestPDF(dir)
	if err != nil {
		t.Fatalf("FindLatestPDF failed: %v", err)
	}
	if filepath.Base(latest) != "b.PDF" {
		t.Errorf("Expected b.PDF, got %s", latest)
	}

	if _, err := FindLatestPDF(t.TempDir()); err == nil {
		t.Error("Expected error for a directory without PDFs")
	}
}

func TestSurfaceBudget(t *testing.T) {
	if got := SurfaceBudget(context.Background()); got < 64<<20 {
		t.Errorf("Budget below floor: %d", got)
	}
}
