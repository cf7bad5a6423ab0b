// manager_test.go - Tests for report file storage
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	uploadDir := filepath.Join(t.TempDir(), "nested", "uploads")

	if _, err := NewLocalStore(uploadDir, 0); err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
		t.Error("Expected upload directory to be created")
	}
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("records metadata and content", func(t *testing.T) {
		store := createTestStore(t)
		content := "sent:1000,opened:250,clicked:25"

		info, err := store.Save("campaign.csv", "text/csv", strings.NewReader(content))
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}
		if info.ID == "" {
			t.Error("Expected ID to be set")
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}
		if info.MediaType != "text/csv" {
			t.Errorf("Expected media type text/csv, got %q", info.MediaType)
		}
		if info.Status != "uploaded" {
			t.Errorf("Expected status 'uploaded', got %q", info.Status)
		}

		data, err := store.ReadFile(info.ID)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(data) != content {
			t.Errorf("Expected content %q, got %q", content, string(data))
		}
	})

	t.Run("detects media type from extension", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.SaveBytes("report.pdf", "", []byte("%PDF-1.4"))
		if err != nil {
			t.Fatalf("Failed to save file: %v", err)
		}
		if info.MediaType != "application/pdf" {
			t.Errorf("Expected application/pdf, got %q", info.MediaType)
		}
		if !info.IsPDF() {
			t.Error("Expected file to carry the pdf marker")
		}
	})

	t.Run("saves empty file", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.SaveBytes("empty.txt", "text/plain", nil)
		if err != nil {
			t.Fatalf("Failed to save empty file: %v", err)
		}
		if info.Size != 0 {
			t.Errorf("Expected size 0, got %d", info.Size)
		}
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		store, err := NewLocalStore(t.TempDir(), 8)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		_, err = store.SaveBytes("big.txt", "text/plain", []byte("0123456789"))
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("Expected ErrFileTooLarge, got %v", err)
		}
		entries, _ := os.ReadDir(store.uploadDir)
		if len(entries) != 0 {
			t.Errorf("Expected partial file to be removed, found %d entries", len(entries))
		}

		if _, err := store.SaveBytes("ok.txt", "text/plain", []byte("01234567")); err != nil {
			t.Errorf("Expected file at the limit to be accepted, got %v", err)
		}
	})
}

func TestLocalStore_GetReturnsCopy(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("a.txt", "", []byte("a"))

	got, err := store.Get(info.ID)
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	got.Name = "mutated"

	again, _ := store.Get(info.ID)
	if again.Name != "a.txt" {
		t.Errorf("Expected stored metadata to be unaffected, got %q", again.Name)
	}
}

func TestLocalStore_NotFound(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.ReadFile("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		if _, err := store.SaveBytes(name, "", []byte(name)); err != nil {
			t.Fatalf("Failed to save %s: %v", name, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, _ := store.List(0)
	if len(all) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(all))
	}
	if all[0].Name != "three.txt" {
		t.Errorf("Expected newest first, got %q", all[0].Name)
	}

	limited, _ := store.List(2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 files, got %d", len(limited))
	}
}

func TestLocalStore_DeleteAndStatus(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("a.txt", "", []byte("a"))

	store.SetStatus(info.ID, "selected")
	got, _ := store.Get(info.ID)
	if got.Status != "selected" {
		t.Errorf("Expected status 'selected', got %q", got.Status)
	}

	if err := store.Delete(info.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.uploadDir, info.ID)); !os.IsNotExist(err) {
		t.Error("Expected physical file to be removed")
	}
	store.SetStatus(info.ID, "ignored")
}

func TestLocalStore_ChunkedUpload(t *testing.T) {
	t.Run("assembles chunks in order", func(t *testing.T) {
		store := createTestStore(t)
		parts := []string{"sent:1000,", "opened:250,", "clicked:25"}
		for i, p := range parts {
			if err := store.SaveChunkBytes("up-1", i, []byte(p)); err != nil {
				t.Fatalf("Failed to save chunk %d: %v", i, err)
			}
		}

		info, err := store.CompleteChunkedUpload("up-1", "stats.txt", "", len(parts))
		if err != nil {
			t.Fatalf("Failed to complete upload: %v", err)
		}
		data, _ := store.ReadFile(info.ID)
		if string(data) != "sent:1000,opened:250,clicked:25" {
			t.Errorf("Unexpected assembled content %q", string(data))
		}
		if info.MediaType != "text/plain" {
			t.Errorf("Expected text/plain, got %q", info.MediaType)
		}
		if _, err := os.Stat(filepath.Join(store.uploadDir, "chunks", "up-1")); !os.IsNotExist(err) {
			t.Error("Expected chunk directory to be cleaned up")
		}
	})

	t.Run("missing chunk fails", func(t *testing.T) {
		store := createTestStore(t)
		_ = store.SaveChunkBytes("up-2", 0, []byte("a"))

		if _, err := store.CompleteChunkedUpload("up-2", "x.txt", "", 2); err == nil {
			t.Error("Expected error for missing chunk")
		}
	})

	t.Run("rejects path-like upload ids", func(t *testing.T) {
		store := createTestStore(t)
		for _, id := range []string{"", "..", "../escape", "a/b"} {
			if err := store.SaveChunkBytes(id, 0, []byte("a")); !errors.Is(err, ErrInvalidID) {
				t.Errorf("SaveChunk(%q): expected ErrInvalidID, got %v", id, err)
			}
		}
	})
}

func TestLocalStore_RegisterFile(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("a.gz", "", []byte("a"))

	info.Size = 42
	info.Name = "a.txt"
	store.RegisterFile(info)

	got, _ := store.Get(info.ID)
	if got.Size != 42 || got.Name != "a.txt" {
		t.Errorf("Expected registered metadata, got %+v", got)
	}
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	store := createTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := store.SaveBytes("c.txt", "", []byte("data"))
			if err != nil {
				t.Errorf("concurrent save: %v", err)
				return
			}
			_, _ = store.Get(info.ID)
			_, _ = store.List(5)
		}()
	}
	wg.Wait()

	all, _ := store.List(0)
	if len(all) != 20 {
		t.Errorf("Expected 20 files, got %d", len(all))
	}
}

var _ Store = (*LocalStore)(nil)
