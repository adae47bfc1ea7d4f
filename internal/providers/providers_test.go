package providers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLocalFileSinkWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	sink := NewLocalFileSink(tmpDir)
	ctx := context.Background()

	dir, err := sink.CreateDir(ctx, "2024/01/2024-01-02T03:04:05.000006")
	if err != nil {
		t.Fatalf("CreateDir failed: %v", err)
	}
	if err := sink.WriteFile(ctx, "2024/01/2024-01-02T03:04:05.000006/uuid", []byte("abc")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "uuid"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "abc" {
		t.Errorf("expected 'abc', got %q", content)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLocalFileSinkCreateDirRejectsExisting(t *testing.T) {
	sink := NewLocalFileSink(t.TempDir())
	ctx := context.Background()
	if _, err := sink.CreateDir(ctx, "a/b/c"); err != nil {
		t.Fatalf("first CreateDir: %v", err)
	}
	_, err := sink.CreateDir(ctx, "a/b/c")
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
}

func TestLocalFileSinkHonoursCancelledContext(t *testing.T) {
	sink := NewLocalFileSink(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.WriteFile(ctx, "x", []byte("y")); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestWaitForRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()

	client := NewRedisProvider(mr.Addr(), "")
	defer client.Close()
	if err := WaitForRedis(context.Background(), client, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForRedis: %v", err)
	}

	dead := NewRedisProvider("127.0.0.1:1", "")
	defer dead.Close()
	if err := WaitForRedis(context.Background(), dead, 2, 10*time.Millisecond); err == nil {
		t.Fatal("expected error once redis is gone")
	}
}
