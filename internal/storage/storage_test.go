package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestReadJSON_ToleratesBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.json")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"session_id":"abc"}`)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var v struct {
		SessionID string `json:"session_id"`
	}
	if err := ReadJSON(path, &v); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if v.SessionID != "abc" {
		t.Errorf("Expected session_id 'abc', got %q", v.SessionID)
	}
}

func TestReadJSON_MissingFile(t *testing.T) {
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &struct{}{})
	if !os.IsNotExist(err) {
		t.Errorf("Expected os.IsNotExist error, got %v", err)
	}
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := ReadJSON(path, &struct{}{}); err == nil {
		t.Error("Expected error for corrupt JSON")
	}
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "data.json")
	in := map[string]string{"platform": "deepseek"}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	// No leftover temporary file
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temporary file should be gone, stat err=%v", err)
	}

	var out map[string]string
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if out["platform"] != "deepseek" {
		t.Errorf("Expected platform 'deepseek', got %q", out["platform"])
	}
}

func TestWithLock_SerializesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")

	var wg sync.WaitGroup
	const writers = 8
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, DefaultLockTimeout, func() error {
				var v struct {
					N int `json:"n"`
				}
				if err := ReadJSON(path, &v); err != nil && !os.IsNotExist(err) {
					return err
				}
				v.N++
				return WriteJSON(path, &v)
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	var v struct {
		N int `json:"n"`
	}
	if err := ReadJSON(path, &v); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if v.N != writers {
		t.Errorf("Expected counter %d, got %d", writers, v.N)
	}
}

func TestAcquireLock_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	held, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = AcquireLock(path, 300*time.Millisecond)
	if err != ErrLockTimeout {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Timed out too early: %v", elapsed)
	}
}

func TestFileLock_ReleaseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	lock, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	lock.Release()
	lock.Release() // must be safe

	// Lock is free again
	again, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	again.Release()
}
