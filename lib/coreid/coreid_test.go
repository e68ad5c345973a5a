package coreid

import (
	"runtime"
	"sync"
	"testing"
)

func TestCurrentStableOnPinnedThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	first := Current()
	for i := 0; i < 100; i++ {
		if got := Current(); got != first {
			t.Fatalf("core id changed on a pinned thread: %d != %d", got, first)
		}
	}
}

func TestInstallOnce(t *testing.T) {
	// Install is process-wide, so this test owns the one allowed call
	// within this test binary.
	Install(func() uint32 { return 7 })

	if got := Current(); got != 7 {
		t.Fatalf("installed query not used: got %d, want 7", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("second Install did not panic")
		}
	}()
	Install(func() uint32 { return 8 })
}

func TestCurrentConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = Current()
			}
		}()
	}
	wg.Wait()
}
