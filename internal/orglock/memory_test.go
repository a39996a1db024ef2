package orglock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
)

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	locker := NewMemoryLocker(50 * time.Millisecond)
	orgID := snowflake.ID(1)

	release, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	if _, err := locker.Acquire(context.Background(), orgID); err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	locker := NewMemoryLocker(time.Second)
	orgID := snowflake.ID(1)

	release, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	release()

	release2, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	release2()
}

func TestDistinctOrganizationsDoNotContend(t *testing.T) {
	locker := NewMemoryLocker(50 * time.Millisecond)

	release1, err := locker.Acquire(context.Background(), snowflake.ID(1))
	if err != nil {
		t.Fatalf("acquire org 1: %v", err)
	}
	defer release1()

	release2, err := locker.Acquire(context.Background(), snowflake.ID(2))
	if err != nil {
		t.Fatalf("acquire org 2: %v", err)
	}
	release2()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	locker := NewMemoryLocker(time.Minute)
	orgID := snowflake.ID(1)

	release, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Acquire(ctx, orgID); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	locker := NewMemoryLocker(time.Second)
	orgID := snowflake.ID(1)

	release, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()

	release2, err := locker.Acquire(context.Background(), orgID)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	release2()
}

func TestContendersSerialize(t *testing.T) {
	locker := NewMemoryLocker(5 * time.Second)
	orgID := snowflake.ID(1)

	var mu sync.Mutex
	var inSection int
	var maxInSection int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), orgID)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inSection--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Fatalf("expected at most one holder at a time, saw %d", maxInSection)
	}
}
