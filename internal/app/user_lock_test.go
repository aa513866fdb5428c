package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestLocalUserLocker_SerializesPerUser(t *testing.T) {
	locker := NewLocalUserLocker()
	userA := uuid.New()
	userB := uuid.New()

	release, acquired, err := locker.Acquire(context.Background(), userA)
	if err != nil || !acquired {
		t.Fatalf("expected first acquire to succeed, got acquired=%t err=%v", acquired, err)
	}

	if _, acquired, _ := locker.Acquire(context.Background(), userA); acquired {
		t.Fatal("expected second acquire for the same user to fail")
	}

	// Other subscribers are unaffected.
	releaseB, acquired, err := locker.Acquire(context.Background(), userB)
	if err != nil || !acquired {
		t.Fatalf("expected acquire for a different user to succeed, got acquired=%t err=%v", acquired, err)
	}
	releaseB()

	release()
	if _, acquired, _ := locker.Acquire(context.Background(), userA); !acquired {
		t.Fatal("expected acquire to succeed after release")
	}
}
