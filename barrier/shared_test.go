package barrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestSharedGroupsAreOrthogonal verifies a participant blocked on "swap" can be
// released on "control" without the swap group moving.
func TestSharedGroupsAreOrthogonal(t *testing.T) {
	s := NewShared(2, GroupSwap, GroupControl)
	defer s.Close()

	swapDone := make(chan error, 1)
	go func() {
		_, err := s.Arrive(context.Background(), GroupSwap, "a")
		swapDone <- err
	}()

	controlDone := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		go func(id string) {
			_, err := s.Arrive(context.Background(), GroupControl, id)
			controlDone <- err
		}(id)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-controlDone:
			if err != nil {
				t.Fatalf("control Arrive failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("control group not released while swap group was waiting")
		}
	}

	select {
	case <-swapDone:
		t.Fatal("swap group released by control arrivals")
	case <-time.After(20 * time.Millisecond):
	}

	control, _ := s.Group(GroupControl)
	swap, _ := s.Group(GroupSwap)
	if control.Generation() != 1 || swap.Generation() != 0 {
		t.Errorf("generations: control=%d swap=%d, want 1 and 0", control.Generation(), swap.Generation())
	}

	if _, err := s.Arrive(context.Background(), GroupSwap, "b"); err != nil {
		t.Fatalf("swap Arrive(b) failed: %v", err)
	}
	if err := <-swapDone; err != nil {
		t.Fatalf("swap Arrive(a) failed: %v", err)
	}
}

func TestSharedUnknownGroup(t *testing.T) {
	s := NewShared(1, GroupSwap)
	defer s.Close()

	if _, err := s.Arrive(context.Background(), "nope", "a"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("Expected ErrUnknownGroup, got %v", err)
	}
}

func TestSharedSetQuorumAndWithdraw(t *testing.T) {
	s := NewShared(3, GroupSwap, GroupControl)
	defer s.Close()

	if diff := cmp.Diff([]string{GroupControl, GroupSwap}, s.Groups()); diff != "" {
		t.Errorf("Groups() mismatch (-want +got):\n%s", diff)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Arrive(context.Background(), GroupSwap, "a")
		done <- err
	}()
	go s.Arrive(context.Background(), GroupSwap, "c")

	swap, _ := s.Group(GroupSwap)
	for swap.Waiting() < 2 {
		time.Sleep(time.Millisecond)
	}

	// "c" departs: its arrival is withdrawn and the quorum shrinks to {a, b}.
	s.Withdraw("c")
	s.SetQuorum(2)

	if got := swap.Waiting(); got != 1 {
		t.Fatalf("Expected 1 waiting after withdraw, got %d", got)
	}
	if _, err := s.ArriveTimeout(context.Background(), GroupSwap, "b", time.Second); err != nil {
		t.Fatalf("Arrive(b) failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Arrive(a) failed: %v", err)
	}

	added := s.Add("extra", 1)
	if again := s.Add("extra", 5); again != added {
		t.Error("Add replaced an existing group")
	}
}
