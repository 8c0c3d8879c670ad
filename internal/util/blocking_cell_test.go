package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBlockingCellBasic tests basic set/get
func TestBlockingCellBasic(t *testing.T) {
	cell := NewBlockingCell()

	if err := cell.Set(42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value := cell.Get()
	if value != 42 {
		t.Errorf("Get: got %v, want 42", value)
	}
}

// TestBlockingCellBlocking tests that Get blocks until Set
func TestBlockingCellBlocking(t *testing.T) {
	cell := NewBlockingCell()

	done := make(chan struct{})
	var value interface{}

	go func() {
		value = cell.Get()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	if err := cell.Set("test"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Set")
	}

	if value != "test" {
		t.Errorf("Value: got %v, want test", value)
	}
}

// TestBlockingCellTimeout tests timeout behavior
func TestBlockingCellTimeout(t *testing.T) {
	cell := NewBlockingCell()

	value, err := cell.GetWithTimeout(100 * time.Millisecond)
	if err == nil {
		t.Error("Should have timed out")
	}
	if value != nil {
		t.Errorf("Value should be nil on timeout, got %v", value)
	}
}

// TestBlockingCellTimeoutSuccess tests get with timeout succeeds
func TestBlockingCellTimeoutSuccess(t *testing.T) {
	cell := NewBlockingCell()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cell.Set("success")
	}()

	value, err := cell.GetWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "success" {
		t.Errorf("Value: got %v, want success", value)
	}
}

// TestBlockingCellContext tests context cancellation
func TestBlockingCellContext(t *testing.T) {
	cell := NewBlockingCell()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	value, err := cell.GetWithContext(ctx)
	if err == nil {
		t.Error("Should have been cancelled")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Error type: got %v, want context.DeadlineExceeded", err)
	}
	if value != nil {
		t.Errorf("Value should be nil on cancellation, got %v", value)
	}
}

// TestBlockingCellDoubleSet tests that setting twice fails
func TestBlockingCellDoubleSet(t *testing.T) {
	cell := NewBlockingCell()

	if err := cell.Set("first"); err != nil {
		t.Fatalf("First Set failed: %v", err)
	}

	if err := cell.Set("second"); err == nil {
		t.Error("Second Set should have failed")
	}
}

// TestBlockingCellMultipleGetters tests multiple goroutines getting
func TestBlockingCellMultipleGetters(t *testing.T) {
	cell := NewBlockingCell()

	numGetters := 5
	results := make(chan interface{}, numGetters)

	for i := 0; i < numGetters; i++ {
		go func() {
			results <- cell.Get()
		}()
	}

	time.Sleep(100 * time.Millisecond)
	cell.Set("shared")

	select {
	case value := <-results:
		if value != "shared" {
			t.Errorf("Value: got %v, want shared", value)
		}
	case <-time.After(time.Second):
		t.Fatal("No getter received value")
	}
}

// TestBlockingCellWithError tests storing error values
func TestBlockingCellWithError(t *testing.T) {
	cell := NewBlockingCell()

	expectedErr := errors.New("test error")

	if err := cell.Set(expectedErr); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value := cell.Get()
	err, ok := value.(error)
	if !ok {
		t.Fatalf("Value is not an error: %T", value)
	}
	if err.Error() != expectedErr.Error() {
		t.Errorf("Error: got %v, want %v", err, expectedErr)
	}
}

// BenchmarkBlockingCell benchmarks set and get operations
func BenchmarkBlockingCell(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cell := NewBlockingCell()
			go func() {
				cell.Set(42)
			}()
			value := cell.Get()
			if value != 42 {
				b.Errorf("Got %v, want 42", value)
			}
		}
	})
}
