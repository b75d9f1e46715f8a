package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStorePutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.Put(ctx, "ns-k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "ns-k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %s", got)
	}
}

func TestMemStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreDeletePrefixIsolation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Put(ctx, "ns1-a", []byte("1"))
	_ = s.Put(ctx, "ns1-b", []byte("2"))
	_ = s.Put(ctx, "ns2-a", []byte("3"))

	if err := s.DeletePrefix(ctx, "ns1-"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}

	entries, err := s.ScanPrefix(ctx, "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, ok := entries["ns1-a"]; ok {
		t.Fatal("expected ns1-a deleted")
	}
	if _, ok := entries["ns2-a"]; !ok {
		t.Fatal("expected ns2-a to survive, namespace isolation violated")
	}
}

func TestMemStoreScanPrefixSorted(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Put(ctx, "p-b", []byte("2"))
	_ = s.Put(ctx, "p-a", []byte("1"))

	entries, err := s.ScanPrefix(ctx, "p-")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestMemStoreGetWaitUnblocksOnPut(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	done := make(chan []byte, 1)

	go func() {
		v, err := s.GetWait(ctx, "late", time.Second)
		if err != nil {
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Put(ctx, "late", []byte("arrived")); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case v := <-done:
		if string(v) != "arrived" {
			t.Fatalf("expected arrived, got %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("GetWait never unblocked")
	}
}

func TestMemStoreGetWaitTimesOut(t *testing.T) {
	s := NewMemStore()
	_, err := s.GetWait(context.Background(), "never", 20*time.Millisecond)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on timeout, got %v", err)
	}
}
