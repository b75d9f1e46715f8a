package cache

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(0)
	c.Put("k1", []byte("v1"))
	v, ok := c.Get("k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("got %q, %v", v, ok)
	}
}

func TestGetMiss(t *testing.T) {
	c := New(0)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
}

func TestGetWaitUnblocksOnPut(t *testing.T) {
	c := New(0)
	done := make(chan []byte, 1)
	go func() {
		v, _ := c.GetWait("late", time.Second)
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	c.Put("late", []byte("arrived"))

	select {
	case v := <-done:
		if string(v) != "arrived" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("GetWait did not unblock")
	}
}

func TestGetWaitTimesOut(t *testing.T) {
	c := New(0)
	_, ok := c.GetWait("never", 10*time.Millisecond)
	if ok {
		t.Fatal("expected timeout miss")
	}
}

func TestClearPrefix(t *testing.T) {
	c := New(0)
	c.Put("ns-a", []byte("1"))
	c.Put("ns-b", []byte("2"))
	c.Put("other", []byte("3"))
	c.ClearPrefix("ns-")
	if _, ok := c.Get("ns-a"); ok {
		t.Fatal("ns-a should be evicted")
	}
	if _, ok := c.Get("ns-b"); ok {
		t.Fatal("ns-b should be evicted")
	}
	if _, ok := c.Get("other"); !ok {
		t.Fatal("other should survive")
	}
}

func TestLRUEvictionByBytes(t *testing.T) {
	c := New(10)
	c.Put("a", []byte("12345")) // 5 bytes
	c.Put("b", []byte("67890")) // 5 bytes, total 10
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should still be present")
	}
	// touching a makes it MRU; inserting c should evict b (now LRU).
	c.Put("c", []byte("abcde"))
	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted as LRU")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should survive (was touched)")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("c should be present")
	}
}
