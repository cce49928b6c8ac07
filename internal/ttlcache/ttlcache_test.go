package ttlcache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute, 0)
	c.Set("k", 42)

	v, ok := c.Get("k")
	if !ok || v.(int) != 42 {
		t.Errorf("Get = %v, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get found a missing key")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New(20*time.Millisecond, 0)
	c.Set("k", 1)
	time.Sleep(40 * time.Millisecond)
	if c.Has("k") {
		t.Error("entry survived its TTL")
	}
}

func TestCache_MarkOnce(t *testing.T) {
	c := New(time.Minute, 0)
	if c.MarkOnce("evt") {
		t.Error("first mark reported as repeat")
	}
	if !c.MarkOnce("evt") {
		t.Error("second mark not reported as repeat")
	}
	if c.MarkOnce("other") {
		t.Error("distinct key reported as repeat")
	}
}

func TestCache_MaxKeys(t *testing.T) {
	c := New(time.Minute, 3)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Set("overflow", 99)
	if c.Has("overflow") {
		t.Error("cap exceeded: overflow key accepted")
	}
	// Existing keys may still be refreshed at the cap.
	c.Set("k0", 100)
	if v, ok := c.Get("k0"); !ok || v.(int) != 100 {
		t.Errorf("refresh at cap failed: %v, %v", v, ok)
	}
}

func TestCache_DeleteAndFlush(t *testing.T) {
	c := New(time.Minute, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if c.Has("a") {
		t.Error("deleted key present")
	}
	c.Flush()
	if c.Len() != 0 {
		t.Errorf("Len after flush = %d", c.Len())
	}
}
