package cache

import (
	"testing"
	"time"
)

func TestKey_Deterministic(t *testing.T) {
	args := map[string]interface{}{"scene_id": "sc1", "role": "witness", "limit": 5}

	first := Key("participants_by_role_for_scene", args)
	for i := 0; i < 20; i++ {
		if got := Key("participants_by_role_for_scene", args); got != first {
			t.Fatalf("key not deterministic: %q vs %q", got, first)
		}
	}
}

func TestKey_DistinguishesMethodAndArgs(t *testing.T) {
	a := Key("entities_in_scene", map[string]interface{}{"scene_id": "sc1"})
	b := Key("entities_in_scene", map[string]interface{}{"scene_id": "sc2"})
	c := Key("facts_for_scene", map[string]interface{}{"scene_id": "sc1"})

	if a == b {
		t.Error("different args produced the same key")
	}
	if a == c {
		t.Error("different methods produced the same key")
	}
}

func TestKey_NilArgs(t *testing.T) {
	if got := Key("list_multiverses", nil); got == "" {
		t.Error("expected non-empty key for nil args")
	}
}

func TestRistrettoCache_SetGetClear(t *testing.T) {
	c, err := NewRistrettoCache(time.Minute)
	if err != nil {
		t.Fatalf("NewRistrettoCache failed: %v", err)
	}
	defer c.Close()

	key := Key("entities_in_scene", map[string]interface{}{"scene_id": "sc1"})
	c.Set(key, []string{"e1", "e2"})
	c.Wait()

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if v, _ := got.([]string); len(v) != 2 {
		t.Errorf("unexpected cached value: %v", got)
	}

	if _, ok := c.Get("no-such-key"); ok {
		t.Error("expected miss for unknown key")
	}

	c.Clear()
	if _, ok := c.Get(key); ok {
		t.Error("expected miss after clear")
	}
}

func TestRistrettoCache_Expiry(t *testing.T) {
	c, err := NewRistrettoCache(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewRistrettoCache failed: %v", err)
	}
	defer c.Close()

	c.Set("k", "v")
	c.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("k"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("entry never expired")
}

func TestNoop(t *testing.T) {
	var c ReadCache = Noop{}

	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("noop cache must never hit")
	}
	c.Clear()
}
