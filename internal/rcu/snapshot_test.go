package rcu

import (
	"sync"
	"testing"
)

type channelSet struct {
	IDs map[string]struct{}
}

func withID(old *channelSet, id string) *channelSet {
	next := &channelSet{IDs: make(map[string]struct{}, len(old.IDs)+1)}
	for k := range old.IDs {
		next.IDs[k] = struct{}{}
	}
	next.IDs[id] = struct{}{}
	return next
}

func TestLoadReplace(t *testing.T) {
	snap := NewSnapshot(&channelSet{IDs: map[string]struct{}{"a": {}}})

	if _, ok := snap.Load().IDs["a"]; !ok {
		t.Fatalf("initial value missing")
	}

	snap.Replace(&channelSet{IDs: map[string]struct{}{"b": {}}})
	cur := snap.Load()
	if _, ok := cur.IDs["a"]; ok {
		t.Fatalf("replaced value still visible")
	}
	if _, ok := cur.IDs["b"]; !ok {
		t.Fatalf("new value missing")
	}
}

func TestReadersKeepTheirSnapshot(t *testing.T) {
	snap := NewSnapshot(&channelSet{IDs: map[string]struct{}{}})
	held := snap.Load()

	snap.Update(func(old *channelSet) *channelSet { return withID(old, "x") })

	if len(held.IDs) != 0 {
		t.Fatalf("held snapshot was mutated: %v", held.IDs)
	}
	if _, ok := snap.Load().IDs["x"]; !ok {
		t.Fatalf("update not published")
	}
}

// 并发 Update 不能丢失写入
func TestConcurrentUpdate(t *testing.T) {
	snap := NewSnapshot(&channelSet{IDs: map[string]struct{}{}})

	var wg sync.WaitGroup
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			snap.Update(func(old *channelSet) *channelSet { return withID(old, id) })
		}(id)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = len(snap.Load().IDs)
		}()
	}
	wg.Wait()

	if got := len(snap.Load().IDs); got != len(ids) {
		t.Fatalf("expected %d ids after concurrent updates, got %d", len(ids), got)
	}
}

func BenchmarkLoad(b *testing.B) {
	snap := NewSnapshot(&channelSet{IDs: map[string]struct{}{"a": {}}})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = snap.Load().IDs["a"]
		}
	})
}
