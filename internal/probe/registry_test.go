package probe

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_GetSetDelete(t *testing.T) {
	store := NewInMemoryStore()

	if _, ok := store.GetProbe("p1"); ok {
		t.Error("expected not found for empty store")
	}

	p := &Probe{ID: "p1"}
	store.SetProbe(p)
	got, ok := store.GetProbe("p1")
	if !ok || got != p {
		t.Errorf("GetProbe: ok=%v, got %p want %p", ok, got, p)
	}

	store.DeleteProbe("p1")
	if ids := store.ListProbeIDs(); len(ids) != 0 {
		t.Errorf("expected empty store after delete, got %v", ids)
	}
}

func TestRegistry_Add_duplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add(&Probe{ID: "p1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(&Probe{ID: "p1"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestRegistry_Get_Remove(t *testing.T) {
	reg := NewRegistry()
	p := &Probe{ID: "p1"}
	reg.Add(p)

	got, err := reg.Get("p1")
	if err != nil || got != p {
		t.Fatalf("Get: %v %p", err, got)
	}
	if _, err := reg.Remove("p1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
	if _, err := reg.Remove("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_List_ordered_by_creation(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.Add(&Probe{ID: "c", CreatedAt: base.Add(2 * time.Second)})
	reg.Add(&Probe{ID: "a", CreatedAt: base})
	reg.Add(&Probe{ID: "b", CreatedAt: base})

	var got []ID
	for _, p := range reg.List() {
		got = append(got, p.ID)
	}
	want := []ID{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List order = %v, want %v", got, want)
		}
	}
	if reg.Count() != 3 {
		t.Errorf("Count = %d, want 3", reg.Count())
	}
}

func TestRegistry_concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ID(time.Duration(i).String())
			reg.Add(&Probe{ID: id})
			reg.Get(id)
			reg.List()
		}(i)
	}
	wg.Wait()
	if reg.Count() != 50 {
		t.Errorf("Count = %d, want 50", reg.Count())
	}
}
