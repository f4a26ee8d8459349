package input

import "testing"

func TestDispatcher_order_and_prevent(t *testing.T) {
	d := NewDispatcher()
	var seen []string
	d.OnKey(func(ev KeyEvent) { seen = append(seen, "a:"+ev.Key) })
	d.OnKey(func(ev KeyEvent) {
		seen = append(seen, "b:"+ev.Key)
		ev.PreventDefault()
	})

	prevented := d.DispatchKey(KeyEvent{Key: "PrintScreen"})
	if !prevented {
		t.Error("expected default prevented")
	}
	if len(seen) != 2 || seen[0] != "a:PrintScreen" || seen[1] != "b:PrintScreen" {
		t.Errorf("unexpected delivery order %v", seen)
	}
}

func TestDispatcher_remove_idempotent(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	sub := d.OnKey(func(KeyEvent) { calls++ })
	psub := d.OnPointerMove(func(PointerEvent) {})

	sub.Remove()
	sub.Remove()
	psub.Remove()

	d.DispatchKey(NewKeyEvent("c", true, false, false))
	if calls != 0 {
		t.Errorf("removed listener still called %d times", calls)
	}
	if d.KeyListeners() != 0 || d.PointerListeners() != 0 {
		t.Errorf("listeners leaked: keys=%d pointer=%d", d.KeyListeners(), d.PointerListeners())
	}

	var nilSub *Subscription
	nilSub.Remove()
}

func TestDispatcher_pointer(t *testing.T) {
	d := NewDispatcher()
	var got PointerEvent
	d.OnPointerMove(func(ev PointerEvent) { got = ev })
	d.DispatchPointerMove(PointerEvent{X: 10, Y: 20})
	if got.X != 10 || got.Y != 20 {
		t.Errorf("got %+v", got)
	}
}

func TestKeyEvent_zero_value_prevent(t *testing.T) {
	var ev KeyEvent
	ev.PreventDefault()
	if ev.DefaultPrevented() {
		t.Error("zero-value event has nowhere to record prevention")
	}
}
