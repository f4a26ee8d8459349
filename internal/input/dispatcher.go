// Package input routes keyboard and pointer events from a host surface to the
// components mounted on it. Every listener is scoped to the subscription that
// registered it; there is no process-wide handler.
package input

import (
	"sync"
)

// KeyEvent is a key press. Key uses DOM key names ("PrintScreen", "c", " ",
// "ArrowLeft").
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool

	prevented *bool
}

// NewKeyEvent returns a key event whose PreventDefault is observable.
func NewKeyEvent(key string, ctrl, meta, shift bool) KeyEvent {
	p := false
	return KeyEvent{Key: key, Ctrl: ctrl, Meta: meta, Shift: shift, prevented: &p}
}

// PreventDefault marks the event as handled so the host skips its default action.
func (e KeyEvent) PreventDefault() {
	if e.prevented != nil {
		*e.prevented = true
	}
}

func (e KeyEvent) DefaultPrevented() bool {
	return e.prevented != nil && *e.prevented
}

// PointerEvent is a pointer position in surface pixels.
type PointerEvent struct {
	X, Y float64
}

// Subscription removes a listener. Remove may be called any number of times.
type Subscription struct {
	once   sync.Once
	remove func()
}

func (s *Subscription) Remove() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

// Dispatcher fans events out to listeners in registration order.
type Dispatcher struct {
	mu      sync.Mutex
	nextID  int
	keys    map[int]func(KeyEvent)
	pointer map[int]func(PointerEvent)
	order   []int
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		keys:    make(map[int]func(KeyEvent)),
		pointer: make(map[int]func(PointerEvent)),
	}
}

// OnKey registers fn for key events.
func (d *Dispatcher) OnKey(fn func(KeyEvent)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.add()
	d.keys[id] = fn
	return &Subscription{remove: func() { d.drop(id) }}
}

// OnPointerMove registers fn for pointer moves.
func (d *Dispatcher) OnPointerMove(fn func(PointerEvent)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.add()
	d.pointer[id] = fn
	return &Subscription{remove: func() { d.drop(id) }}
}

// add must be called with d.mu held.
func (d *Dispatcher) add() int {
	d.nextID++
	d.order = append(d.order, d.nextID)
	return d.nextID
}

func (d *Dispatcher) drop(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, id)
	delete(d.pointer, id)
	for i, o := range d.order {
		if o == id {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

// DispatchKey delivers ev to every key listener and reports whether any of
// them prevented the default action.
func (d *Dispatcher) DispatchKey(ev KeyEvent) bool {
	if ev.prevented == nil {
		p := false
		ev.prevented = &p
	}
	d.mu.Lock()
	var fns []func(KeyEvent)
	for _, id := range d.order {
		if fn, ok := d.keys[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return ev.DefaultPrevented()
}

// DispatchPointerMove delivers ev to every pointer listener.
func (d *Dispatcher) DispatchPointerMove(ev PointerEvent) {
	d.mu.Lock()
	var fns []func(PointerEvent)
	for _, id := range d.order {
		if fn, ok := d.pointer[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// KeyListeners reports the number of registered key listeners.
func (d *Dispatcher) KeyListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// PointerListeners reports the number of registered pointer listeners.
func (d *Dispatcher) PointerListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pointer)
}
