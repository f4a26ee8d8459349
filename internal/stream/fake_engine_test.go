package stream

import (
	"sync"

	"hls-player/internal/media"
)

// fakeEngine records calls and lets tests inject events synchronously.
type fakeEngine struct {
	mu          sync.Mutex
	subs        map[int]func(EngineEvent)
	nextID      int
	attached    media.Element
	loaded      []string
	startLoads  int
	recoveries  int
	levels      []int
	destroys    int
	unsubscribe int
	// echoLevels makes SetLevel confirm immediately with LevelSwitched.
	echoLevels bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{subs: make(map[int]func(EngineEvent))}
}

func (f *fakeEngine) Attach(el media.Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = el
}

func (f *fakeEngine) Load(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, url)
}

func (f *fakeEngine) StartLoad() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startLoads++
}

func (f *fakeEngine) RecoverMediaError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries++
}

func (f *fakeEngine) SetLevel(index int) {
	f.mu.Lock()
	f.levels = append(f.levels, index)
	echo := f.echoLevels
	f.mu.Unlock()
	if !echo {
		return
	}
	if index == AutoLevel {
		f.emit(EngineEvent{Type: EventLevelSwitched, Level: 0, Auto: true})
		return
	}
	f.emit(EngineEvent{Type: EventLevelSwitched, Level: index})
}

func (f *fakeEngine) Subscribe(fn func(EngineEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			f.unsubscribe++
		}
	}
}

func (f *fakeEngine) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
}

func (f *fakeEngine) emit(ev EngineEvent) {
	f.mu.Lock()
	fns := make([]func(EngineEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeEngine) networkError() {
	f.emit(EngineEvent{Type: EventError, Error: &EngineError{Kind: KindNetwork, Fatal: true, Details: "manifestLoadError"}})
}

func (f *fakeEngine) counts() (startLoads, recoveries, destroys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startLoads, f.recoveries, f.destroys
}

func (f *fakeEngine) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

var threeLevels = []Level{
	{Height: 360, Bitrate: 800_000},
	{Height: 720, Bitrate: 2_500_000},
	{Height: 1080, Bitrate: 5_000_000},
}
