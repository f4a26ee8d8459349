package playback

import (
	"context"
	"math"
	"testing"

	"hls-player/internal/input"
	"hls-player/internal/media"
)

func loadedElement(duration float64) *media.Virtual {
	el := media.NewVirtual(media.AllowAll)
	el.Load(media.Source{URL: "https://cdn.test/a.m3u8", Duration: duration})
	return el
}

func TestController_isPlaying_is_event_sourced(t *testing.T) {
	el := media.NewVirtual(media.AllowAll)
	c := New(el, nil)
	defer c.Destroy()

	// No source: play is rejected, so the controller never claims to be playing.
	c.TogglePlay(context.Background())
	if c.State().IsPlaying {
		t.Fatal("isPlaying set without a play event")
	}

	el.Load(media.Source{Duration: 120})
	c.TogglePlay(context.Background())
	if !c.State().IsPlaying {
		t.Fatal("expected playing after confirmed play")
	}
	c.TogglePlay(context.Background())
	if c.State().IsPlaying {
		t.Fatal("expected paused after second toggle")
	}
}

func TestController_seek_half_of_120(t *testing.T) {
	el := loadedElement(120)
	c := New(el, nil)
	defer c.Destroy()

	bar := media.Rect{X: 100, Width: 800, Height: 8}
	c.Seek(input.PointerEvent{X: 500}, bar)

	if got := c.State().CurrentTime; math.Abs(got-60) > 1e-9 {
		t.Errorf("currentTime = %v, want 60", got)
	}
}

func TestController_seek_clamps_outside_bar(t *testing.T) {
	el := loadedElement(120)
	c := New(el, nil)
	defer c.Destroy()

	bar := media.Rect{X: 0, Width: 400}
	c.Seek(input.PointerEvent{X: 900}, bar)
	if got := c.State().CurrentTime; got != 120 {
		t.Errorf("currentTime = %v, want 120", got)
	}
	c.Seek(input.PointerEvent{X: -50}, bar)
	if got := c.State().CurrentTime; got != 0 {
		t.Errorf("currentTime = %v, want 0", got)
	}
}

func TestController_seek_unknown_duration_noop(t *testing.T) {
	el := media.NewVirtual(media.AllowAll)
	c := New(el, nil)
	defer c.Destroy()

	c.SeekFraction(0.5)
	if c.State().CurrentTime != 0 {
		t.Error("seek before metadata must be a no-op")
	}

	live := loadedElement(math.Inf(1))
	lc := New(live, nil)
	defer lc.Destroy()
	lc.SeekFraction(0.5)
	lc.SeekBy(10)
	if lc.State().CurrentTime != 0 {
		t.Error("seek on infinite duration must be a no-op")
	}
}

func TestController_SetVolume_zero_mutes(t *testing.T) {
	el := loadedElement(10)
	c := New(el, nil)
	defer c.Destroy()

	c.SetVolume(0)
	st := c.State()
	if !st.IsMuted || !el.Muted() {
		t.Errorf("SetVolume(0) should mute: state=%v element=%v", st.IsMuted, el.Muted())
	}
	if st.Volume != 0 {
		t.Errorf("volume = %v, want 0", st.Volume)
	}
}

func TestController_SetVolume_positive_does_not_unmute(t *testing.T) {
	el := loadedElement(10)
	c := New(el, nil)
	defer c.Destroy()

	c.SetVolume(0)
	c.SetVolume(0.6)
	st := c.State()
	if !st.IsMuted {
		t.Error("positive volume must not clear mute")
	}
	if st.Volume != 0.6 {
		t.Errorf("volume = %v, want 0.6", st.Volume)
	}

	c.ToggleMute()
	st = c.State()
	if st.IsMuted {
		t.Error("ToggleMute should unmute")
	}
	if st.Volume != 0.6 {
		t.Errorf("ToggleMute changed volume to %v", st.Volume)
	}
}

func TestController_SetVolume_clamps(t *testing.T) {
	el := loadedElement(10)
	c := New(el, nil)
	defer c.Destroy()

	c.SetVolume(3)
	if got := c.State().Volume; got != 1 {
		t.Errorf("volume = %v, want 1", got)
	}
	c.SetVolume(-1)
	if !c.State().IsMuted {
		t.Error("negative volume clamps to 0 and mutes")
	}
}

func TestController_ToggleMute_keeps_volume(t *testing.T) {
	el := loadedElement(10)
	c := New(el, nil)
	defer c.Destroy()

	c.SetVolume(0.3)
	c.ToggleMute()
	if st := c.State(); !st.IsMuted || st.Volume != 0.3 {
		t.Errorf("after mute: %+v", st)
	}
}

func TestController_fullscreen_on_container(t *testing.T) {
	el := loadedElement(10)
	surface := media.NewSurface(1280, 720, media.FullscreenAllowed)
	c := New(el, surface)
	defer c.Destroy()

	c.ToggleFullscreen()
	if !surface.IsFullscreen() {
		t.Fatal("expected container fullscreen")
	}
	c.ToggleFullscreen()
	if surface.IsFullscreen() {
		t.Fatal("expected fullscreen exited")
	}

	denied := New(el, media.NewSurface(1280, 720, media.FullscreenDenied))
	defer denied.Destroy()
	denied.ToggleFullscreen() // logged, not panicking
}

func TestController_ended_hook_and_observer(t *testing.T) {
	el := loadedElement(2)
	ended := 0
	var states []State
	c := New(el, nil, WithOnEnded(func() { ended++ }), WithObserver(func(st State) { states = append(states, st) }))
	defer c.Destroy()

	c.TogglePlay(context.Background())
	el.Advance(5)

	if ended != 1 {
		t.Errorf("onEnded called %d times, want 1", ended)
	}
	last := states[len(states)-1]
	if !last.Ended || last.IsPlaying || last.CurrentTime != 2 {
		t.Errorf("unexpected final state %+v", last)
	}
}

func TestController_emptied_resets_position(t *testing.T) {
	el := loadedElement(100)
	c := New(el, nil)
	defer c.Destroy()

	c.TogglePlay(context.Background())
	el.Advance(90)
	el.Unload()

	st := c.State()
	if st.IsPlaying || st.Ended || st.CurrentTime != 0 || !math.IsNaN(st.Duration) {
		t.Errorf("state after emptied = %+v", st)
	}
	c.TogglePlay(context.Background())
	if c.State().IsPlaying {
		t.Error("an emptied element must not resume")
	}
}

func TestController_Destroy_idempotent(t *testing.T) {
	el := loadedElement(10)
	c := New(el, nil)
	if el.ListenerCount() != 1 {
		t.Fatalf("listeners = %d, want 1", el.ListenerCount())
	}
	c.Destroy()
	c.Destroy()
	if el.ListenerCount() != 0 {
		t.Errorf("listeners = %d after destroy", el.ListenerCount())
	}

	// Commands after destroy are no-ops.
	c.TogglePlay(context.Background())
	if !el.Paused() {
		t.Error("destroyed controller started playback")
	}
}

func TestController_nil_element(t *testing.T) {
	c := New(nil, nil)
	c.TogglePlay(context.Background())
	c.SetVolume(0.5)
	c.ToggleMute()
	c.ToggleFullscreen()
	c.SeekFraction(0.5)
	c.Destroy()
	if !math.IsNaN(c.State().Duration) {
		t.Error("nil element should report unknown duration")
	}
}
