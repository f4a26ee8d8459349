package media

import (
	"context"
	"errors"
	"math"
	"testing"
)

func record(v *Virtual) (*[]EventType, func()) {
	var got []EventType
	unsub := v.Subscribe(func(ev Event) { got = append(got, ev.Type) })
	return &got, unsub
}

func TestVirtual_duration_unknown_until_load(t *testing.T) {
	v := NewVirtual(AllowAll)
	if !math.IsNaN(v.Duration()) {
		t.Fatalf("expected NaN duration, got %v", v.Duration())
	}
	got, _ := record(v)
	v.Load(Source{URL: "https://cdn.test/a.m3u8", Duration: 120})
	if v.Duration() != 120 {
		t.Errorf("duration = %v, want 120", v.Duration())
	}
	if len(*got) != 2 || (*got)[0] != EventLoadedMetadata || (*got)[1] != EventCanPlay {
		t.Errorf("unexpected events %v", *got)
	}
}

func TestVirtual_Play_without_source(t *testing.T) {
	v := NewVirtual(AllowAll)
	if err := v.Play(context.Background(), OriginUser); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestVirtual_Unload_empties(t *testing.T) {
	v := NewVirtual(AllowAll)
	v.Unload()
	got, _ := record(v)
	v.Load(Source{URL: "https://cdn.test/a.m3u8", Duration: 100})
	v.Play(context.Background(), OriginUser)
	v.Advance(90)
	*got = nil

	v.Unload()
	if len(*got) != 1 || (*got)[0] != EventEmptied {
		t.Errorf("expected a single emptied event, got %v", *got)
	}
	if v.Source() != "" || v.CurrentTime() != 0 || !math.IsNaN(v.Duration()) || !v.Paused() {
		t.Errorf("unload left state behind: src=%q time=%v duration=%v paused=%v",
			v.Source(), v.CurrentTime(), v.Duration(), v.Paused())
	}
	if err := v.Play(context.Background(), OriginUser); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource after unload, got %v", err)
	}

	v.Unload()
	if len(*got) != 1 {
		t.Errorf("unloading an empty element should emit nothing, got %v", *got)
	}
}

func TestVirtual_autoplay_policy(t *testing.T) {
	v := NewVirtual(BlockUnmuted)
	v.Load(Source{Duration: 10})

	if err := v.Play(context.Background(), OriginAutoplay); !errors.Is(err, ErrAutoplayBlocked) {
		t.Fatalf("unmuted autoplay should be blocked, got %v", err)
	}
	if !v.Paused() {
		t.Fatal("blocked play must leave element paused")
	}

	v.SetMuted(true)
	if err := v.Play(context.Background(), OriginAutoplay); err != nil {
		t.Fatalf("muted autoplay should be allowed, got %v", err)
	}

	b := NewVirtual(BlockAll)
	b.Load(Source{Duration: 10})
	b.SetMuted(true)
	if err := b.Play(context.Background(), OriginAutoplay); !errors.Is(err, ErrAutoplayBlocked) {
		t.Errorf("BlockAll should block muted autoplay, got %v", err)
	}
	if err := b.Play(context.Background(), OriginUser); err != nil {
		t.Errorf("user play should never be blocked, got %v", err)
	}
}

func TestVirtual_Seek_clamps(t *testing.T) {
	v := NewVirtual(AllowAll)
	v.Seek(5)
	if v.CurrentTime() != 0 {
		t.Errorf("seek before metadata should be ignored")
	}
	v.Load(Source{Duration: 120})
	v.Seek(500)
	if v.CurrentTime() != 120 {
		t.Errorf("seek past end = %v, want 120", v.CurrentTime())
	}
	v.Seek(-3)
	if v.CurrentTime() != 0 {
		t.Errorf("seek before start = %v, want 0", v.CurrentTime())
	}
}

func TestVirtual_Advance_to_end(t *testing.T) {
	v := NewVirtual(AllowAll)
	v.Load(Source{Duration: 2})
	_ = v.Play(context.Background(), OriginUser)
	got, _ := record(v)

	v.Advance(1.5)
	v.Advance(1.5)

	if !v.Paused() || v.CurrentTime() != 2 {
		t.Errorf("expected paused at 2, got paused=%v t=%v", v.Paused(), v.CurrentTime())
	}
	last := (*got)[len(*got)-1]
	if last != EventEnded {
		t.Errorf("last event = %v, want ended", last)
	}
}

func TestVirtual_Advance_stalled(t *testing.T) {
	v := NewVirtual(AllowAll)
	v.Load(Source{Duration: 10})
	_ = v.Play(context.Background(), OriginUser)
	v.SetWaiting(true)
	v.Advance(1)
	if v.CurrentTime() != 0 {
		t.Errorf("stalled element should not advance, t=%v", v.CurrentTime())
	}
}

func TestVirtual_volume_and_mute_independent(t *testing.T) {
	v := NewVirtual(AllowAll)
	v.SetVolume(0.4)
	v.SetMuted(true)
	if v.Volume() != 0.4 {
		t.Errorf("muting changed volume to %v", v.Volume())
	}
	v.SetVolume(2)
	if v.Volume() != 1 {
		t.Errorf("volume should clamp to 1, got %v", v.Volume())
	}
	if !v.Muted() {
		t.Error("SetVolume must not unmute")
	}
}

func TestVirtual_unsubscribe_idempotent(t *testing.T) {
	v := NewVirtual(AllowAll)
	unsub := v.Subscribe(func(Event) {})
	other := v.Subscribe(func(Event) {})
	unsub()
	unsub()
	if n := v.ListenerCount(); n != 1 {
		t.Errorf("listener count = %d, want 1", n)
	}
	other()
	if n := v.ListenerCount(); n != 0 {
		t.Errorf("listener count = %d, want 0", n)
	}
}

func TestSurface_fullscreen_policy(t *testing.T) {
	s := NewSurface(1280, 720, FullscreenDenied)
	if err := s.RequestFullscreen(); !errors.Is(err, ErrFullscreenDenied) {
		t.Errorf("expected ErrFullscreenDenied, got %v", err)
	}
	ok := NewSurface(1280, 720, FullscreenAllowed)
	if err := ok.RequestFullscreen(); err != nil || !ok.IsFullscreen() {
		t.Errorf("fullscreen request failed: %v", err)
	}
	_ = ok.ExitFullscreen()
	if ok.IsFullscreen() {
		t.Error("expected fullscreen exited")
	}
	if bar := ok.ProgressBar(); bar.Width != 1280 {
		t.Errorf("progress bar width = %v", bar.Width)
	}
}
