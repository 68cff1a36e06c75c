//go:build linux

package screencopy

import (
	"reflect"
	"testing"

	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/pkg/wayland"
)

func drain(q *eventQueue) []capture.Event {
	var out []capture.Event
	for {
		ev, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestListenerVersion3(t *testing.T) {
	var q eventQueue
	l := q.listener(7, 3)

	l.Buffer(wayland.ShmFormatXRGB8888, 1920, 1080, 7680)
	l.LinuxDmabuf(uint32(capture.FormatXBGR8888), 1920, 1080)
	l.BufferDone()
	l.Flags(1)
	l.Ready(0, 0)

	want := []capture.Event{
		{Kind: capture.EventOffer, Frame: 7, Offer: capture.Offer{
			Kind: capture.OfferShm, Format: capture.FormatXRGB8888, Width: 1920, Height: 1080, Stride: 7680}},
		{Kind: capture.EventOffer, Frame: 7, Offer: capture.Offer{
			Kind: capture.OfferDMABuf, Format: capture.FormatXBGR8888, Width: 1920, Height: 1080}},
		{Kind: capture.EventOffersDone, Frame: 7},
		{Kind: capture.EventFlags, Frame: 7, Flags: capture.FlagYInvert},
		{Kind: capture.EventReady, Frame: 7},
	}
	if got := drain(&q); !reflect.DeepEqual(got, want) {
		t.Errorf("events:\n got %+v\nwant %+v", got, want)
	}
}

func TestListenerLegacyClosesOffers(t *testing.T) {
	var q eventQueue
	l := q.listener(1, 1)

	l.Buffer(wayland.ShmFormatARGB8888, 4, 2, 16)
	l.Failed()

	got := drain(&q)
	kinds := make([]capture.EventKind, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind
	}
	want := []capture.EventKind{capture.EventOffer, capture.EventOffersDone, capture.EventFailed}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
	if got[0].Offer.Format != capture.FormatARGB8888 {
		t.Errorf("format = %s, want AR24", got[0].Offer.Format)
	}
}

func TestQueueKeepsFramesApart(t *testing.T) {
	var q eventQueue
	a, b := q.listener(1, 3), q.listener(2, 3)
	a.Failed()
	b.Ready(0, 0)

	got := drain(&q)
	if len(got) != 2 || got[0].Frame != 1 || got[1].Frame != 2 {
		t.Errorf("events = %+v", got)
	}
}

func TestShmAllocator(t *testing.T) {
	offer := capture.Offer{Kind: capture.OfferShm, Format: capture.FormatXRGB8888, Width: 10, Height: 3, Stride: 48}
	buf, err := ShmAllocator{}.Allocate(offer)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	defer buf.Release()

	info := buf.Info()
	if info.Kind != capture.OfferShm || info.Size != 144 || info.Stride != 48 || info.FD < 0 {
		t.Errorf("Info() = %+v", info)
	}
	data, err := buf.Map()
	if err != nil {
		t.Fatalf("Map() error: %v", err)
	}
	if len(data) != 144 {
		t.Errorf("len(Map()) = %d, want 144", len(data))
	}
}

func TestShmAllocatorRejects(t *testing.T) {
	tests := []struct {
		name  string
		offer capture.Offer
	}{
		{"dmabuf offer", capture.Offer{Kind: capture.OfferDMABuf, Width: 4, Height: 4}},
		{"short stride", capture.Offer{Kind: capture.OfferShm, Width: 4, Height: 4, Stride: 8}},
		{"empty", capture.Offer{Kind: capture.OfferShm}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if buf, err := (ShmAllocator{}).Allocate(tt.offer); err == nil {
				buf.Release()
				t.Error("Allocate() succeeded")
			}
		})
	}
}

func TestDmabufAllocator(t *testing.T) {
	a, err := NewDmabufAllocator("")
	if err != nil {
		t.Skipf("udmabuf unavailable: %v", err)
	}
	defer a.Close()

	buf, err := a.Allocate(capture.Offer{Kind: capture.OfferDMABuf, Format: capture.FormatXRGB8888, Width: 100, Height: 10})
	if err != nil {
		t.Skipf("UDMABUF_CREATE unavailable: %v", err)
	}
	defer buf.Release()

	info := buf.Info()
	if info.Stride != 512 {
		t.Errorf("stride = %d, want 512", info.Stride)
	}
	if info.Modifier != wayland.ModifierLinear {
		t.Errorf("modifier = %#x, want linear", info.Modifier)
	}
}
