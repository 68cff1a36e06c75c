//go:build linux

package screencopy

import (
	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/pkg/wayland"
)

// bufferDoneVersion is the first zwlr_screencopy_manager_v1 version that
// sends linux_dmabuf and buffer_done.
const bufferDoneVersion = 3

// eventQueue collects translated frame events until Dispatch hands them
// to the session.
type eventQueue struct {
	pending []capture.Event
}

func (q *eventQueue) push(ev capture.Event) {
	q.pending = append(q.pending, ev)
}

func (q *eventQueue) pop() (capture.Event, bool) {
	if len(q.pending) == 0 {
		return capture.Event{}, false
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return ev, true
}

// listener translates screencopy events for frame id. Managers older than
// version 3 offer a single shm buffer and never send buffer_done, so the
// offer list is closed right after it.
func (q *eventQueue) listener(id uint64, version uint32) wayland.FrameListener {
	legacy := version < bufferDoneVersion
	return wayland.FrameListener{
		Buffer: func(format, width, height, stride uint32) {
			q.push(capture.Event{Kind: capture.EventOffer, Frame: id, Offer: capture.Offer{
				Kind:   capture.OfferShm,
				Format: capture.PixelFormat(wayland.ShmFormatFourcc(format)),
				Width:  width,
				Height: height,
				Stride: stride,
			}})
			if legacy {
				q.push(capture.Event{Kind: capture.EventOffersDone, Frame: id})
			}
		},
		LinuxDmabuf: func(format, width, height uint32) {
			q.push(capture.Event{Kind: capture.EventOffer, Frame: id, Offer: capture.Offer{
				Kind:   capture.OfferDMABuf,
				Format: capture.PixelFormat(format),
				Width:  width,
				Height: height,
			}})
		},
		BufferDone: func() {
			q.push(capture.Event{Kind: capture.EventOffersDone, Frame: id})
		},
		Flags: func(flags uint32) {
			q.push(capture.Event{Kind: capture.EventFlags, Frame: id, Flags: capture.Flags(flags)})
		},
		Ready: func(uint64, uint32) {
			q.push(capture.Event{Kind: capture.EventReady, Frame: id})
		},
		Failed: func() {
			q.push(capture.Event{Kind: capture.EventFailed, Frame: id})
		},
	}
}
