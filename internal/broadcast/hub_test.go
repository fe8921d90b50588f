package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"racesync/internal/model"
)

func entry(id int64) model.JournalEntry {
	return model.JournalEntry{ID: id, Source: model.SourceTiming, DataType: model.DataRunUpdated, Change: model.RunChange{RunID: id}}
}

func receive(t *testing.T, l *Listener) model.JournalEntry {
	t.Helper()
	select {
	case e, ok := <-l.C():
		if !ok {
			t.Fatalf("listener %d closed", l.ID())
		}
		return e
	case <-time.After(time.Second):
		t.Fatalf("listener %d got nothing", l.ID())
	}
	return model.JournalEntry{}
}

func TestPublishOrderAndIsolation(t *testing.T) {
	log := zerolog.Nop()
	h := NewHub(8, &log)
	a := h.Subscribe(1)
	b := h.Subscribe(1)
	other := h.Subscribe(2)
	defer a.Close()
	defer b.Close()
	defer other.Close()

	for id := int64(1); id <= 3; id++ {
		h.Publish(1, entry(id))
	}
	for _, l := range []*Listener{a, b} {
		for want := int64(1); want <= 3; want++ {
			if got := receive(t, l); got.ID != want {
				t.Errorf("listener %d got %d, want %d", l.ID(), got.ID, want)
			}
		}
	}
	select {
	case e := <-other.C():
		t.Errorf("event 2 listener got %+v", e)
	default:
	}
}

func TestNoReplay(t *testing.T) {
	log := zerolog.Nop()
	h := NewHub(8, &log)
	h.Publish(1, entry(1))
	l := h.Subscribe(1)
	defer l.Close()
	h.Publish(1, entry(2))
	if got := receive(t, l); got.ID != 2 {
		t.Errorf("got %d, want 2", got.ID)
	}
}

func TestClosedListenerDoesNotBlockOthers(t *testing.T) {
	log := zerolog.Nop()
	h := NewHub(8, &log)
	gone := h.Subscribe(1)
	live := h.Subscribe(1)
	defer live.Close()

	h.Publish(1, entry(1))
	gone.Close()
	gone.Close()
	h.Publish(1, entry(2))

	if receive(t, live).ID != 1 || receive(t, live).ID != 2 {
		t.Error("live listener missed entries")
	}
	if h.Subscribers(1) != 1 {
		t.Errorf("subscribers = %d", h.Subscribers(1))
	}
	if gone.Err() != nil {
		t.Errorf("closed listener err = %v", gone.Err())
	}
}

func TestSlowListenerDropped(t *testing.T) {
	log := zerolog.Nop()
	h := NewHub(2, &log)
	slow := h.Subscribe(1)
	fast := h.Subscribe(1)
	defer fast.Close()

	var wg sync.WaitGroup
	var got []int64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.C() {
			got = append(got, e.ID)
			if len(got) == 5 {
				return
			}
		}
	}()
	for id := int64(1); id <= 5; id++ {
		h.Publish(1, entry(id))
		if id >= 2 {
			// let the fast reader drain so only slow overflows
			time.Sleep(10 * time.Millisecond)
		}
	}
	wg.Wait()

	if len(got) != 5 {
		t.Errorf("fast listener got %v", got)
	}
	n := 0
	for range slow.C() {
		n++
	}
	if n != 2 {
		t.Errorf("slow listener buffered %d entries before drop", n)
	}
	var terr *model.TransportError
	if !errors.As(slow.Err(), &terr) || terr.EventID != 1 {
		t.Errorf("slow listener err = %v", slow.Err())
	}
	if h.Subscribers(1) != 1 {
		t.Errorf("subscribers = %d", h.Subscribers(1))
	}
}
