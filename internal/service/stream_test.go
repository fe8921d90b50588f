package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"racesync/internal/broadcast"
	"racesync/internal/model"
)

func TestStreamWSEndsOnEncodeFailure(t *testing.T) {
	log := zerolog.Nop()
	hub := broadcast.NewHub(4, &log)
	s := &service{hub: hub, log: &log}

	encodeChange = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }
	t.Cleanup(func() { encodeChange = defaultEncodeChange })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer wc.Close()
		l := hub.Subscribe(1)
		defer l.Close()
		s.streamWS(wc, l)
	}))
	defer srv.Close()

	wc, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer wc.Close()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers(1) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(1, model.JournalEntry{ID: 1, RunID: 3})

	_ = wc.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = wc.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseInternalServerErr {
		t.Fatalf("read err = %v, want close %d", err, websocket.CloseInternalServerErr)
	}
	for hub.Subscribers(1) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener still registered after encode failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
