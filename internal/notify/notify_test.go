package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventRunFailed}, discardLogger())

	if err := n.Notify(context.Background(), EventDerivationMismatch, "x", "y"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 0 {
		t.Fatalf("filtered event was sent: %v", s.titles)
	}
	if err := n.Notify(context.Background(), EventRunFailed, "x", "y"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 {
		t.Fatalf("sent %d, want 1", len(s.titles))
	}
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventRunFailed, "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(good.titles) != 1 {
		t.Error("second sender skipped after first failed")
	}
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier enabled")
	}
	if err := n.Notify(context.Background(), EventRunFailed, "t", "m"); err != nil {
		t.Fatalf("Notify on nil: %v", err)
	}
}

func TestFormatRunFailure(t *testing.T) {
	title, body := FormatRunFailure(domain.RunReport{
		StreamKey: "ctf_exchange",
		FromBlock: 100,
		ToBlock:   199,
		Duration:  1500 * time.Millisecond,
		Error:     "postgres: commit: connection reset",
	})
	if title != "Indexing run failed: ctf_exchange" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"blocks: 100-199", "took: 1.5s", "connection reset"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestTelegramSenderPayload(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400", err)
	}
}
