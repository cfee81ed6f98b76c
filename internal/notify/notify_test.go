package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	name string
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, m Message) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FilterAndSuppression(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{"settled", " keeper_error "}, quietLogger())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "archived", "t", "b"))
	assert.Empty(t, s.msgs, "archived is not in the filter")

	require.NoError(t, n.Notify(ctx, "keeper_error", "Settlement failed", "post p1"))
	require.NoError(t, n.Notify(ctx, "keeper_error", "Settlement failed", "post p1"))
	require.NoError(t, n.Notify(ctx, "keeper_error", "Settlement failed", "post p2"))
	assert.Len(t, s.msgs, 2, "identical alert is suppressed")

	now = now.Add(DefaultQuietPeriod)
	require.NoError(t, n.Notify(ctx, "keeper_error", "Settlement failed", "post p1"))
	assert.Len(t, s.msgs, 3)
	assert.Equal(t, "keeper_error", s.msgs[2].Event)
	assert.Equal(t, now, s.msgs[2].At)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "settled", "t", "b")
	assert.ErrorContains(t, err, "bad: down")
	assert.Len(t, good.msgs, 1)

	assert.NoError(t, NewNotifier(nil, nil, quietLogger()).Notify(context.Background(), "settled", "t", "b"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Event: "settled", Title: "Post settled", Body: "pot 10"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Post settled* [settled]\npot 10", got["text"])
}

func TestDiscordSender(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), Message{Event: "swept", Title: "Swept", Body: "b", At: at}))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Swept", got.Embeds[0].Title)
	assert.Equal(t, "swept", got.Embeds[0].Footer.Text)
	assert.Equal(t, "2026-05-01T00:00:00Z", got.Embeds[0].Timestamp)

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer fail.Close()
	assert.ErrorContains(t, NewDiscordSender(fail.URL).Send(context.Background(), Message{}), "unexpected status 400")
}
