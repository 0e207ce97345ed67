package relay

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ronakgupta11/cardano-swap/internal/hashlock"
)

func openInbox(t *testing.T, name string) *Inbox {
	t.Helper()
	inbox, err := OpenInbox(filepath.Join(t.TempDir(), name), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, inbox.Close()) })
	return inbox
}

func newSecret(t *testing.T) hashlock.Secret {
	t.Helper()
	s, err := hashlock.GenerateSecret()
	require.NoError(t, err)
	return s
}

func TestInboxAcceptIsIdempotent(t *testing.T) {
	inbox := openInbox(t, "inbox.db")
	s := newSecret(t)

	m := NewMessage("0xORDER", s)
	fresh, err := inbox.Accept(m)
	require.NoError(t, err)
	require.True(t, fresh)

	// a redelivery under a new message id is not a new disclosure
	again := NewMessage("0xorder", s)
	fresh, err = inbox.Accept(again)
	require.NoError(t, err)
	require.False(t, fresh)

	got, err := inbox.ByOrder("0xOrder")
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, s, got.Secret)

	got, err = inbox.ByHashlock(hashlock.Commit(s))
	require.NoError(t, err)
	require.Equal(t, "0xorder", got.OrderHash)
}

func TestInboxRejectsWrongSecret(t *testing.T) {
	inbox := openInbox(t, "inbox.db")

	m := NewMessage("0xorder", newSecret(t))
	m.Secret = newSecret(t)
	_, err := inbox.Accept(m)
	require.ErrorIs(t, err, ErrInvalidSecret)

	_, err = inbox.ByOrder("0xorder")
	require.ErrorIs(t, err, ErrNotFound)

	m = NewMessage(" ", newSecret(t))
	_, err = inbox.Accept(m)
	require.ErrorIs(t, err, ErrMissingOrder)
}

func TestHubSubscribeReceivesPublish(t *testing.T) {
	hub := NewHub(openInbox(t, "hub.db"))
	ctx := context.Background()

	updates, cancel, backlog := hub.Subscribe("0xorder")
	defer cancel()
	require.Empty(t, backlog)
	require.Equal(t, 1, hub.Subscribers("0xORDER"))

	s := newSecret(t)
	fresh, err := hub.Publish(ctx, NewMessage("0xorder", s))
	require.NoError(t, err)
	require.True(t, fresh)

	select {
	case m := <-updates:
		require.Equal(t, s, m.Secret)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	fresh, err = hub.Publish(ctx, NewMessage("0xorder", s))
	require.NoError(t, err)
	require.False(t, fresh)

	_, cancelLate, backlog := hub.Subscribe("0xorder")
	defer cancelLate()
	require.Len(t, backlog, 1)
	require.Equal(t, s, backlog[0].Secret)
}

func TestClientAwaitsOverWebsocket(t *testing.T) {
	hub := NewHub(openInbox(t, "hub.db"))
	r := chi.NewRouter()
	r.Get("/relay/{orderHash}", hub.ServeWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), openInbox(t, "client.db"))
	s := newSecret(t)
	h := hashlock.Commit(s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		secret hashlock.Secret
		err    error
	}
	done := make(chan result, 1)
	go func() {
		got, err := client.Await(ctx, "0xorder", h)
		done <- result{got, err}
	}()

	require.Eventually(t, func() bool { return hub.Subscribers("0xorder") == 1 }, 2*time.Second, 10*time.Millisecond)

	// an unrelated secret on the same order is skipped
	_, err := hub.Publish(ctx, NewMessage("0xorder", newSecret(t)))
	require.NoError(t, err)
	_, err = hub.Publish(ctx, NewMessage("0xorder", s))
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, s, res.secret)

	// the client inbox now answers without dialing
	srv.Close()
	got, err := client.Await(ctx, "0xorder", h)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestClientGetsBacklog(t *testing.T) {
	hub := NewHub(openInbox(t, "hub.db"))
	r := chi.NewRouter()
	r.Get("/relay/{orderHash}", hub.ServeWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	s := newSecret(t)
	_, err := hub.Publish(context.Background(), NewMessage("0xlate", s))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(srv.URL, openInbox(t, "client.db"))
	got, err := client.Await(ctx, "0xLATE", hashlock.Commit(s))
	require.NoError(t, err)
	require.Equal(t, s, got)
}
