package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNotifyNewMessage_NoopWithoutCredentials(t *testing.T) {
	r := New("", "", zap.NewNop())
	raw, _ := json.Marshal(map[string]string{"text": "hi"})

	// Must not panic or block; there is no server listening at all.
	r.NotifyNewMessage(context.Background(), raw)
}

func TestNotifyNewMessage_SendsFormattedText(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewDecoder(req.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("test-token", "chat-1", zap.NewNop())
	r.baseURL = srv.URL

	raw, _ := json.Marshal(map[string]string{"text": "hello there", "authorName": "Ivan"})
	r.NotifyNewMessage(context.Background(), raw)

	assert.Equal(t, "chat-1", received["chat_id"])
	assert.Contains(t, received["text"], "Ivan")
	assert.Contains(t, received["text"], "hello there")
}

func TestNotifyNewMessage_SendFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New("token", "chat-1", zap.NewNop())
	r.baseURL = srv.URL

	raw, _ := json.Marshal(map[string]string{"text": "hi"})

	done := make(chan struct{})
	go func() {
		r.NotifyNewMessage(context.Background(), raw)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyNewMessage blocked on a failing send")
	}
}

func TestEnabled(t *testing.T) {
	assert.False(t, New("", "", zap.NewNop()).enabled())
	assert.False(t, New("token", "", zap.NewNop()).enabled())
	assert.False(t, New("", "chat", zap.NewNop()).enabled())
	assert.True(t, New("token", "chat", zap.NewNop()).enabled())
}
