package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"phi3.5:latest"}]}`))
	}))
	defer srv.Close()

	if !New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"phi3.5:latest"},{"name":"qwen2"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	for name, want := range map[string]bool{"phi3.5": true, "qwen2": true, "llama3": false} {
		got, err := c.HasModel(context.Background(), name)
		if err != nil {
			t.Fatalf("HasModel(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("HasModel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestBackendComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"[[PROCESS]] x [[ADVICE]] y"}}`))
	}))
	defer srv.Close()

	b := NewBackend(New(srv.URL), "phi3.5")
	reply, err := b.Complete(context.Background(), "tell me", time.Second)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(reply, "[[ADVICE]]") {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "phi3.5" || got.Stream || len(got.Messages) != 1 || got.Messages[0].Content != "tell me" {
		t.Errorf("request = %+v", got)
	}
	if b.Name() != BackendName {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "missing", nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestBackendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewBackend(New(srv.URL), "m").Complete(context.Background(), "p", 20*time.Millisecond)
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestCheckReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"phi3.5:latest"}]}`))
	}))
	defer srv.Close()
	c := New(srv.URL)

	if err := CheckReady(context.Background(), c, "phi3.5"); err != nil {
		t.Errorf("CheckReady(phi3.5) = %v", err)
	}
	err := CheckReady(context.Background(), c, "llama3")
	if err == nil || !strings.Contains(err.Error(), "ollama pull llama3") {
		t.Errorf("CheckReady(llama3) = %v", err)
	}
}

func TestCheckReady_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if err := CheckReady(context.Background(), New(srv.URL), "phi3.5"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}
