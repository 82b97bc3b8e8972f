package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTelegramClient_SendMessage(t *testing.T) {
	t.Run("nil_client", func(t *testing.T) {
		var c *TelegramClient
		err := c.SendMessage(context.Background(), "msg")
		if err == nil || err.Error() != "telegram client is nil" {
			t.Errorf("expected nil client error, got %v", err)
		}
	})

	t.Run("missing_config", func(t *testing.T) {
		c := NewTelegramClient("", 0, "")
		err := c.SendMessage(context.Background(), "msg")
		if err == nil || err.Error() != "telegram token or chat_id missing" {
			t.Error("expected missing config error")
		}
	})

	t.Run("success", func(t *testing.T) {
		var got map[string]interface{}
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/bottok/sendMessage" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer ts.Close()

		c := NewTelegramClient("tok", 123, "PROD")
		c.baseURL = ts.URL
		err := c.SendMessage(context.Background(), "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["text"] != "[PROD] hello" {
			t.Errorf("unexpected text %v", got["text"])
		}
	})

	t.Run("server_error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad"}`))
		}))
		defer ts.Close()

		c := NewTelegramClient("tok", 123, "")
		c.baseURL = ts.URL
		err := c.SendMessage(context.Background(), "hello")
		if err == nil {
			t.Error("expected error for 400 status")
		}
	})
}

func TestTelegramClient_SendPhoto(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer ts.Close()

	c := NewTelegramClient("tok", 123, "")
	c.baseURL = ts.URL
	if err := c.SendPhoto(context.Background(), "https://example.com/chart.png", "chart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["photo"] != "https://example.com/chart.png" || got["caption"] != "chart" {
		t.Errorf("unexpected payload %v", got)
	}

	if err := c.SendPhoto(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty photo url")
	}
}

func TestTelegramClient_SendDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(path, []byte("report body"), 0o600); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("chat_id") != "123" || r.FormValue("caption") != "daily" {
			t.Errorf("unexpected fields chat_id=%s caption=%s", r.FormValue("chat_id"), r.FormValue("caption"))
		}
		f, hdr, err := r.FormFile("document")
		if err != nil {
			t.Errorf("missing document: %v", err)
			return
		}
		defer f.Close()
		raw, _ := io.ReadAll(f)
		if hdr.Filename != "report.txt" || string(raw) != "report body" {
			t.Errorf("unexpected document %s %q", hdr.Filename, raw)
		}
	}))
	defer ts.Close()

	c := NewTelegramClient("tok", 123, "")
	c.baseURL = ts.URL
	if err := c.SendDocument(context.Background(), path, "daily"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.SendDocument(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}
