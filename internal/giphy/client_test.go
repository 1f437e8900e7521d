package giphy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/socialfeed/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

const sampleResponse = `{
  "data": [
    {
      "id": "abc",
      "title": "beaver dance",
      "url": "https://giphy.com/gifs/abc",
      "images": {
        "original": {"url": "https://media.giphy.com/abc/giphy.gif", "width": "480", "height": "360"},
        "fixed_height": {"url": "https://media.giphy.com/abc/200.gif", "width": "267", "height": "200"}
      }
    },
    {
      "id": "def",
      "title": "original only",
      "url": "https://giphy.com/gifs/def",
      "images": {
        "original": {"url": "https://media.giphy.com/def/giphy.gif", "width": "100", "height": "50"}
      }
    },
    {
      "id": "bad",
      "title": "unsafe",
      "url": "https://giphy.com/gifs/bad",
      "images": {
        "fixed_height": {"url": "http://10.0.0.1/x.gif", "width": "1", "height": "1"}
      }
    }
  ]
}`

// rejectHTTP はhttps以外のURLを拒否するテスト用バリデータ。
type rejectHTTP struct{}

func (rejectHTTP) ValidateURL(u string) error {
	if !strings.HasPrefix(u, "https://") {
		return errors.New("not https")
	}
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	c := NewClient(server.Client(), "test-key", rejectHTTP{}, newTestLogger(&buf))
	c.baseURL = server.URL
	return c, &buf
}

func TestClient_Search(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "beaver" || q.Get("api_key") != "test-key" || q.Get("limit") != "10" || q.Get("rating") != "pg-13" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResponse))
	})

	gifs, err := c.Search(context.Background(), " beaver ", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(gifs) != 2 {
		t.Fatalf("len = %d, want 2 (unsafe URL excluded)", len(gifs))
	}
	if gifs[0].PreviewURL != "https://media.giphy.com/abc/200.gif" || gifs[0].Width != 267 || gifs[0].Height != 200 {
		t.Errorf("gifs[0] = %+v", gifs[0])
	}
	if gifs[1].PreviewURL != "https://media.giphy.com/def/giphy.gif" {
		t.Errorf("gifs[1] should fall back to original: %+v", gifs[1])
	}
}

func TestClient_Trending_DefaultAndMaxLimit(t *testing.T) {
	var limits []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trending" {
			t.Errorf("path = %s, want /trending", r.URL.Path)
		}
		limits = append(limits, r.URL.Query().Get("limit"))
		w.Write([]byte(`{"data":[]}`))
	})

	for _, limit := range []int{0, 500} {
		gifs, err := c.Trending(context.Background(), limit)
		if err != nil {
			t.Fatalf("Trending() error = %v", err)
		}
		if len(gifs) != 0 {
			t.Errorf("len = %d, want 0", len(gifs))
		}
	}
	if len(limits) != 2 || limits[0] != "25" || limits[1] != "50" {
		t.Errorf("limits = %v, want [25 50]", limits)
	}
}

func TestClient_Search_EmptyQuery(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	})

	_, err := c.Search(context.Background(), "  ", 10)
	if !model.HasCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("error = %v, want INVALID_REQUEST", err)
	}
}

func TestClient_NoAPIKey(t *testing.T) {
	c := NewClient(http.DefaultClient, "", nil, nil)
	if c.Enabled() {
		t.Error("Enabled() should be false without an API key")
	}

	_, err := c.Trending(context.Background(), 10)
	if !model.IsRetryable(err) {
		t.Errorf("error = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestClient_UpstreamError(t *testing.T) {
	c, buf := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Search(context.Background(), "x", 10)
	if !model.IsRetryable(err) {
		t.Errorf("error = %v, want SERVICE_UNAVAILABLE", err)
	}
	if !strings.Contains(buf.String(), "502") {
		t.Errorf("log should contain status: %s", buf.String())
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.Trending(context.Background(), 10)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if model.IsRetryable(err) {
		t.Error("invalid JSON should not be reported as retryable")
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Trending(ctx, 10)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
