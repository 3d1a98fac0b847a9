package intercept

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/promptguard/internal/telemetry"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "string content",
			body: `{"messages":[{"role":"user","content":"hi"},{"role":"user","content":"there"}]}`,
			want: "hi there",
		},
		{
			name: "parts content",
			body: `{"messages":[{"content":{"content_type":"text","parts":["one","two"]}}]}`,
			want: "one two",
		},
		{
			name: "block content",
			body: `{"messages":[{"content":[{"type":"text","text":"alpha"},{"type":"image"}]}]}`,
			want: "alpha",
		},
		{
			name: "prompt and content",
			body: `{"prompt":"p","content":"c"}`,
			want: "p c",
		},
		{
			name: "non string prompt",
			body: `{"prompt":["tokens"]}`,
			want: "",
		},
		{
			name: "invalid json",
			body: `{"messages":`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText([]byte(tt.body)))
		})
	}
}

func TestOutboundInspect(t *testing.T) {
	t.Run("SourceFromTarget", func(t *testing.T) {
		h := newHarness(t, "", "", false)

		findings := h.coord.Outbound().Inspect(context.Background(),
			[]byte(`{"messages":[{"content":{"parts":["mail alice@corp.io"]}}]}`),
			"https://chatgpt.com/backend-api/conversation")
		require.Len(t, findings, 1)

		events := h.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, telemetry.APIPIIWarned, events[0].Type)
		assert.Equal(t, "ChatGPT", events[0].Source)
		assert.Equal(t, "https://chatgpt.com/backend-api/conversation", events[0].URL)
		assert.Equal(t, []string{"PII detected in outgoing request: Email"}, h.warner.all())
	})

	t.Run("SourceFromSession", func(t *testing.T) {
		h := newHarness(t, "https://claude.ai/new", claudeMarkup, false, withoutLiveTyping())

		h.coord.Outbound().Inspect(context.Background(), []byte(`{"prompt":"ip 10.1.2.3"}`), "https://example.org/v1/complete")
		events := h.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, "Claude", events[0].Source)
	})

	t.Run("CleanBody", func(t *testing.T) {
		h := newHarness(t, "", "", false)

		findings := h.coord.Outbound().Inspect(context.Background(), []byte(`{"prompt":"hello"}`), "https://example.org/")
		assert.Empty(t, findings)
		assert.Empty(t, h.sink.all())
		assert.Empty(t, h.warner.all())
	})
}

func TestOutboundMiddleware(t *testing.T) {
	h := newHarness(t, "", "", false)
	body := `{"messages":[{"role":"user","content":"card 4111111111111111"}]}`

	var received string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		received = string(data)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.coord.Outbound().Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, body, received)

	events := h.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.APIPIIWarned, events[0].Type)
	assert.Equal(t, "api", events[0].Source)
	assert.Equal(t, []string{"PII detected in outgoing request: Credit Card"}, h.warner.all())
}

func TestOutboundTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	}))
	defer server.Close()

	base := &http.Transport{}
	defer base.CloseIdleConnections()

	h := newHarness(t, "", "", false)
	client := &http.Client{Transport: h.coord.Outbound().Transport(base)}

	send := func(t *testing.T, body io.Reader) string {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/messages", body)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		echoed, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(echoed)
	}

	t.Run("RewindableBody", func(t *testing.T) {
		payload := `{"messages":[{"content":[{"text":"mail alice@corp.io"}]}]}`
		assert.Equal(t, payload, send(t, bytes.NewReader([]byte(payload))))
	})

	t.Run("StreamedBody", func(t *testing.T) {
		payload := `{"prompt":"ip 10.1.2.3"}`
		assert.Equal(t, payload, send(t, io.NopCloser(strings.NewReader(payload))))
	})

	assert.Equal(t, []telemetry.EventType{telemetry.APIPIIWarned, telemetry.APIPIIWarned}, h.sink.types())
	for _, ev := range h.sink.all() {
		assert.Equal(t, "api", ev.Source)
		assert.True(t, strings.HasPrefix(ev.URL, server.URL))
	}
}
