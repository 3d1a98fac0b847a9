package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

// maxInspectedBody bounds how much of a request body is buffered for
// scanning
const maxInspectedBody = 10 << 20

// Outbound warns about sensitive data in chat API request bodies. It only
// reports: by the time a request exists the text has left the input.
type Outbound struct {
	c      *Coordinator
	logger *logger.Logger
}

func newOutbound(c *Coordinator) (*Outbound, error) {
	return &Outbound{c: c, logger: c.logger.WithChannel("outbound")}, nil
}

// Inspect scans a serialized request body sent to target and warns when
// the message text carries findings
func (o *Outbound) Inspect(ctx context.Context, body []byte, target string) []detect.Finding {
	text := ExtractText(body)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	findings := o.c.deps.Engine.Detect(text)
	if len(findings) == 0 {
		return nil
	}

	o.logger.Warn("Sensitive data in outgoing request",
		zap.String("target", target),
		zap.Strings("findings", detect.Names(findings)),
	)
	o.c.deps.Warner.PresentWarning(
		fmt.Sprintf("PII detected in outgoing request: %s", joinNames(findings)),
		o.c.cfg.OutboundWarning,
	)
	o.c.report(ctx, telemetry.APIPIIWarned, o.source(target), findings, target)
	return findings
}

// source names the platform the request goes to, falling back to "api"
func (o *Outbound) source(target string) string {
	if s := o.c.session(); s != nil && s.site != nil {
		return s.site.Name
	}
	if site := o.c.deps.Platforms.Detect(target); site != nil {
		return site.Name
	}
	return "api"
}

// Middleware inspects request bodies before passing them on unchanged
func (o *Outbound) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := o.peek(&r.Body); ok {
			o.Inspect(r.Context(), body, r.URL.String())
		}
		next.ServeHTTP(w, r)
	})
}

// Transport wraps base so every request sent through it is inspected. A
// nil base uses http.DefaultTransport.
func (o *Outbound) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.Body == nil || req.Body == http.NoBody {
			return base.RoundTrip(req)
		}
		if req.GetBody != nil {
			if copied, err := req.GetBody(); err == nil {
				if body, ok := o.peek(&copied); ok {
					o.Inspect(req.Context(), body, req.URL.String())
				}
				copied.Close()
				return base.RoundTrip(req)
			}
		}
		// RoundTrip must not modify the caller's request
		req = req.Clone(req.Context())
		if body, ok := o.peek(&req.Body); ok {
			o.Inspect(req.Context(), body, req.URL.String())
		}
		return base.RoundTrip(req)
	})
}

// peek reads the body and replaces it with an identical reader
func (o *Outbound) peek(body *io.ReadCloser) ([]byte, bool) {
	if *body == nil || *body == http.NoBody {
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(*body, maxInspectedBody+1))
	rest := *body
	*body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), rest), Closer: rest}
	if err != nil {
		o.logger.Debug("Could not read request body", zap.Error(err))
		return nil, false
	}
	if len(data) > maxInspectedBody {
		return nil, false
	}
	return data, true
}

type readCloser struct {
	io.Reader
	io.Closer
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// ExtractText returns the message text of a chat-shaped JSON body: every
// messages[].content (a string, {"parts": [...]} or a list of {"text"}
// parts), plus top-level prompt and content strings, joined by spaces
func ExtractText(body []byte) string {
	var payload struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		Prompt  json.RawMessage `json:"prompt"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	var parts []string
	for _, m := range payload.Messages {
		parts = append(parts, contentText(m.Content)...)
	}
	if s, ok := jsonString(payload.Prompt); ok && s != "" {
		parts = append(parts, s)
	}
	if s, ok := jsonString(payload.Content); ok && s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

func contentText(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	if s, ok := jsonString(raw); ok {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var withParts struct {
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(raw, &withParts); err == nil && withParts.Parts != nil {
		var out []string
		for _, p := range withParts.Parts {
			if s, ok := jsonString(p); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out []string
		for _, b := range blocks {
			if b.Text != "" {
				out = append(out, b.Text)
			}
		}
		return out
	}
	return nil
}

func jsonString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
