package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/history"
	"github.com/raaihank/promptguard/internal/redact"
	"go.uber.org/zap"
)

// maxScanBody bounds /api/scan request bodies
const maxScanBody = 1 << 20

// upstream forwards one provider's traffic with its path prefix removed
type upstream struct {
	provider string
	target   *url.URL
	proxy    *httputil.ReverseProxy
}

func (s *Server) newUpstream(provider string, target *url.URL) *upstream {
	up := &upstream{provider: provider, target: target}
	prefix := "/" + provider

	up.proxy = &httputil.ReverseProxy{
		Transport: s.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.URL.Path = singleJoiningSlash(target.Path, strings.TrimPrefix(req.URL.Path, prefix))
			req.URL.RawPath = ""

			if _, ok := req.Header["User-Agent"]; !ok {
				req.Header.Set("User-Agent", "promptguard/"+Version)
			}

			s.logger.WithRequestID(getRequestID(req.Context())).Debug("Proxying request",
				zap.String("provider", provider),
				zap.String("target_url", req.URL.String()),
				zap.String("method", req.Method),
			)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.WithRequestID(getRequestID(r.Context())).Error("Proxy error",
				zap.String("provider", provider),
				zap.Error(err),
			)
			http.Error(w, fmt.Sprintf("Proxy error: %v", err), http.StatusBadGateway)
		},
	}
	return up
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	u.proxy.ServeHTTP(w, r)
	if rw, ok := w.(*responseWriter); ok {
		rw.upstreamDuration = time.Since(start)
	}
}

func singleJoiningSlash(base, path string) string {
	if path == "" {
		path = "/"
	}
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	}
	return base + path
}

type scanRequest struct {
	Text string `json:"text"`
}

type scanFinding struct {
	Name     string          `json:"name"`
	Severity detect.Severity `json:"severity"`
	Masked   string          `json:"masked"`
}

type scanResponse struct {
	Findings []scanFinding `json:"findings"`
	Redacted string        `json:"redacted"`
}

// handleScan runs the detection engine over posted text. Matched values
// are masked in the response.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	findings := s.deps.Engine.Detect(req.Text)
	resp := scanResponse{
		Findings: make([]scanFinding, 0, len(findings)),
		Redacted: redact.Redact(req.Text, findings),
	}
	for _, f := range findings {
		resp.Findings = append(resp.Findings, scanFinding{
			Name:     f.Name,
			Severity: f.Severity,
			Masked:   detect.MaskValue(f.Match),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, &history.Stats{Enabled: s.Inspecting()})
		return
	}
	stats, err := s.deps.History.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to load history", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	stats.Enabled = s.Inspecting()
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History != nil {
		if err := s.deps.History.Clear(r.Context()); err != nil {
			s.logger.Error("Failed to clear history", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "history unavailable")
			return
		}
	}
	s.logger.Info("History cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `expected {"enabled": true|false}`)
		return
	}

	s.inspecting.Store(*req.Enabled)
	if s.deps.History != nil {
		if err := s.deps.History.SetEnabled(r.Context(), *req.Enabled); err != nil {
			s.logger.Warn("Failed to persist enabled flag", zap.Error(err))
		}
	}
	s.logger.Info("Inspection toggled", zap.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
