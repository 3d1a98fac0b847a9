package intercept

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

// urlChannel warns about sensitive data in page URLs. Navigation is never
// blocked.
type urlChannel struct {
	c          *Coordinator
	logger     *logger.Logger
	seen       *lru.Cache[string, struct{}]
	minSegment int
}

// urlHit is the findings at one place in a URL
type urlHit struct {
	location string
	findings []detect.Finding
}

func newURLChannel(c *Coordinator) (*urlChannel, error) {
	seen, err := lru.New[string, struct{}](c.cfg.URLRecencySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create url recency set: %w", err)
	}
	return &urlChannel{
		c:          c,
		logger:     c.logger.WithChannel("url"),
		seen:       seen,
		minSegment: c.cfg.URLMinSegmentLength,
	}, nil
}

// scan checks a URL once; later visits to the same URL are skipped while
// it stays in the recency set
func (u *urlChannel) scan(s *session, raw string) {
	if raw == "" {
		return
	}
	if found, _ := u.seen.ContainsOrAdd(raw, struct{}{}); found {
		return
	}

	hits := u.inspect(raw)
	if len(hits) == 0 {
		return
	}

	var (
		all     []detect.Finding
		summary []string
	)
	for _, h := range hits {
		all = append(all, h.findings...)
		summary = append(summary, fmt.Sprintf("%s: %s", h.location, joinNames(h.findings)))
	}

	u.logger.Warn("Sensitive data in URL",
		zap.String("url", raw),
		zap.String("locations", strings.Join(summary, " | ")),
	)
	u.c.deps.Warner.PresentWarning(
		fmt.Sprintf("PII found in URL parameters: %s", joinNames(all)),
		u.c.cfg.URLWarning,
	)

	ctx := context.Background()
	if s != nil {
		ctx = s.ctx
	}
	u.c.report(ctx, telemetry.URLPIIDetected, "url", all, raw)
}

// inspect scans query values and names, long path segments and the
// fragment. Unparseable URLs yield nothing.
func (u *urlChannel) inspect(raw string) []urlHit {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		u.logger.Debug("Skipping unparseable URL", zap.String("url", raw))
		return nil
	}

	engine := u.c.deps.Engine
	var hits []urlHit
	add := func(location, text string) {
		if findings := engine.Detect(text); len(findings) > 0 {
			hits = append(hits, urlHit{location: location, findings: findings})
		}
	}

	query, _ := url.ParseQuery(parsed.RawQuery)
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range query[key] {
			add("?"+key, value)
		}
		add("?"+key+" (param name)", key)
	}

	for _, segment := range strings.Split(parsed.EscapedPath(), "/") {
		if segment == "" || utf8.RuneCountInString(segment) < u.minSegment {
			continue
		}
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			decoded = segment
		}
		add("/"+segment, decoded)
	}

	if parsed.Fragment != "" {
		add("#fragment", parsed.Fragment)
	}

	return hits
}
