package frontend

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"path/filepath"

	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

type ContentKind string

const (
	ContentNone        ContentKind = ""
	ContentLive        ContentKind = "live"
	ContentPlaceholder ContentKind = "placeholder"
	ContentBundled     ContentKind = "bundled"
)

// Content is what the display surface is asked to show
type Content struct {
	Kind ContentKind
	URL  string
}

func (c Content) String() string {
	if c.Kind == ContentPlaceholder {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.URL)
}

// Surface is the display surface the loader drives
type Surface interface {
	Navigate(ctx context.Context, content Content) error
}

// FeatureGate is optionally implemented by a Surface whose backend-dependent
// features must wait for readiness
type FeatureGate interface {
	SetBackendAvailable(available bool)
}

func LiveContent(devURL string) Content {
	return Content{Kind: ContentLive, URL: devURL}
}

// PlaceholderContent is a self-contained page describing startup progress
func PlaceholderContent(devURL, backendURL string) Content {
	page := "<html><body><h2>Starting Website Analyzer...</h2>" +
		"<p>React dev server is starting at " + html.EscapeString(devURL) + "</p>" +
		"<p>Backend is starting at " + html.EscapeString(backendURL) + "</p>" +
		"<p>Please wait...</p></body></html>"
	return Content{Kind: ContentPlaceholder, URL: "data:text/html;charset=utf-8," + url.PathEscape(page)}
}

func BundledContent(bundlePath string) Content {
	path := bundlePath
	if abs, err := filepath.Abs(bundlePath); err == nil {
		path = abs
	}
	fileURL := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return Content{Kind: ContentBundled, URL: fileURL.String()}
}

// LoggingSurface stands in for a display surface when the coordinator runs headless
type LoggingSurface struct {
	logger logging.Logger
}

func NewLoggingSurface(logger logging.Logger) *LoggingSurface {
	return &LoggingSurface{logger: logger}
}

func (s *LoggingSurface) Navigate(ctx context.Context, content Content) error {
	s.logger.Infof("Display surface navigating, content: %s", content)
	return nil
}

func (s *LoggingSurface) SetBackendAvailable(available bool) {
	s.logger.Infof("Display surface backend features, available: %t", available)
}
