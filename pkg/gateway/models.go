package gateway

import "encoding/json"

type MetaInfo struct {
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
}

type HeadingInfo struct {
	Content string `json:"content"`
	Count   int    `json:"count"`
}

type PageAnalysis struct {
	URL             string                   `json:"url"`
	MetaTitle       MetaInfo                 `json:"meta_title"`
	MetaDescription MetaInfo                 `json:"meta_description"`
	ExternalLinks   []string                 `json:"external_links"`
	ExternalDomains []string                 `json:"external_domains"`
	SocialLinks     []string                 `json:"social_links"`
	Headings        map[string][]HeadingInfo `json:"headings"`
	HeadingCounts   map[string]int           `json:"heading_counts"`
}

type WebsiteAnalysis struct {
	Domain        string         `json:"domain"`
	TotalPages    int            `json:"total_pages"`
	AnalyzedPages int            `json:"analyzed_pages"`
	Pages         []PageAnalysis `json:"pages"`
}

// WebsiteAnalyzeRequest leaves unset limits to the backend defaults
type WebsiteAnalyzeRequest struct {
	Domain            string `json:"domain"`
	MaxPagesToCount   *int   `json:"max_pages_to_count,omitempty"`
	MaxPagesToAnalyze *int   `json:"max_pages_to_analyze,omitempty"`
}

type SinglePageAnalyzeRequest struct {
	URL string `json:"url"`
}

// errorResponse is the backend's error body. FastAPI sends a string detail for
// HTTPException and a list for request validation failures.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}
