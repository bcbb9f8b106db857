// Package provider fetches candidate listings from the SerpApi Google Jobs
// search endpoint.
package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"jobchommie/listing-service/internal/model"
)

const (
	defaultBaseURL = "https://serpapi.com/search.json"
	defaultEngine  = "google_jobs"
	defaultNum     = 100
	defaultTimeout = 30 * time.Second

	maxErrorBody = 512
)

var (
	// ErrNotConfigured means no API key is set. No request was made.
	ErrNotConfigured = errors.New("provider not configured: SERPAPI_KEY not set")
	// ErrFetchFailed wraps every transport, status or decoding failure.
	ErrFetchFailed = errors.New("provider fetch failed")
)

// Config defines SerpApi client settings.
type Config struct {
	APIKey  string
	Query   string
	Num     int
	BaseURL string
	Engine  string
	Timeout time.Duration
}

// Result is the outcome of one Fetch. Calls counts the requests actually
// sent, and is set on failure too.
type Result struct {
	Candidates []model.Candidate
	Calls      int
}

// SerpAPI queries the search endpoint once per Fetch.
type SerpAPI struct {
	cfg    Config
	client *resty.Client
}

// New instantiates a client. An empty APIKey is allowed; Fetch then reports
// ErrNotConfigured.
func New(cfg Config) *SerpAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = defaultEngine
	}
	if cfg.Num <= 0 {
		cfg.Num = defaultNum
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	return &SerpAPI{cfg: cfg, client: client}
}

// Configured reports whether an API key is present.
func (s *SerpAPI) Configured() bool {
	return s.cfg.APIKey != ""
}

// searchResponse mirrors the parts of the SerpApi response we read. Every
// field is optional.
type searchResponse struct {
	JobsResults []jobResult `json:"jobs_results"`
	Error       *string     `json:"error"`
}

type jobResult struct {
	Title              *string             `json:"title"`
	CompanyName        *string             `json:"company_name"`
	Location           *string             `json:"location"`
	Description        *string             `json:"description"`
	DetectedExtensions *detectedExtensions `json:"detected_extensions"`
	PublishedAt        *string             `json:"published_at"`
}

type detectedExtensions struct {
	Link *string `json:"link"`
}

// Fetch performs one search request and maps jobs_results into candidates,
// preserving the provider's order.
func (s *SerpAPI) Fetch(ctx context.Context) (Result, error) {
	if !s.Configured() {
		return Result{}, ErrNotConfigured
	}

	res := Result{Calls: 1}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"engine":  s.cfg.Engine,
			"q":       s.cfg.Query,
			"api_key": s.cfg.APIKey,
			"num":     strconv.Itoa(s.cfg.Num),
		}).
		Get(s.cfg.BaseURL)
	if err != nil {
		return res, errors.Mark(errors.Wrap(s.redact(err), "serpapi request"), ErrFetchFailed)
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		return res, errors.Wrapf(ErrFetchFailed, "serpapi returned %d: %s", resp.StatusCode(), snippet(body))
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return res, errors.Wrapf(ErrFetchFailed, "decode response: %v", err)
	}
	if payload.Error != nil && *payload.Error != "" {
		return res, errors.Wrapf(ErrFetchFailed, "serpapi error: %s", *payload.Error)
	}

	res.Candidates = make([]model.Candidate, 0, len(payload.JobsResults))
	for _, r := range payload.JobsResults {
		res.Candidates = append(res.Candidates, r.toCandidate())
	}
	return res, nil
}

func (r jobResult) toCandidate() model.Candidate {
	c := model.Candidate{
		Title:       deref(r.Title),
		Company:     deref(r.CompanyName),
		Location:    deref(r.Location),
		Description: deref(r.Description),
		PublishedAt: deref(r.PublishedAt),
	}
	if r.DetectedExtensions != nil {
		c.Link = deref(r.DetectedExtensions.Link)
	}
	return c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// redact strips the API key from transport errors, which embed the request URL.
func (s *SerpAPI) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(s.cfg.APIKey), "REDACTED")
	}
	return err
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}
