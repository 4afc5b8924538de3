package fetcher

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/Zachdehooge/radar-loop/internal/wms"
)

// DefaultBaseURL is the NOAA/NWS GeoServer serving per-site radar layers.
const DefaultBaseURL = "https://opengeo.ncep.noaa.gov/geoserver"

// Options controls how capabilities documents are fetched.
type Options struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// MinInterval spaces outgoing requests; zero disables pacing.
	MinInterval time.Duration
	Client      *http.Client
	Clock       clockwork.Clock
}

// Response is a successfully fetched capabilities document.
type Response struct {
	URL        string
	Body       []byte
	StatusCode int
	StartedAt  time.Time
	Elapsed    time.Duration
}

// FetchFailure is returned for a non-200 response or a transport error.
// StatusCode is 0 when no response was received.
type FetchFailure struct {
	URL        string
	StatusCode int
	StartedAt  time.Time
	Err        error
}

func (f *FetchFailure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", f.URL, f.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", f.URL, f.Err)
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// Fetcher issues GetCapabilities requests. It never retries; the refresh
// scheduler decides when to try again.
type Fetcher struct {
	client       *http.Client
	clock        clockwork.Clock
	baseURL      string
	userAgent    string
	maxBodyBytes int64
	limiter      *rate.Limiter // nil when pacing is off
}

// New returns a Fetcher with defaults filled in.
func New(opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	f := &Fetcher{
		client:       client,
		clock:        opts.Clock,
		baseURL:      opts.BaseURL,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if opts.MinInterval > 0 {
		f.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return f
}

// Fetch retrieves the capabilities document for site.
func (f *Fetcher) Fetch(ctx context.Context, site string) (*Response, error) {
	url := wms.CapabilitiesURL(f.baseURL, site)
	started := f.clock.Now()
	fail := func(status int, err error) error {
		return &FetchFailure{URL: url, StatusCode: status, StartedAt: started, Err: err}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fail(0, fmt.Errorf("wait for request slot: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fail(0, fmt.Errorf("build request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fail(resp.StatusCode, fmt.Errorf("server returned non-200 status: %d", resp.StatusCode))
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, fail(0, err)
	}

	return &Response{
		URL:        url,
		Body:       body,
		StatusCode: resp.StatusCode,
		StartedAt:  started,
		Elapsed:    f.clock.Since(started),
	}, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}
