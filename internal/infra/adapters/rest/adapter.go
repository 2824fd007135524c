// Package rest implements a generic JSON-over-HTTP adapter for protocols that
// expose their pools or markets through an indexer API.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

type linesResponse struct {
	Lines []lineRecord `json:"lines"`
}

type lineRecord struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

type detailResponse struct {
	ID         string                     `json:"id"`
	Values     map[string]decimal.Decimal `json:"values"`
	Labels     map[string]string          `json:"labels"`
	ObservedAt int64                      `json:"observedAt"`
}

// Adapter fetches lines and details from a REST endpoint.
type Adapter struct {
	opts    Options
	limiter *rate.Limiter
}

// New validates opts and constructs the adapter.
func New(opts Options) (*Adapter, error) {
	opts = opts.normalize()
	if opts.BaseURL == "" {
		return nil, errs.New("rest/config", errs.CodeInvalid, errs.WithMessage("base_url required"))
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, errs.New("rest/config", errs.CodeInvalid, errs.WithMessage("invalid base_url"), errs.WithCause(err))
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	}
	return &Adapter{opts: opts, limiter: limiter}, nil
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.opts.Name
}

// DiscoverBatchLines lists the lines of batch.
func (a *Adapter) DiscoverBatchLines(ctx context.Context, partition resource.Partition, batch resource.BatchUnit) (resource.Lines, error) {
	endpoint := a.endpoint(a.opts.LinesPath, partition, batch.ID(), "")
	var payload linesResponse
	if err := a.get(ctx, "rest/discover", endpoint, &payload); err != nil {
		return nil, err
	}
	lines := make(resource.Lines, 0, len(payload.Lines))
	for _, record := range payload.Lines {
		id := strings.TrimSpace(record.ID)
		if id == "" {
			continue
		}
		lines = append(lines, resource.LineUnit{ID: id, Batch: batch.ID(), Attributes: record.Attributes})
	}
	return lines, nil
}

// FetchLineDetail fetches the detail payload of line.
func (a *Adapter) FetchLineDetail(ctx context.Context, partition resource.Partition, line resource.LineUnit) (resource.Detail, error) {
	endpoint := a.endpoint(a.opts.DetailPath, partition, line.Batch, line.ID)
	var payload detailResponse
	if err := a.get(ctx, "rest/detail", endpoint, &payload); err != nil {
		return resource.Detail{}, err
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		id = line.ID
	}
	observed := time.Now().UTC()
	if payload.ObservedAt > 0 {
		observed = time.UnixMilli(payload.ObservedAt).UTC()
	}
	detail := resource.Detail{
		LineID:     id,
		Values:     payload.Values,
		Labels:     payload.Labels,
		ObservedAt: observed,
	}
	if err := detail.Validate(); err != nil {
		return resource.Detail{}, err
	}
	return detail, nil
}

func (a *Adapter) endpoint(tmpl string, partition resource.Partition, batch, line string) string {
	path := strings.NewReplacer(
		"{partition}", url.PathEscape(partition.String()),
		"{batch}", url.PathEscape(batch),
		"{line}", url.PathEscape(line),
	).Replace(tmpl)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return a.opts.BaseURL + path
}

func (a *Adapter) get(ctx context.Context, scope, endpoint string, out any) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s throttle: %w", scope, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range a.opts.Headers {
		req.Header.Set(k, v)
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return errs.New(scope, errs.CodeNetwork,
			errs.WithMessage("request failed"),
			errs.WithField("endpoint", endpoint),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return errs.New(scope, codeForStatus(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))),
			errs.WithHTTP(resp.StatusCode),
			errs.WithField("endpoint", endpoint))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(scope, errs.CodeRemote,
			errs.WithMessage("decode response"),
			errs.WithField("endpoint", endpoint),
			errs.WithCause(err))
	}
	return nil
}

func codeForStatus(status int) errs.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return errs.CodeRateLimited
	case status == http.StatusNotFound:
		return errs.CodeNotFound
	case status == http.StatusRequestTimeout:
		return errs.CodeNetwork
	case status >= 500:
		return errs.CodeUnavailable
	case status >= 400:
		return errs.CodeInvalid
	default:
		return errs.Code("http_" + strconv.Itoa(status))
	}
}
