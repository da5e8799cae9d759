// Package httpjson provides an adapter for catalogs exposed as paginated
// JSON HTTP APIs. Items and fields are located with JMESPath expressions, so
// one implementation covers most listing endpoints.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/solaius/model-harvester/pkg/adapter"
	"github.com/solaius/model-harvester/pkg/entity"
)

// TypeName is the adapter type used in the ingestion config.
const TypeName = "httpjson"

// maxResponseSize bounds a single page body (10 MiB).
const maxResponseSize = 10 * 1024 * 1024

func init() {
	adapter.Register(TypeName, New)
}

// Adapter fetches pages from a JSON listing endpoint.
type Adapter struct {
	name        string
	endpoint    string
	itemsPath   string
	limitParam  string
	offsetParam string
	sortParam   string
	strategies  []string
	fields      map[string]string
	authToken   string
	defaultType entity.Type

	client    *http.Client
	evaluator *evaluator
	logger    *slog.Logger
}

// New builds an adapter from options.
//
// Required: "url". Optional: "itemsPath" (JMESPath to the item list, default
// "@"), "limitParam" (limit), "offsetParam" (offset), "sortParam" (sort),
// "strategies" (sort values enabling multi-strategy fetches), "fields"
// (record field -> JMESPath on each item), "authToken", "timeout" (30s),
// "defaultType" (model).
func New(name string, options map[string]any) (adapter.Adapter, error) {
	endpoint, err := adapter.RequiredString(options, "url")
	if err != nil {
		return nil, fmt.Errorf("httpjson source %s: %w", name, err)
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("httpjson source %s: invalid url: %w", name, err)
	}

	fields := map[string]string{}
	if raw, ok := options["fields"].(map[string]any); ok {
		for k, v := range raw {
			if expr, ok := v.(string); ok && expr != "" {
				fields[k] = expr
			}
		}
	}

	a := &Adapter{
		name:        name,
		endpoint:    endpoint,
		itemsPath:   adapter.String(options, "itemsPath", "@"),
		limitParam:  adapter.String(options, "limitParam", "limit"),
		offsetParam: adapter.String(options, "offsetParam", "offset"),
		sortParam:   adapter.String(options, "sortParam", "sort"),
		strategies:  adapter.Strings(options, "strategies"),
		fields:      fields,
		authToken:   adapter.String(options, "authToken", ""),
		defaultType: entity.Type(adapter.String(options, "defaultType", string(entity.TypeModel))),
		client:      &http.Client{Timeout: adapter.Duration(options, "timeout", 30*time.Second)},
		evaluator:   newEvaluator(),
		logger:      slog.Default().With("adapter", TypeName, "source", name),
	}

	// Compile every expression up front so bad config fails at startup.
	for _, expr := range append([]string{a.itemsPath}, values(fields)...) {
		if err := a.evaluator.Validate(expr); err != nil {
			return nil, fmt.Errorf("httpjson source %s: invalid expression %q: %w", name, expr, err)
		}
	}
	return a, nil
}

// Name implements adapter.Adapter.
func (a *Adapter) Name() string { return a.name }

// Strategies implements adapter.MultiStrategyFetcher.
func (a *Adapter) Strategies() []string { return a.strategies }

// Fetch implements adapter.Adapter.
func (a *Adapter) Fetch(ctx context.Context, opts adapter.FetchOptions) ([]adapter.Raw, error) {
	return a.fetchPage(ctx, opts.Limit, opts.Offset, "")
}

// FetchMultiStrategy implements adapter.MultiStrategyFetcher. Each strategy
// fetches LimitPerStrategy items at the same offset; items seen under an
// earlier strategy are skipped so popularity is not double counted.
func (a *Adapter) FetchMultiStrategy(ctx context.Context, opts adapter.MultiStrategyOptions) (*adapter.MultiStrategyResult, error) {
	result := &adapter.MultiStrategyResult{PerStrategy: map[string]int{}}
	seen := map[string]struct{}{}

	for _, strategy := range a.strategies {
		page, err := a.fetchPage(ctx, opts.LimitPerStrategy, opts.Offset, strategy)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strategy, err)
		}
		added := 0
		for _, raw := range page {
			// Items without an id cannot be matched across strategies; they
			// are kept and later dropped by Normalize.
			if id := adapter.RawID(raw); id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			result.Models = append(result.Models, raw)
			added++
		}
		result.PerStrategy[strategy] = added
		a.logger.Debug("strategy fetched", "strategy", strategy, "items", len(page), "new", added)
	}
	return result, nil
}

// Normalize implements adapter.Adapter.
func (a *Adapter) Normalize(raw adapter.Raw) (*entity.Entity, error) {
	return adapter.NormalizeRecord(a.name, a.defaultType, raw)
}

func (a *Adapter) fetchPage(ctx context.Context, limit, offset int, sort string) ([]adapter.Raw, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if limit > 0 {
		q.Set(a.limitParam, strconv.Itoa(limit))
	}
	q.Set(a.offsetParam, strconv.Itoa(offset))
	if sort != "" {
		q.Set(a.sortParam, sort)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.authToken)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response body too large (max %d bytes)", maxResponseSize)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream %s returned %d", a.name, resp.StatusCode)
	}
	a.logger.Debug("page fetched", "url", u.String(), "status", resp.StatusCode, "duration", time.Since(start).String())

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return a.extract(doc)
}

// extract locates the item list and projects each item into record shape.
func (a *Adapter) extract(doc any) ([]adapter.Raw, error) {
	found, err := a.evaluator.Evaluate(a.itemsPath, doc)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}
	items, ok := found.([]any)
	if !ok {
		return nil, fmt.Errorf("itemsPath %q did not resolve to a list (got %T)", a.itemsPath, found)
	}

	out := make([]adapter.Raw, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw := adapter.Raw{}
		for k, v := range obj {
			raw[k] = v
		}
		for field, expr := range a.fields {
			v, err := a.evaluator.Evaluate(expr, obj)
			if err != nil {
				return nil, err
			}
			if v != nil {
				raw[field] = v
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
