package intercom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// ProgressFunc receives cosmetic progress after each page.
type ProgressFunc func(label string, fetched, total int, fraction float64)

// Collection is the accumulated result of a paginated fetch. Items keep the
// order the API returned them in. Err is set when a page failed; whatever
// was collected before the failure is kept.
type Collection struct {
	Label string
	Items []json.RawMessage
	Total int
	Pages int
	Err   error
}

// Status reports the tagged outcome of the collection.
func (c Collection) Status() Status {
	if c.Err != nil {
		return Classify(c.Err)
	}
	if len(c.Items) == 0 {
		return StatusEmpty
	}
	return StatusOK
}

// Partial reports whether some pages were collected before a failure.
func (c Collection) Partial() bool {
	return c.Err != nil && len(c.Items) > 0
}

// Collector follows API cursors until the source reports no further pages.
type Collector struct {
	api      Doer
	progress ProgressFunc
	logger   *zap.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) CollectorOption {
	return func(c *Collector) {
		c.progress = fn
	}
}

// WithCollectorLogger sets the collector logger.
func WithCollectorLogger(l *zap.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector creates a Collector on top of api.
func NewCollector(api Doer, opts ...CollectorOption) *Collector {
	c := &Collector{api: api, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search pages through a POST search endpoint, copying pages.next.starting_after
// into pagination.starting_after of the next request. req is not modified.
func (c *Collector) Search(ctx context.Context, path string, req SearchRequest, itemsKey, label string) Collection {
	out := Collection{Label: label}
	pagination := Pagination{}
	if req.Pagination != nil {
		pagination = *req.Pagination
	}

	seen := map[string]bool{}
	for {
		req.Pagination = &pagination
		raw, err := c.api.Do(ctx, http.MethodPost, path, req, nil)
		if err != nil {
			out.Err = err
			c.logStop(out)
			return out
		}

		pg, err := decodePage(raw, itemsKey)
		if err != nil {
			out.Err = err
			c.logStop(out)
			return out
		}
		c.appendPage(&out, pg, 0)

		cursor, ok := pg.nextCursor()
		if !ok || seen[cursor] || ctx.Err() != nil {
			if ctx.Err() != nil {
				out.Err = ctx.Err()
			}
			return out
		}
		seen[cursor] = true
		pagination.StartingAfter = cursor
	}
}

// Follow pages through a GET endpoint whose pages.next is an absolute URL.
// maxPages bounds the number of follow-up pages; zero means unbounded.
func (c *Collector) Follow(ctx context.Context, path string, query url.Values, itemsKey, label string, maxPages int) Collection {
	out := Collection{Label: label}
	target := path
	q := query
	seen := map[string]bool{}
	for {
		raw, err := c.api.Do(ctx, http.MethodGet, target, nil, q)
		if err != nil {
			out.Err = err
			c.logStop(out)
			return out
		}

		pg, err := decodePage(raw, itemsKey)
		if err != nil {
			out.Err = err
			c.logStop(out)
			return out
		}
		c.appendPage(&out, pg, maxPages)

		next, ok := pg.nextURL()
		if !ok || seen[next] || ctx.Err() != nil {
			if ctx.Err() != nil {
				out.Err = ctx.Err()
			}
			return out
		}
		if maxPages > 0 && out.Pages > maxPages {
			return out
		}
		seen[next] = true
		target = next
		q = nil
	}
}

func (c *Collector) appendPage(out *Collection, pg page, maxPages int) {
	out.Items = append(out.Items, pg.items...)
	out.Pages++
	if pg.total > 0 && out.Total == 0 {
		out.Total = pg.total
	}
	if c.progress == nil {
		return
	}
	fraction := 0.0
	switch {
	case out.Total > 0:
		fraction = float64(len(out.Items)) / float64(out.Total)
	case maxPages > 0:
		fraction = float64(out.Pages) / float64(maxPages+1)
	}
	if fraction > 0.99 {
		fraction = 0.99
	}
	c.progress(out.Label, len(out.Items), out.Total, fraction)
}

func (c *Collector) logStop(out Collection) {
	c.logger.Warn("collection stopped early",
		zap.String("label", out.Label),
		zap.Int("pages", out.Pages),
		zap.Int("items", len(out.Items)),
		zap.String("status", string(Classify(out.Err))),
		zap.Error(out.Err))
}

type page struct {
	items []json.RawMessage
	total int
	pages json.RawMessage
}

func decodePage(raw json.RawMessage, itemsKey string) (page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return page{}, fmt.Errorf("decode page: %w", err)
	}
	var pg page
	if itemsRaw, ok := envelope[itemsKey]; ok && !isNull(itemsRaw) {
		if err := json.Unmarshal(itemsRaw, &pg.items); err != nil {
			return page{}, fmt.Errorf("decode page %q: %w", itemsKey, err)
		}
	}
	if totalRaw, ok := envelope["total_count"]; ok {
		var total float64
		if json.Unmarshal(totalRaw, &total) == nil && total > 0 {
			pg.total = int(total)
		}
	}
	pg.pages = envelope["pages"]
	return pg, nil
}

// nextCursor reads pages.next.starting_after. Anything else means no more pages.
func (p page) nextCursor() (string, bool) {
	next := p.next()
	if next == nil {
		return "", false
	}
	var obj struct {
		StartingAfter *string `json:"starting_after"`
	}
	if err := json.Unmarshal(next, &obj); err != nil || obj.StartingAfter == nil {
		return "", false
	}
	cursor := strings.TrimSpace(*obj.StartingAfter)
	return cursor, cursor != ""
}

// nextURL reads pages.next as an absolute link.
func (p page) nextURL() (string, bool) {
	next := p.next()
	if next == nil {
		return "", false
	}
	var link string
	if err := json.Unmarshal(next, &link); err != nil {
		return "", false
	}
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return "", false
	}
	return link, true
}

func (p page) next() json.RawMessage {
	if len(p.pages) == 0 || isNull(p.pages) {
		return nil
	}
	var pages map[string]json.RawMessage
	if err := json.Unmarshal(p.pages, &pages); err != nil {
		return nil
	}
	next, ok := pages["next"]
	if !ok || isNull(next) {
		return nil
	}
	return next
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
