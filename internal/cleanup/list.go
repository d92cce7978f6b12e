package cleanup

import (
	"context"
	"sync"

	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"golang.org/x/sync/singleflight"
)

// ListResult is the outcome of fetching one page, tagged with the query
// that produced it.
type ListResult struct {
	Query model.ListQuery
	Page  model.OrderPage
	Err   error
}

// ListSnapshot is the list state a view renders.
type ListSnapshot struct {
	Query  model.ListQuery
	Page   model.OrderPage
	Err    error
	Loaded bool
}

// ListController owns the current page, limit and search term and decides
// which fetch results are still worth showing.
type ListController struct {
	lister model.OrderLister
	logger core.Logger
	group  singleflight.Group

	mu      sync.Mutex
	query   model.ListQuery
	page    model.OrderPage
	err     error
	loaded  bool
	deleted map[string]struct{}
}

// NewListController starts at page 1 with an empty search.
func NewListController(lister model.OrderLister, pageSize int, logger core.Logger) *ListController {
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	if logger == nil {
		logger = mtlog.New()
	}
	return &ListController{
		lister:  lister,
		logger:  logger,
		query:   model.ListQuery{Page: 1, Limit: pageSize},
		page:    model.OrderPage{}.Normalize(),
		deleted: make(map[string]struct{}),
	}
}

// Query returns the current query.
func (c *ListController) Query() model.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// SetPage moves to page n, clamped to the known page range. It reports
// false when that is the page already shown.
func (c *ListController) SetPage(n int) (model.ListQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.query.Page
	c.query.Page = clamp(n, 1, c.page.TotalPages)
	return c.query, c.query.Page != prev
}

// NextPage advances one page. It reports false when already on the last.
func (c *ListController) NextPage() (model.ListQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query.Page >= c.page.TotalPages {
		return c.query, false
	}
	c.query.Page++
	return c.query, true
}

// PrevPage goes back one page. It reports false when already on the first.
func (c *ListController) PrevPage() (model.ListQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query.Page <= 1 {
		return c.query, false
	}
	c.query.Page--
	return c.query, true
}

// SetSearch changes the search term and returns to page 1.
func (c *ListController) SetSearch(search string) model.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query.Search = search
	c.query.Page = 1
	return c.query
}

// Fetch loads the page for q. Concurrent fetches of the same query share
// one backend call.
func (c *ListController) Fetch(ctx context.Context, q model.ListQuery) ListResult {
	return c.do(ctx, q)
}

// Refresh loads the page for q after a change on the backend. It never
// joins a fetch that was already in flight, since that call may have read
// the state from before the change.
func (c *ListController) Refresh(ctx context.Context, q model.ListQuery) ListResult {
	c.group.Forget(q.Key())
	return c.do(ctx, q)
}

func (c *ListController) do(ctx context.Context, q model.ListQuery) ListResult {
	v, err, shared := c.group.Do(q.Key(), func() (interface{}, error) {
		return c.lister.ListOrdersForDeletion(ctx, q)
	})
	if shared {
		c.logger.Debug("Coalesced list fetch for {Query}", q.Key())
	}
	if err != nil {
		c.logger.Warning("Loading orders for {Query} failed: {Error}", q.Key(), err)
		return ListResult{Query: q, Err: err}
	}
	return ListResult{Query: q, Page: v.(model.OrderPage).Normalize()}
}

// Apply stores r if it answers the current query. Results for a query the
// view has since moved away from are dropped and Apply returns false.
// Orders marked deleted stay deleted whatever a late result says.
func (c *ListController) Apply(r ListResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Query != c.query {
		c.logger.Debug("Dropped stale list result for {Query}", r.Query.Key())
		return false
	}
	if r.Err != nil {
		c.err = r.Err
		return true
	}
	c.page = r.Page
	c.page.Orders = append([]model.Order(nil), r.Page.Orders...)
	for i := range c.page.Orders {
		if _, gone := c.deleted[c.page.Orders[i].ID]; gone {
			c.page.Orders[i].FilesDeleted = true
		}
	}
	c.err = nil
	c.loaded = true
	return true
}

// Snapshot returns a copy of the list state.
func (c *ListController) Snapshot() ListSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	page := c.page
	page.Orders = append([]model.Order(nil), c.page.Orders...)
	return ListSnapshot{Query: c.query, Page: page, Err: c.err, Loaded: c.loaded}
}

// MarkDeleted flags an order's files as deleted in the cached page, so the
// view reflects a commit before the refresh lands. It reports whether the
// order is on the cached page.
func (c *ListController) MarkDeleted(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleted[orderID] = struct{}{}

	for i := range c.page.Orders {
		if c.page.Orders[i].ID == orderID {
			c.page.Orders[i].FilesDeleted = true
			return true
		}
	}
	return false
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(n, lo), hi)
}
