package model

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Customer is the subset of the ordering user shown in the console.
type Customer struct {
	Name string `json:"name"`
}

// Order is one print order as returned by the cleanup listing.
// Files is kept raw because the console only ever counts it.
type Order struct {
	ID            string            `json:"_id"`
	User          *Customer         `json:"user,omitempty"`
	PaymentStatus string            `json:"paymentStatus"`
	CreatedAt     time.Time         `json:"createdAt"`
	Files         []json.RawMessage `json:"files"`
	FilesDeleted  bool              `json:"filesDeleted"`
}

// ShortID returns the last six characters of the ID, upper-cased.
func (o Order) ShortID() string {
	id := o.ID
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return strings.ToUpper(id)
}

// CustomerName returns the customer's name or "N/A".
func (o Order) CustomerName() string {
	if o.User == nil || o.User.Name == "" {
		return "N/A"
	}
	return o.User.Name
}

// AgeDays returns whole days elapsed since the order was created.
func (o Order) AgeDays(now time.Time) int {
	if o.CreatedAt.IsZero() || now.Before(o.CreatedAt) {
		return 0
	}
	return int(now.Sub(o.CreatedAt) / (24 * time.Hour))
}

// IsStale reports whether the order is at least staleAfter old.
func (o Order) IsStale(now time.Time, staleAfter time.Duration) bool {
	if o.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(o.CreatedAt) >= staleAfter
}

// FileCount returns the number of files attached to the order.
func (o Order) FileCount() int {
	return len(o.Files)
}

// OrderPage is one page of the cleanup listing.
type OrderPage struct {
	Orders      []Order `json:"orders"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
	TotalOrders int     `json:"totalOrders"`
}

// Normalize fills the defaults the backend may omit.
func (p OrderPage) Normalize() OrderPage {
	if p.Orders == nil {
		p.Orders = []Order{}
	}
	if p.TotalPages < 1 {
		p.TotalPages = 1
	}
	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	if p.TotalOrders < 0 {
		p.TotalOrders = 0
	}
	return p
}

// ListQuery identifies one page request. It doubles as the page token
// that refresh results are keyed to.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
}

// Values encodes the query for the listing endpoint.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(max(q.Page, 1)))
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("search", q.Search)
	return v
}

// Key returns a stable identity for the query.
func (q ListQuery) Key() string {
	return q.Values().Encode()
}
