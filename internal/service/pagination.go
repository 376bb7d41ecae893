package service

// DefaultPageSize is the first page size and the "load more" increment
const DefaultPageSize = 30

// Paginator owns the page size of one gallery session. It is not safe for
// concurrent use; the session serializes access.
type Paginator struct {
	defaultSize int
	increment   int
	pageSize    int
}

// NewPaginator creates a paginator starting at defaultSize, which is also the
// increment. A non-positive size falls back to DefaultPageSize.
func NewPaginator(defaultSize int) *Paginator {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	return &Paginator{
		defaultSize: defaultSize,
		increment:   defaultSize,
		pageSize:    defaultSize,
	}
}

// PageSize returns the current page size
func (p *Paginator) PageSize() int {
	return p.pageSize
}

// Increment returns the "load more" step
func (p *Paginator) Increment() int {
	return p.increment
}

// LoadMore grows the page size by one increment and returns it
func (p *Paginator) LoadMore() int {
	p.pageSize += p.increment
	return p.pageSize
}

// Reset restores the default page size
func (p *Paginator) Reset() {
	p.pageSize = p.defaultSize
}

// HasMore reports whether more tokens may exist after a response of returned
// rows for a request of pageSize rows. A short page means the end was
// reached. A result set that is an exact multiple costs one extra empty page.
func HasMore(returned, pageSize int) bool {
	if pageSize <= 0 {
		return false
	}
	return returned%pageSize == 0
}
