package authentik

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/models"
)

// UserIterator walks the users endpoint one page at a time. It is finite and
// single-pass: the walk ends when a page carries no next cursor, and any
// error ends it for good. Use it like bufio.Scanner:
//
//	it := client.Users(ctx)
//	for it.Next() {
//		rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type UserIterator struct {
	client *Client
	ctx    context.Context

	next  *url.URL // nil once the provider stops returning a cursor
	seen  map[string]struct{}
	buf   []models.UserRecord
	pos   int
	cur   models.UserRecord
	pages int
	err   error
}

// Next advances to the next record, fetching pages as needed
func (it *UserIterator) Next() bool {
	for it.pos >= len(it.buf) {
		if it.err != nil || it.next == nil {
			return false
		}
		it.fetch()
	}

	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

// Record returns the record Next advanced to
func (it *UserIterator) Record() models.UserRecord {
	return it.cur
}

// Err returns the error that stopped the walk, nil on a clean end of stream
func (it *UserIterator) Err() error {
	return it.err
}

// Pages returns how many pages were fetched so far
func (it *UserIterator) Pages() int {
	return it.pages
}

func (it *UserIterator) fetch() {
	current := it.next
	it.buf, it.pos = nil, 0

	p, err := it.client.getPage(it.ctx, current)
	if err != nil {
		it.fail(err)
		return
	}
	it.pages++

	recs, err := p.records(it.pages)
	if err != nil {
		it.fail(err)
		return
	}
	it.buf = recs

	it.client.log.Debug("Fetched page", "page", it.pages, "users", len(recs), "has_next", p.Next != nil)

	if p.Next == nil {
		it.next = nil
		return
	}
	cursor := *p.Next
	if cursor == "" {
		it.fail(errors.Wrapf(models.ErrFetchFailed, "page %d has an empty next cursor", it.pages))
		return
	}

	next, err := current.Parse(cursor)
	if err != nil {
		it.fail(errors.Wrapf(models.ErrFetchFailed, "invalid next cursor %q: %v", cursor, err))
		return
	}
	if _, ok := it.seen[next.String()]; ok {
		it.fail(errors.Wrapf(models.ErrFetchFailed, "next cursor %s points to an already fetched page", next.Redacted()))
		return
	}
	it.seen[next.String()] = struct{}{}
	it.next = next
}

// fail stops the walk and drops whatever the current page held
func (it *UserIterator) fail(err error) {
	it.err = err
	it.buf, it.pos = nil, 0
	it.next = nil
}
