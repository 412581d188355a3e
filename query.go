package sumatra

import (
	"time"

	"github.com/timtroendle/sumatra/internal/store"
)

type Order string

const (
	Ascend  Order = "ASC"
	Descend Order = "DESC"
)

// Query narrows down record listings. Zero value matches every record of
// the project, in ascending label order.
type Query struct {
	order       Order
	labelPrefix string
	tags        []string
	since       time.Time
	until       time.Time
}

func Q() *Query {
	return &Query{order: Ascend}
}

func (q *Query) Order(o Order) *Query {
	q.order = o
	return q
}

// LabelPrefix keeps records whose label starts with the given segments.
func (q *Query) LabelPrefix(p string) *Query {
	q.labelPrefix = p
	return q
}

// WithTags keeps records carrying all the given tags.
func (q *Query) WithTags(tags ...string) *Query {
	q.tags = append(q.tags, tags...)
	return q
}

// Since keeps records started at or after t.
func (q *Query) Since(t time.Time) *Query {
	q.since = t
	return q
}

// Until keeps records started at or before t.
func (q *Query) Until(t time.Time) *Query {
	q.until = t
	return q
}

func (q *Query) scanOptions(project string) store.ScanOptions {
	// the trailing separator keeps the project segment exact, so that
	// "alpha" never sweeps up records of "alphabet"
	opts := store.ScanOptions{Prefix: project + ":"}
	if q.labelPrefix != "" {
		opts.Prefix = project + ":" + q.labelPrefix
	}

	if q.order == Descend {
		opts.Order = store.Descend
	} else {
		opts.Order = store.Ascend
	}

	for _, tag := range q.tags {
		opts.Filters = append(opts.Filters, store.Eq(tag, true))
	}

	if !q.since.IsZero() {
		opts.Filters = append(opts.Filters, store.Gte(tsTag, unixOf(q.since)))
	}

	if !q.until.IsZero() {
		opts.Filters = append(opts.Filters, store.Lte(tsTag, unixOf(q.until)))
	}

	return opts
}
