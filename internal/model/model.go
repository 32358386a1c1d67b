// Package model holds the data types shared across Cookie Monster's core
// components: updates arriving from the external source, the enrichments
// derived from them, the accumulated per-file cookie, its queue record, and
// the pluggable rule/loader/receiver types that the processor pool drives.
package model

import "time"

// Update is a single change notification produced by an UpdateSource and
// consumed by the Cookie Jar as an Enrichment.
type Update struct {
	Target    string
	Timestamp time.Time
	Metadata  map[string]any
}

// Enrichment is an immutable addition to a cookie's history, tagged by the
// source that produced it. Enrichments are totally ordered within a cookie
// by Timestamp, ties broken by insertion order.
type Enrichment struct {
	Source    string
	Timestamp time.Time
	Metadata  map[string]any
}

// Cookie is the accumulated metadata record for one file, identified by an
// opaque string. Enrichments must be retrievable in chronological order.
type Cookie struct {
	Identifier  string
	Enrichments []Enrichment
}

// QueueRecord is the per-cookie processing state. The invariants from
// spec.md §3 hold throughout: Processing implies !Dirty && QueueFrom is
// zero; Dirty implies QueueFrom is set.
type QueueRecord struct {
	Identifier string
	Dirty      bool
	Processing bool
	QueueFrom  time.Time
}

// Ready reports whether the record is eligible for dispatch: dirty, not
// processing, and due.
func (r QueueRecord) Ready(now time.Time) bool {
	return r.Dirty && !r.Processing && !r.QueueFrom.After(now)
}

// RetrievalLog is an append-only record of one retrieval cycle.
type RetrievalLog struct {
	RetrievedSince time.Time
	Count          int
	Duration       time.Duration
	StartedAt      time.Time
}

// Notification is emitted by a Rule's RuleAction and delivered to every
// registered NotificationReceiver.
type Notification struct {
	About  string
	Sender string
	Data   any
}

// RuleAction is the outcome of a matching Rule: zero or more notifications,
// and whether the pipeline should stop evaluating further rules.
type RuleAction struct {
	Notifications []Notification
	Terminate     bool
}

// Rule is a single pipeline stage. Rules are ordered by descending Priority,
// ties broken by ID. Matches/Generate return an error when the underlying
// plug-in call fails (e.g. a JS exception); per §4.5 that error must cause
// the cookie to be marked as failed, not be treated as a non-match.
type Rule struct {
	ID       string
	Priority int
	Matches  func(cookie Cookie, ctx Context) (bool, error)
	Generate func(cookie Cookie, ctx Context) (RuleAction, error)
}

// EnrichmentLoader produces the next Enrichment for a cookie that no rule
// could classify. Loaders are ordered by descending Priority; the first
// whose CanEnrich returns true is used. CanEnrich/Load return an error when
// the underlying plug-in call fails, which §4.5 requires be treated the
// same as any other rule/loader runtime error.
type EnrichmentLoader struct {
	ID        string
	Priority  int
	CanEnrich func(cookie Cookie, ctx Context) (bool, error)
	Load      func(cookie Cookie, ctx Context) (Enrichment, error)
}

// NotificationReceiver receives every notification emitted by the rule
// pipeline; filtering by "About"/"Sender" is the receiver's own
// responsibility.
type NotificationReceiver struct {
	ID       string
	Priority int
	Receive  func(notification Notification, ctx Context)
}

// Context is the read-only bag of component references injected into every
// registered Rule/EnrichmentLoader/NotificationReceiver before it is
// published, per spec.md §4.4. It is a plain struct of interfaces so the
// registry package never needs to import the concrete cookiejar package.
type Context struct {
	CookieJar CookieJarView
}

// CookieJarView is the subset of the Cookie Jar that plug-ins are allowed to
// see. It deliberately excludes GetNextForProcessing and the queue-mutating
// operations that only the processor pool should call.
type CookieJarView interface {
	FetchCookie(id string) (*Cookie, bool)
}
