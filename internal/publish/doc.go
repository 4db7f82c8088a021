// Package publish delivers catalog events to downstream consumers through a
// persistent outbox. Messages are enqueued in the same store that holds the
// catalog, then pushed over a transport with exponential-backoff retries and
// consumer acknowledgment tracking, so deliveries survive process restarts.
package publish
