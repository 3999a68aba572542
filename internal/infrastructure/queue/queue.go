// Package queue provides the delayed job queue that drives the poll loop and
// webhook deliveries. A job is identified by its key (kind:id); enqueueing a
// key that is already pending keeps a single entry due at the earlier time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the handler a job is routed to
type Kind string

const (
	KindPoll    Kind = "poll"
	KindWebhook Kind = "webhook"
)

// ErrClosed is returned when enqueueing on a closed queue
var ErrClosed = errors.New("queue closed")

// Job is one unit of scheduled work
type Job struct {
	Kind Kind
	ID   string
}

// Key returns the deduplication key of the job
func (j Job) Key() string {
	return string(j.Kind) + ":" + j.ID
}

// NewPollJob runs one poll cycle for an address
func NewPollJob(addressID uuid.UUID) Job {
	return Job{Kind: KindPoll, ID: addressID.String()}
}

// NewWebhookJob delivers the webhook of a stored transaction
func NewWebhookJob(transactionID uuid.UUID) Job {
	return Job{Kind: KindWebhook, ID: transactionID.String()}
}

// ParseKey reverses Key
func ParseKey(key string) (Job, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || kind == "" || id == "" {
		return Job{}, fmt.Errorf("malformed job key %q", key)
	}
	return Job{Kind: Kind(kind), ID: id}, nil
}

// Queue schedules jobs for later execution and hands due jobs to consumers
type Queue interface {
	// Enqueue schedules job to become due after delay
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
	// Jobs delivers due jobs. The channel is never closed; consumers stop on their own context.
	Jobs() <-chan Job
	// Start begins moving due jobs onto the Jobs channel
	Start(ctx context.Context) error
	// Pending returns the number of scheduled, not yet due jobs
	Pending(ctx context.Context) (int, error)
	Close() error
}
