package entitystore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/mapping"
)

// DefaultBulkConcurrency bounds how many entities a bulk control call
// encodes and submits in parallel.
const DefaultBulkConcurrency = 16

// Submitter hands an encoded command batch off to the CAN Transport (the
// daemon passes the Transport itself). Kept narrow to avoid entitystore
// depending on the transport package directly.
type Submitter interface {
	Submit(ctx context.Context, result command.Result) error
}

// BulkOptions configures an ApplyBulk call.
type BulkOptions struct {
	// Concurrency bounds how many entities are processed in parallel;
	// zero uses DefaultBulkConcurrency.
	Concurrency int
	// IgnoreErrors controls whether further entities are still submitted
	// to the pool after an earlier one fails. Since processing is
	// concurrent, this is best-effort: entities already dispatched to a
	// worker when the first failure is observed still run. CAN writes
	// that already happened are never rolled back either way.
	IgnoreErrors bool
}

// Outcome is one entity's result from a bulk control call.
type Outcome struct {
	EntityID string
	Err      error
}

// BulkResult aggregates the outcome of an ApplyBulk call.
type BulkResult struct {
	Outcomes  []Outcome
	TotalTime time.Duration
}

var errSkippedAfterFailure = &command.Error{Failure: command.FailureInvalidParameter, Message: "skipped: an earlier entity in this batch failed and ignore_errors is false"}

// ApplyBulk encodes and submits cmd against every entity in entityIDs,
// with bounded parallelism, returning outcomes in the same order as the
// input. A failure to resolve a binding or encode/submit a command is
// reported per-entity and never aborts sibling entities already in
// flight.
func (s *Store) ApplyBulk(ctx context.Context, mp *mapping.Mapping, entityIDs []string, cmd command.Command, opts BulkOptions, sub Submitter) BulkResult {
	start := time.Now()
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}

	pool := pond.NewResultPool[Outcome](concurrency)
	group := pool.NewGroupContext(ctx)

	var failed atomic.Bool
	for _, id := range entityIDs {
		id := id
		if !opts.IgnoreErrors && failed.Load() {
			group.SubmitErr(func() (Outcome, error) {
				return Outcome{EntityID: id, Err: errSkippedAfterFailure}, nil
			})
			continue
		}
		group.SubmitErr(func() (Outcome, error) {
			err := s.applyOne(ctx, mp, id, cmd, sub)
			if err != nil && !opts.IgnoreErrors {
				failed.Store(true)
			}
			return Outcome{EntityID: id, Err: err}, nil
		})
	}

	outcomes, _ := group.Wait()
	return BulkResult{Outcomes: outcomes, TotalTime: time.Since(start)}
}

func (s *Store) applyOne(ctx context.Context, mp *mapping.Mapping, entityID string, cmd command.Command, sub Submitter) error {
	binding, ok := mp.ByEntityID(entityID)
	if !ok {
		return &command.Error{Failure: command.FailureUnknownEntity, Message: "entity " + entityID + " has no device binding"}
	}
	result, err := command.Encode(binding, cmd, s)
	if err != nil {
		return err
	}
	return sub.Submit(ctx, result)
}
