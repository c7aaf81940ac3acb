// Package pipeline implements the gateway's per-request admission
// control (spec.md §4.6): request-id assignment, model allow/block-list
// enforcement, model_map substitution, and the inflight semaphore.
// Metric, span, and audit emission are the caller's job (the server
// package), since this package has no opinion on HTTP/OTel wiring —
// it only decides admit-or-reject and hands back the guard that must
// be released when the request ends.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Luji7/llm-gateway/internal/apperror"
	"github.com/Luji7/llm-gateway/internal/modelrules"
)

var requestCounter uint64

// NextRequestID assigns "req-<unix_ms>-<counter>" where counter is a
// process-wide monotonic integer starting at 1, per spec.md §4.6 step 1.
func NextRequestID() string {
	seq := atomic.AddUint64(&requestCounter, 1)
	return fmt.Sprintf("req-%d-%d", time.Now().UnixMilli(), seq)
}

// Inflight bounds the number of concurrently-dispatched requests.
type Inflight struct {
	sem   *semaphore.Weighted
	count atomic.Int64
}

// NewInflight creates a semaphore with capacity slots.
func NewInflight(capacity int) *Inflight {
	return &Inflight{sem: semaphore.NewWeighted(int64(capacity))}
}

// InflightGuard releases its semaphore slot and decrements the gauge
// source exactly once, on Release. The zero value is not usable;
// always obtain one via Inflight.Acquire.
type InflightGuard struct {
	inflight *Inflight
}

// Release returns the slot. Safe to call at most once per guard.
func (g *InflightGuard) Release() {
	g.inflight.count.Add(-1)
	g.inflight.sem.Release(1)
}

// Acquire takes one slot without blocking. Returns rate_limit_error
// "too many in-flight requests" when none is available, per spec.md
// §4.6 step 5.
func (i *Inflight) Acquire(ctx context.Context) (*InflightGuard, *apperror.Error) {
	if !i.sem.TryAcquire(1) {
		return nil, apperror.RateLimited("too many in-flight requests")
	}
	i.count.Add(1)
	return &InflightGuard{inflight: i}, nil
}

// Count returns the current number of held slots, the gauge source for
// the inflight metric.
func (i *Inflight) Count() int64 {
	return i.count.Load()
}

// Admission is the per-request decision computed from steps 2-4 of
// spec.md §4.6: model presence, allow/block-list, and (translate mode
// only) model_map substitution.
type Admission struct {
	// Model is the model to actually dispatch with: substituted in
	// translate mode, unchanged in pass-through mode.
	Model string
	// OriginalModel is the model as the client requested it, before
	// any model_map substitution — used for span/log attribution.
	OriginalModel string
}

// Admit validates model and applies rules. translateMode controls
// whether model_map substitution is applied (pass-through leaves the
// forwarded body's model untouched).
func Admit(model string, rules *modelrules.Rules, translateMode bool) (*Admission, *apperror.Error) {
	if model == "" {
		return nil, apperror.InvalidRequest("model is required")
	}
	if ok, reason := rules.Allowed(model); !ok {
		return nil, apperror.InvalidRequest(reason)
	}

	dispatchModel := model
	if translateMode {
		dispatchModel = rules.Substitute(model)
	}
	return &Admission{Model: dispatchModel, OriginalModel: model}, nil
}
