package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProviderLookup resolves the provider for a component type.
type ProviderLookup interface {
	Provider(componentType string) (Provider, bool)
}

// ExecutorMetrics receives execution counters. A nil implementation is
// allowed.
type ExecutorMetrics interface {
	RecordOperation(opType, outcome string)
	RecordRetry(opType string)
	ObserveOperationDuration(opType string, seconds float64)
}

// ExecutorOptions configures plan execution.
type ExecutorOptions struct {
	// MaxParallel caps concurrent provider calls. Defaults to 10.
	MaxParallel int

	// MaxAttempts caps attempts per operation, counting the first.
	// Defaults to 6.
	MaxAttempts int

	// OperationTimeout bounds each provider call. Defaults to 5m.
	OperationTimeout time.Duration
}

func (o *ExecutorOptions) applyDefaults() {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 5 * time.Minute
	}
}

// Executor applies a plan against providers. Operations with no
// dependency between them run in parallel; transient provider failures
// are retried with exponential backoff; dependents of a failed
// operation are blocked, and the final run enumerates every outcome.
type Executor struct {
	providers ProviderLookup
	store     StateStore
	metrics   ExecutorMetrics
	opts      ExecutorOptions
	logger    zerolog.Logger

	mu       sync.RWMutex
	opStatus map[string]OperationStatus
	results  map[string]*OperationResult
}

// NewExecutor creates an executor. store and metrics may be nil.
func NewExecutor(providers ProviderLookup, store StateStore, metrics ExecutorMetrics, opts ExecutorOptions, logger zerolog.Logger) *Executor {
	opts.applyDefaults()
	return &Executor{
		providers: providers,
		store:     store,
		metrics:   metrics,
		opts:      opts,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs every operation in the plan and returns the run record.
// Cancellation stops submitting new operations; in-flight provider
// calls finish and their results are recorded. Execute always returns a
// run; the error reports run-level failures such as a failed state
// save.
func (e *Executor) Execute(ctx context.Context, plan *Plan, graph *DependencyGraph) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		Status:    RunStatusApplying,
		StartedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.opStatus = make(map[string]OperationStatus, len(plan.Operations))
	e.results = make(map[string]*OperationResult, len(plan.Operations))
	for _, op := range plan.Operations {
		e.opStatus[op.ID] = OperationStatusPending
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveRun(ctx, run); err != nil {
			return run, fmt.Errorf("failed to save run: %w", err)
		}
	}

	levels, err := operationLevels(plan.Operations)
	if err != nil {
		run.Status = RunStatusFailed
		run.CompletedAt = time.Now().UTC()
		return run, err
	}

	cancelled := false
	for _, level := range levels {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		e.executeLevel(ctx, plan, graph, level)
	}

	e.finalizeRun(run, plan, cancelled)

	if e.store != nil {
		if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
			return run, fmt.Errorf("failed to save final run state: %w", err)
		}
	}

	e.logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("succeeded", run.Summary.Succeeded).
		Int("failed", run.Summary.Failed).
		Int("blocked", run.Summary.Blocked).
		Msg("Run finished")

	return run, nil
}

// executeLevel runs one level of operations through a worker pool.
func (e *Executor) executeLevel(ctx context.Context, plan *Plan, graph *DependencyGraph, opIDs []string) {
	workers := e.opts.MaxParallel
	if len(opIDs) < workers {
		workers = len(opIDs)
	}

	queue := make(chan *Operation, len(opIDs))
	for _, id := range opIDs {
		queue <- plan.Operation(id)
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range queue {
				if ctx.Err() != nil {
					e.markCancelled(op)
					continue
				}
				if failedDep := e.failedDependency(op); failedDep != "" {
					e.markBlocked(op, graph, failedDep)
					continue
				}
				e.executeOperation(ctx, op, graph)
			}
		}()
	}
	wg.Wait()
}

// executeOperation runs one operation with retry, records its result,
// and writes provider output back onto the instance.
func (e *Executor) executeOperation(ctx context.Context, op *Operation, graph *DependencyGraph) {
	e.setStatus(op, OperationStatusRunning)

	inst := graph.Instance(op.Component)
	if inst != nil {
		inst.Status = InstanceStatusApplying
	}

	result := &OperationResult{
		OperationID: op.ID,
		Component:   op.Component,
		Type:        op.Type,
		StartedAt:   time.Now().UTC(),
	}

	var desc *ResourceDescriptor
	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		callCtx, cancel := context.WithTimeout(ctx, e.opts.OperationTimeout)
		desc, lastErr = e.callProvider(callCtx, op, inst, graph)
		cancel()

		if lastErr == nil {
			break
		}
		if !IsRetryable(lastErr) {
			break
		}
		if attempt == e.opts.MaxAttempts {
			break
		}

		if e.metrics != nil {
			e.metrics.RecordRetry(string(op.Type))
		}

		backoff := retryBackoff(attempt)
		e.logger.Warn().
			Str("operation", op.ID).
			Str("instance", op.Component).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = NewPermanentError("execution cancelled", ctx.Err()).
				WithCode(ErrCodeTimeout).
				WithComponent(op.Component).
				WithOperation(string(op.Type))
			attempt = e.opts.MaxAttempts
		}
	}

	result.CompletedAt = time.Now().UTC()

	if lastErr != nil {
		result.Status = OperationStatusFailed
		result.Err = classifyExecutionError(lastErr, op)
		result.Error = result.Err.Error()
		e.setStatus(op, OperationStatusFailed)
		if inst != nil {
			inst.Status = InstanceStatusFailed
		}
		e.logger.Error().
			Str("operation", op.ID).
			Str("instance", op.Component).
			Str("type", string(op.Type)).
			Int("attempts", result.Attempts).
			Err(lastErr).
			Msg("Operation failed")
	} else {
		result.Status = OperationStatusSucceeded
		if desc != nil {
			result.ResourceID = desc.ID
			result.Props = desc.Props
			result.Links = desc.Links
		}
		e.setStatus(op, OperationStatusSucceeded)
		e.writeBack(ctx, op, inst, desc)
	}

	if e.metrics != nil {
		e.metrics.RecordOperation(string(op.Type), string(result.Status))
		e.metrics.ObserveOperationDuration(string(op.Type), result.Duration().Seconds())
	}

	e.storeResult(result)
}

// callProvider dispatches one attempt to the provider for the
// operation's component type.
func (e *Executor) callProvider(ctx context.Context, op *Operation, inst *ComponentInstance, graph *DependencyGraph) (*ResourceDescriptor, error) {
	prov, ok := e.providers.Provider(op.ComponentType)
	if !ok {
		return nil, NewPermanentError(
			fmt.Sprintf("no provider registered for %s", op.ComponentType), nil,
		).WithCode(ErrCodeProviderFailed).WithComponent(op.Component)
	}

	switch op.Type {
	case OperationNoop:
		// Refresh props so dependents and the report see current
		// outputs. A vanished resource means the plan is stale.
		desc, err := prov.Describe(ctx, op.ResourceID)
		if err != nil {
			return nil, err
		}
		return desc, nil

	case OperationCreate:
		fields, err := resolveReferences(inst, graph)
		if err != nil {
			return nil, err
		}
		return prov.Create(ctx, CreateRequest{
			ComponentType: op.ComponentType,
			Name:          op.Component,
			Fields:        fields,
			Tags:          op.TagsAdd,
		})

	case OperationUpdate:
		fields, err := resolveReferences(inst, graph)
		if err != nil {
			return nil, err
		}
		return prov.Update(ctx, UpdateRequest{
			ComponentType: op.ComponentType,
			ResourceID:    op.ResourceID,
			Fields:        fields,
			ChangedFields: op.ChangedFields,
			TagsAdd:       op.TagsAdd,
			TagsRemove:    op.TagsRemove,
		})

	case OperationDelete:
		err := prov.Delete(ctx, op.ResourceID)
		if err != nil && IsNotFound(err) {
			// Already gone.
			return nil, nil
		}
		return nil, err

	default:
		return nil, NewPermanentError(
			fmt.Sprintf("unknown operation type %s", op.Type), nil,
		).WithCode(ErrCodeInternal)
	}
}

// writeBack records provider output on the instance and persists it.
func (e *Executor) writeBack(ctx context.Context, op *Operation, inst *ComponentInstance, desc *ResourceDescriptor) {
	if inst == nil {
		return
	}

	switch op.Type {
	case OperationCreate, OperationUpdate, OperationNoop:
		if desc != nil {
			inst.ResourceID = desc.ID
			inst.Props = desc.Props
			inst.Links = desc.Links
		}
		inst.Status = InstanceStatusApplied
		if e.store != nil {
			if err := e.store.SaveInstance(context.WithoutCancel(ctx), inst); err != nil {
				e.logger.Error().Err(err).Str("instance", inst.Name).Msg("Failed to persist instance state")
			}
		}
	case OperationDelete:
		// The paired create, if any, re-provisions and persists. A
		// plain delete removes the record.
		if op.PairedWith == "" && e.store != nil {
			if err := e.store.DeleteInstance(context.WithoutCancel(ctx), inst.Name); err != nil {
				e.logger.Error().Err(err).Str("instance", inst.Name).Msg("Failed to remove instance state")
			}
		}
	}
}

// failedDependency returns the ID of a dependency that did not succeed,
// or empty when all dependencies succeeded.
func (e *Executor) failedDependency(op *Operation) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, dep := range op.DependsOn {
		if e.opStatus[dep] != OperationStatusSucceeded {
			return dep
		}
	}
	return ""
}

func (e *Executor) markBlocked(op *Operation, graph *DependencyGraph, failedDep string) {
	e.setStatus(op, OperationStatusBlocked)

	if inst := graph.Instance(op.Component); inst != nil {
		inst.Status = InstanceStatusFailed
	}

	engineErr := NewPermanentError("dependency did not succeed", nil).
		WithCode(ErrCodeDependencyFailed).
		WithComponent(op.Component).
		WithOperation(string(op.Type)).
		WithDetail("dependency", failedDep)

	now := time.Now().UTC()
	e.storeResult(&OperationResult{
		OperationID: op.ID,
		Component:   op.Component,
		Type:        op.Type,
		Status:      OperationStatusBlocked,
		Err:         engineErr,
		Error:       engineErr.Error(),
		StartedAt:   now,
		CompletedAt: now,
	})
}

func (e *Executor) markCancelled(op *Operation) {
	e.setStatus(op, OperationStatusCancelled)

	now := time.Now().UTC()
	e.storeResult(&OperationResult{
		OperationID: op.ID,
		Component:   op.Component,
		Type:        op.Type,
		Status:      OperationStatusCancelled,
		Error:       "run cancelled before operation started",
		StartedAt:   now,
		CompletedAt: now,
	})
}

// finalizeRun marks unexecuted operations cancelled, collects results
// in plan order, and settles the run status.
func (e *Executor) finalizeRun(run *Run, plan *Plan, cancelled bool) {
	e.mu.Lock()
	for _, op := range plan.Operations {
		if e.opStatus[op.ID] == OperationStatusPending {
			e.opStatus[op.ID] = OperationStatusCancelled
			now := time.Now().UTC()
			e.results[op.ID] = &OperationResult{
				OperationID: op.ID,
				Component:   op.Component,
				Type:        op.Type,
				Status:      OperationStatusCancelled,
				Error:       "run cancelled before operation started",
				StartedAt:   now,
				CompletedAt: now,
			}
			cancelled = true
		}
	}

	for _, op := range plan.Operations {
		if result, ok := e.results[op.ID]; ok {
			run.Results = append(run.Results, result)
		}
	}
	e.mu.Unlock()

	for _, result := range run.Results {
		switch result.Status {
		case OperationStatusSucceeded:
			run.Summary.Succeeded++
		case OperationStatusFailed:
			run.Summary.Failed++
		case OperationStatusBlocked:
			run.Summary.Blocked++
		case OperationStatusCancelled:
			run.Summary.Cancelled++
		}
	}

	run.CompletedAt = time.Now().UTC()

	switch {
	case cancelled:
		run.Status = RunStatusCancelled
	case run.Summary.Failed == 0 && run.Summary.Blocked == 0:
		run.Status = RunStatusSucceeded
	case run.Summary.Succeeded > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusFailed
	}
}

func (e *Executor) setStatus(op *Operation, status OperationStatus) {
	e.mu.Lock()
	e.opStatus[op.ID] = status
	e.mu.Unlock()
	op.Status = status
}

func (e *Executor) storeResult(result *OperationResult) {
	e.mu.Lock()
	e.results[result.OperationID] = result
	e.mu.Unlock()
}

// resolveReferences returns a copy of the instance's fields with every
// reference token replaced by the referenced instance's identifying
// prop.
func resolveReferences(inst *ComponentInstance, graph *DependencyGraph) (map[string]interface{}, error) {
	if inst == nil {
		return nil, NewPermanentError("operation has no instance", nil).WithCode(ErrCodeInternal)
	}
	if len(inst.References) == 0 {
		return inst.Fields, nil
	}

	value, err := substituteValue(inst, "", inst.Fields, graph, true)
	if err != nil {
		return nil, err
	}
	return value.(map[string]interface{}), nil
}

// ResolvedFields returns a copy of the instance's fields with every
// reference token whose target has a known resource identity replaced
// by that identity. Tokens that cannot be resolved yet stay as written.
func ResolvedFields(inst *ComponentInstance, graph *DependencyGraph) map[string]interface{} {
	if inst == nil {
		return nil
	}
	if len(inst.References) == 0 {
		return inst.Fields
	}
	value, err := substituteValue(inst, "", inst.Fields, graph, false)
	if err != nil {
		return inst.Fields
	}
	return value.(map[string]interface{})
}

// substituteValue walks a field value replacing reference tokens with
// the referenced instance's identifying value. When strict, a target
// with no identity yet is an error; otherwise the token is kept as
// written.
func substituteValue(inst *ComponentInstance, path string, value interface{}, graph *DependencyGraph, strict bool) (interface{}, error) {
	switch v := value.(type) {
	case string:
		ref := findReference(inst, path)
		if ref == nil {
			return v, nil
		}
		target := graph.Instance(ref.Target)
		resolved := referenceValue(target)
		if resolved == "" {
			if strict {
				return nil, NewPermanentError(
					fmt.Sprintf("referenced instance %s has no resource identity yet", ref.Target), nil,
				).WithCode(ErrCodeUnresolvedReference).WithComponent(inst.Name)
			}
			return v, nil
		}
		return resolved, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := substituteValue(inst, fmt.Sprintf("%s[%d]", path, i), item, graph, strict)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			resolved, err := substituteValue(inst, childPath, item, graph, strict)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func findReference(inst *ComponentInstance, path string) *Reference {
	for i := range inst.References {
		if inst.References[i].Field == path {
			return &inst.References[i]
		}
	}
	return nil
}

// referenceValue picks the identifying value a reference resolves to:
// the target's id prop, then arn, then its resource ID.
func referenceValue(target *ComponentInstance) string {
	if target == nil {
		return ""
	}
	if id, ok := target.Props["id"].(string); ok && id != "" {
		return id
	}
	if arn, ok := target.Props["arn"].(string); ok && arn != "" {
		return arn
	}
	return target.ResourceID
}

// classifyExecutionError wraps a provider error with operation context,
// converting a not-found during update into a drift replan
// recommendation.
func classifyExecutionError(err error, op *Operation) *EngineError {
	var engineErr *EngineError

	if IsNotFound(err) && (op.Type == OperationUpdate || op.Type == OperationNoop) {
		return NewNotFoundError("resource drifted since plan; run plan again", err).
			WithCode(ErrCodeDriftReplan).
			WithComponent(op.Component).
			WithOperation(string(op.Type))
	}

	if errors.As(err, &engineErr) {
		if engineErr.Component == "" {
			engineErr.Component = op.Component
		}
		if engineErr.Operation == "" {
			engineErr.Operation = string(op.Type)
		}
		return engineErr
	}

	return NewPermanentError("provider call failed", err).
		WithCode(ErrCodeProviderFailed).
		WithComponent(op.Component).
		WithOperation(string(op.Type))
}

// operationLevels orders operations with Kahn's algorithm over their
// dependency edges. Operations in the same level are independent.
func operationLevels(ops []*Operation) ([][]string, error) {
	index := make(map[string]*Operation, len(ops))
	dependents := make(map[string][]string, len(ops))
	inDegree := make(map[string]int, len(ops))

	for _, op := range ops {
		index[op.ID] = op
		inDegree[op.ID] = 0
	}
	for _, op := range ops {
		for _, dep := range op.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, NewPermanentError(
					fmt.Sprintf("operation %s depends on unknown operation %s", op.ID, dep), nil,
				).WithCode(ErrCodeInternal)
			}
			dependents[dep] = append(dependents[dep], op.ID)
			inDegree[op.ID]++
		}
	}

	var current []string
	for _, op := range ops {
		if inDegree[op.ID] == 0 {
			current = append(current, op.ID)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(ops) {
		return nil, NewPermanentError("operation dependencies contain a cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return levels, nil
}

// retryBackoff computes exponential backoff with jitter for the given
// attempt number, starting at one second and capped at thirty.
func retryBackoff(attempt int) time.Duration {
	delay := time.Second * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay - delay/8 + jitter
}
