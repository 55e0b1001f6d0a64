package consensus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/backends"
	"github.com/concordlab/concord/internal/fusion"
	"github.com/concordlab/concord/internal/judge"
	"github.com/concordlab/concord/internal/metrics"
	"github.com/concordlab/concord/internal/provenance"
)

// Orchestrator drives consensus rounds: dispatch the pool in parallel, fuse
// the successes, judge convergence, update provenance, and loop until the
// pool stabilizes or the round budget runs out.
//
// One Run call is a single logical flow and owns its provenance state
// exclusively. The orchestrator itself is stateless between runs, so a
// single instance may serve concurrent Run calls.
type Orchestrator struct {
	backend backends.ModelBackend
	judge   judge.Judge
	emitter Emitter
	logger  *zap.Logger
	seedFn  func() int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJudge replaces the default exact-equality judge.
func WithJudge(j judge.Judge) Option {
	return func(o *Orchestrator) { o.judge = j }
}

// WithEmitter installs an event emitter for streaming and audit.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithTimeSeed replaces the provenance time seed source. The default is the
// wall clock at Run start; tests fix the seed to make runs bit-identical.
func WithTimeSeed(fn func() int64) Option {
	return func(o *Orchestrator) { o.seedFn = fn }
}

// New creates an orchestrator over the given backend.
func New(backend backends.ModelBackend, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		judge:   judge.Exact{},
		emitter: NopEmitter{},
		logger:  logger,
		seedFn:  func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full round loop for one request. Backend failures never
// surface as errors; only a malformed request does. A run in which every
// round lost every backend still returns a Result, with TotalFailure set
// and FinalText equal to TotalFailureText.
//
// With deterministic backends and a fixed time seed the Result is
// reproducible except for RunID, which is freshly generated per run.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	maxRounds := req.maxRounds()
	tracker := provenance.NewTracker(len(req.Prompt), o.seedFn())

	metrics.RunsStarted.Inc()
	metrics.RunsActive.Inc()
	start := time.Now()
	defer func() {
		metrics.RunsActive.Dec()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	o.logger.Info("Consensus run started",
		zap.String("run_id", runID),
		zap.Strings("models", req.ModelPool),
		zap.Int("max_rounds", maxRounds),
	)
	o.emit(ctx, Event{RunID: runID, Type: EventRunStarted, Message: strings.Join(req.ModelPool, ",")})

	var (
		contextPrompt = req.Prompt
		previousFused = ""
		lastFused     fusion.FusedRound
		lastRanked    []fusion.Ranked
		converged     bool
		anySuccess    bool
		rounds        int
	)

	for round := 0; round < maxRounds; round++ {
		rounds = round + 1

		attempts := o.dispatch(ctx, runID, round, contextPrompt, req.ModelPool)

		candidates := make([]fusion.Candidate, 0, len(attempts))
		for _, a := range attempts {
			if a.Failed() {
				continue
			}
			candidates = append(candidates, fusion.Candidate{ModelID: a.ModelID, Text: a.Text})
		}

		fused := fusion.Fuse(round, candidates)
		o.emit(ctx, Event{RunID: runID, Type: EventRoundFused, Round: round,
			Message: fused.FusedText})
		if len(candidates) > 0 {
			anySuccess = true
			lastRanked = fusion.Rank(candidates)
		} else {
			o.logger.Warn("Round produced no successful outcomes",
				zap.String("run_id", runID),
				zap.Int("round", round),
			)
		}

		verdict := o.judge.Judge(previousFused, fused.FusedText)
		tracker.RecordRound(verdict.Converged, fused.FusedText)
		o.emit(ctx, Event{RunID: runID, Type: EventRoundJudged, Round: round,
			Message: verdictMessage(verdict)})

		lastFused = fused
		if verdict.Converged {
			converged = true
			metrics.ConvergenceRounds.Observe(float64(round))
			break
		}
		if round+1 == maxRounds {
			break
		}

		// Carry the fused output forward as extra context for the next
		// round. An all-failed round has nothing to carry.
		if fused.FusedText != "" {
			contextPrompt = contextPrompt + "\n\n" + fused.FusedText
		}
		previousFused = fused.FusedText
	}

	result := &Result{
		RunID:            runID,
		FinalText:        lastFused.FusedText,
		Converged:        converged,
		RoundsExecuted:   rounds,
		RankedCandidates: lastRanked,
		Provenance:       tracker.Snapshot(),
	}
	if !anySuccess {
		result.TotalFailure = true
		result.FinalText = TotalFailureText
	}

	metrics.RoundsExecuted.Observe(float64(rounds))
	metrics.RunsCompleted.WithLabelValues(runStatus(result)).Inc()
	o.logger.Info("Consensus run completed",
		zap.String("run_id", runID),
		zap.Bool("converged", result.Converged),
		zap.Bool("total_failure", result.TotalFailure),
		zap.Int("rounds", result.RoundsExecuted),
	)
	o.emit(ctx, Event{RunID: runID, Type: EventRunCompleted, Round: rounds - 1,
		Message: runStatus(result)})

	return result, nil
}

// dispatch fans the prompt out to every pool member concurrently and waits
// for all of them to settle. Outcomes are returned in pool order, never
// completion order, so fused text is deterministic given deterministic
// backends. A failure never cancels the sibling invocations.
func (o *Orchestrator) dispatch(ctx context.Context, runID string, round int, prompt string, pool []string) []RoundAttempt {
	attempts := make([]RoundAttempt, len(pool))
	var wg sync.WaitGroup
	for i, modelID := range pool {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			text, err := o.backend.Invoke(ctx, modelID, prompt)
			if err != nil {
				attempts[i] = RoundAttempt{ModelID: modelID, Err: err.Error()}
				o.emit(ctx, Event{RunID: runID, Type: EventBackendFailure, Round: round,
					ModelID: modelID, Message: err.Error()})
				return
			}
			attempts[i] = RoundAttempt{ModelID: modelID, Text: text}
			o.emit(ctx, Event{RunID: runID, Type: EventBackendResult, Round: round,
				ModelID: modelID})
		}(i, modelID)
	}
	wg.Wait()
	return attempts
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.emitter.Emit(ctx, ev)
}

func verdictMessage(v judge.Verdict) string {
	if v.Converged {
		return "converged"
	}
	return "diverged"
}

func runStatus(r *Result) string {
	switch {
	case r.TotalFailure:
		return metrics.StatusTotalFailure
	case r.Converged:
		return metrics.StatusConverged
	default:
		return metrics.StatusExhausted
	}
}
