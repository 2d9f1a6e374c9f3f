package service

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Guardrail sentinel errors
var (
	ErrTokenBudgetExceeded = fmt.Errorf("token budget exceeded")
	ErrTimeBudgetExceeded  = fmt.Errorf("run time budget exceeded")
	ErrContextOverflow     = fmt.Errorf("context window overflow")
)

// CostGuard prevents token/time budget overruns.
// Thread-safe — can be safely read from multiple goroutines.
type CostGuard struct {
	maxTokens     int64
	currentTokens atomic.Int64
	maxDuration   time.Duration
	startTime     time.Time
	logger        *zap.Logger
}

// NewCostGuard creates a cost guard for the current run.
func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	return &CostGuard{
		maxTokens:   maxTokens,
		maxDuration: maxDuration,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// AddTokens accumulates token usage; returns error if budget exceeded.
func (g *CostGuard) AddTokens(n int64) error {
	current := g.currentTokens.Add(n)
	if g.maxTokens > 0 && current > g.maxTokens {
		g.logger.Warn("token budget exceeded", zap.Int64("current", current), zap.Int64("max", g.maxTokens))
		return ErrTokenBudgetExceeded
	}
	return nil
}

// CheckBudget returns error if time budget exceeded.
func (g *CostGuard) CheckBudget() error {
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return ErrTimeBudgetExceeded
	}
	return nil
}

// GetUsage returns current token count and elapsed time.
func (g *CostGuard) GetUsage() (tokens int64, elapsed time.Duration) {
	return g.currentTokens.Load(), time.Since(g.startTime)
}

// ContextGuard monitors context window usage and triggers compaction.
type ContextGuard struct {
	maxTokens int
	warnRatio float64
	hardRatio float64
	logger    *zap.Logger
}

// NewContextGuard creates a context window guard.
func NewContextGuard(maxTokens int, warnRatio, hardRatio float64, logger *zap.Logger) *ContextGuard {
	return &ContextGuard{maxTokens: maxTokens, warnRatio: warnRatio, hardRatio: hardRatio, logger: logger}
}

// ContextCheckResult holds the result of a context window check.
type ContextCheckResult struct {
	EstimatedTokens int
	MaxTokens       int
	Ratio           float64
	NeedCompaction  bool // hard threshold exceeded — must compact
	Warning         bool // warn threshold exceeded — approaching limit
}

// Check estimates token usage for LLMMessages and returns compaction signals.
func (g *ContextGuard) Check(messages []LLMMessage) ContextCheckResult {
	estimated := g.estimateTokens(messages)
	ratio := float64(estimated) / float64(g.maxTokens)

	result := ContextCheckResult{EstimatedTokens: estimated, MaxTokens: g.maxTokens, Ratio: ratio}

	if ratio > g.hardRatio {
		result.NeedCompaction = true
		g.logger.Warn("context window exceeds hard threshold", zap.Int("tokens", estimated), zap.Int("max", g.maxTokens), zap.Float64("ratio", ratio))
	} else if ratio > g.warnRatio {
		result.Warning = true
		g.logger.Info("context window approaching limit", zap.Int("tokens", estimated), zap.Int("max", g.maxTokens), zap.Float64("ratio", ratio))
	}

	return result
}

// estimateTokens roughly estimates token count.
// Heuristic: ~3 chars/token (blend of English ~4, CJK ~2).
func (g *ContextGuard) estimateTokens(messages []LLMMessage) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 3
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) + 50
		}
	}
	total += len(messages) * 4
	return total
}

// LoopDetector flags repeated tool-call patterns using two strategies:
//  1. name-only: the same tool name dominates a sliding window of calls
//  2. exact-match: the same tool name + identical arguments repeat
//     consecutively
//
// Unlike the reflection-prompt pattern this was built from, detection
// here is terminal: the turn engine ends the turn with
// EventDoomLoopDetected rather than nudging the model to self-correct.
// Tools whose Kind is in tool.SafeKinds are left out of the name-only
// window — read-only/search/think calls are expected to repeat
// legitimately (e.g. polling a file until it changes) — but every call,
// safe or not, is recorded in the exact-match window.
type LoopDetector struct {
	recentCalls []string // "name|argsHash" signatures
	windowSize  int
	threshold   int // exact-match threshold (sliding window)

	nameThreshold int
	nameHistory   []string // tool names only, for frequency counting

	logger *zap.Logger
}

// NewLoopDetector creates a loop detector with both name-only and
// exact-match detection. nameThreshold is how many times one tool name
// may appear among the last windowSize calls before flagging;
// windowSize/threshold govern the exact-match window.
func NewLoopDetector(windowSize, threshold, nameThreshold int, logger *zap.Logger) *LoopDetector {
	return &LoopDetector{
		recentCalls:   make([]string, 0, windowSize),
		windowSize:    windowSize,
		threshold:     threshold,
		nameThreshold: nameThreshold,
		logger:        logger,
	}
}

// RecordName tracks tool name frequency in the sliding window and
// reports whether the same tool now dominates it (>= nameThreshold
// occurrences), even when other tools were interleaved in between.
func (d *LoopDetector) RecordName(toolName string) bool {
	d.nameHistory = append(d.nameHistory, toolName)
	if len(d.nameHistory) > d.windowSize {
		d.nameHistory = d.nameHistory[1:]
	}

	count := 0
	for _, name := range d.nameHistory {
		if name == toolName {
			count++
		}
	}

	if count >= d.nameThreshold {
		d.logger.Warn("same tool dominates sliding window",
			zap.String("tool", toolName),
			zap.Int("count_in_window", count),
			zap.Int("window_size", len(d.nameHistory)),
			zap.Int("threshold", d.nameThreshold),
		)
		return true
	}
	return false
}

// Record adds a tool call to the sliding window and reports whether
// the exact same call (name + args signature) appears >= threshold
// times consecutively.
func (d *LoopDetector) Record(toolName string, argsSig ...string) bool {
	sig := toolName
	if len(argsSig) > 0 && argsSig[0] != "" {
		sig = toolName + "|" + argsSig[0]
	}

	d.recentCalls = append(d.recentCalls, sig)
	if len(d.recentCalls) > d.windowSize {
		d.recentCalls = d.recentCalls[1:]
	}

	if len(d.recentCalls) < d.threshold {
		return false
	}

	tail := d.recentCalls[len(d.recentCalls)-d.threshold:]
	for _, name := range tail {
		if name != tail[0] {
			return false
		}
	}

	d.logger.Warn("exact tool call loop detected", zap.String("tool", toolName), zap.String("signature", sig), zap.Int("consecutive_calls", d.threshold))
	return true
}

// Reset clears all tracking state, called at the start of each turn.
func (d *LoopDetector) Reset() {
	d.recentCalls = d.recentCalls[:0]
	d.nameHistory = d.nameHistory[:0]
}
