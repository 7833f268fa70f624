// Package duty runs the automated-duty pipeline: observed tendencies are
// promoted to proposed rules, approved rules become active duties, and active
// duties fire on cron, event, threshold, or pattern triggers under cooldown
// and hourly rate caps.
package duty

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TriggerType selects how a duty's condition is evaluated.
type TriggerType string

const (
	TriggerCron      TriggerType = "cron"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
	TriggerPattern   TriggerType = "pattern"
)

// Trigger is the firing condition of a duty.
type Trigger struct {
	Type      TriggerType   `json:"type"`
	Condition string        `json:"condition"`
	Cooldown  time.Duration `json:"cooldown"`
	LastFired time.Time     `json:"last_fired"`
}

// Action is what a firing duty asks the runtime to do.
type Action struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (a Action) clone() Action {
	out := Action{Type: a.Type}
	if a.Payload != nil {
		out.Payload = make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// Status is the duty lifecycle state. Transitions are monotonic except for
// the pause/resume pair.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusFailed   Status = "failed"
	StatusRetired  Status = "retired"
)

// Kartavya is one active duty.
type Kartavya struct {
	ID              string    `json:"id"`
	VasanaID        string    `json:"vasana_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	Trigger         Trigger   `json:"trigger"`
	Action          Action    `json:"action"`
	Confidence      float64   `json:"confidence"`
	TotalExecutions int       `json:"total_executions"`
	FailureCount    int       `json:"failure_count"`
	Status          Status    `json:"status"`
	LastExecuted    time.Time `json:"last_executed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// ExecutionLog holds firing times from the last hour, pruned on every
	// evaluation pass.
	ExecutionLog []time.Time `json:"execution_log,omitempty"`
}

// ProposalStatus is terminal once approved or rejected.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is a rule awaiting consent.
type Proposal struct {
	ID         string         `json:"id"`
	VasanaID   string         `json:"vasana_id,omitempty"`
	Trigger    Trigger        `json:"trigger"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Evidence   []string       `json:"evidence,omitempty"`
	Status     ProposalStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Vasana is an observed behavioral tendency considered for auto-promotion.
type Vasana struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description,omitempty"`
	Strength           float64  `json:"strength"`
	PredictiveAccuracy float64  `json:"predictive_accuracy"`
	Trigger            Trigger  `json:"trigger"`
	Action             Action   `json:"action"`
	Evidence           []string `json:"evidence,omitempty"`
}

// Hard ceilings. User configuration is clamped to these on construction.
const (
	HardMaxActive            = 100
	HardMaxExecutionsPerHour = 60
	HardMinCooldown          = 10 * time.Second
)

// Config tunes the engine within the hard ceilings.
type Config struct {
	MaxActive             int
	MaxExecutionsPerHour  int
	MinCooldown           time.Duration
	MinProposalConfidence float64
	AutoApproveThreshold  float64
}

// DefaultConfig returns the standard engine limits.
func DefaultConfig() Config {
	return Config{
		MaxActive:             20,
		MaxExecutionsPerHour:  12,
		MinCooldown:           time.Minute,
		MinProposalConfidence: 0.6,
		AutoApproveThreshold:  0.72,
	}
}

func (c Config) clamped() Config {
	def := DefaultConfig()
	if c.MaxActive <= 0 {
		c.MaxActive = def.MaxActive
	}
	if c.MaxActive > HardMaxActive {
		c.MaxActive = HardMaxActive
	}
	if c.MaxExecutionsPerHour <= 0 {
		c.MaxExecutionsPerHour = def.MaxExecutionsPerHour
	}
	if c.MaxExecutionsPerHour > HardMaxExecutionsPerHour {
		c.MaxExecutionsPerHour = HardMaxExecutionsPerHour
	}
	if c.MinCooldown <= 0 {
		c.MinCooldown = def.MinCooldown
	}
	if c.MinCooldown < HardMinCooldown {
		c.MinCooldown = HardMinCooldown
	}
	if c.MinProposalConfidence <= 0 {
		c.MinProposalConfidence = def.MinProposalConfidence
	}
	if c.AutoApproveThreshold <= 0 {
		c.AutoApproveThreshold = def.AutoApproveThreshold
	}
	return c
}

var (
	ErrLowConfidence    = errors.New("duty: proposal confidence below threshold")
	ErrUnknownProposal  = errors.New("duty: unknown proposal")
	ErrProposalResolved = errors.New("duty: proposal already resolved")
	ErrActiveCap        = errors.New("duty: active duty cap reached")
	ErrUnknownKartavya  = errors.New("duty: unknown kartavya")
	ErrBadTransition    = errors.New("duty: invalid status transition")
)

// EvalContext is one evaluation snapshot.
type EvalContext struct {
	Now      time.Time
	Events   []string
	Metrics  map[string]float64
	Patterns []string
}

// Engine owns the duty and proposal maps. All mutation goes through its
// methods.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	kartavyas map[string]*Kartavya
	proposals map[string]*Proposal

	now func() time.Time
}

// NewEngine creates an engine with the config clamped to the hard ceilings.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg.clamped(),
		kartavyas: make(map[string]*Kartavya),
		proposals: make(map[string]*Proposal),
		now:       time.Now,
	}
}

// Config returns the clamped effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// ProposeNiyama drafts a rule. The confidence must meet the proposal
// threshold.
func (e *Engine) ProposeNiyama(vasanaID string, trigger Trigger, action Action, confidence float64, evidence []string) (Proposal, error) {
	if confidence < e.cfg.MinProposalConfidence {
		return Proposal{}, fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, confidence, e.cfg.MinProposalConfidence)
	}
	if trigger.Cooldown < e.cfg.MinCooldown {
		trigger.Cooldown = e.cfg.MinCooldown
	}
	p := Proposal{
		ID:         uuid.NewString(),
		VasanaID:   vasanaID,
		Trigger:    trigger,
		Action:     action.clone(),
		Confidence: confidence,
		Evidence:   append([]string(nil), evidence...),
		Status:     ProposalPending,
		CreatedAt:  e.now(),
	}
	e.mu.Lock()
	e.proposals[p.ID] = &p
	e.mu.Unlock()
	return p, nil
}

// ApproveNiyama promotes a pending proposal to an active duty, enforcing the
// active cap. Trigger and action are copied so later proposal edits cannot
// reach the live duty.
func (e *Engine) ApproveNiyama(id string) (Kartavya, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[id]
	if !ok {
		return Kartavya{}, ErrUnknownProposal
	}
	if p.Status != ProposalPending {
		return Kartavya{}, ErrProposalResolved
	}
	if e.activeCountLocked() >= e.cfg.MaxActive {
		return Kartavya{}, ErrActiveCap
	}

	now := e.now()
	k := Kartavya{
		ID:         uuid.NewString(),
		VasanaID:   p.VasanaID,
		Trigger:    p.Trigger,
		Action:     p.Action.clone(),
		Confidence: p.Confidence,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.kartavyas[k.ID] = &k
	p.Status = ProposalApproved
	return k, nil
}

// RejectNiyama terminally rejects a pending proposal.
func (e *Engine) RejectNiyama(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return ErrUnknownProposal
	}
	if p.Status != ProposalPending {
		return ErrProposalResolved
	}
	p.Status = ProposalRejected
	return nil
}

// AutoPromote proposes and immediately approves every vasana whose
// strength times predictive accuracy clears the auto-approve threshold.
// Items below the bar or beyond the active cap are skipped.
func (e *Engine) AutoPromote(vasanas []Vasana) []Kartavya {
	var promoted []Kartavya
	for _, v := range vasanas {
		if v.Strength*v.PredictiveAccuracy < e.cfg.AutoApproveThreshold {
			continue
		}
		confidence := v.Strength * v.PredictiveAccuracy
		if confidence < e.cfg.MinProposalConfidence {
			continue
		}
		p, err := e.ProposeNiyama(v.ID, v.Trigger, v.Action, confidence, v.Evidence)
		if err != nil {
			continue
		}
		k, err := e.ApproveNiyama(p.ID)
		if err != nil {
			continue
		}
		if v.Description != "" {
			e.mu.Lock()
			e.kartavyas[k.ID].Description = v.Description
			k.Description = v.Description
			e.mu.Unlock()
		}
		promoted = append(promoted, k)
	}
	return promoted
}

// EvaluateTriggers prunes execution logs to the trailing hour and returns the
// active duties whose triggers match the snapshot, after cooldown and hourly
// cap checks.
func (e *Engine) EvaluateTriggers(ctx EvalContext) []Kartavya {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ready []Kartavya
	for _, k := range e.kartavyas {
		k.ExecutionLog = pruneLog(k.ExecutionLog, ctx.Now)
		if k.Status != StatusActive {
			continue
		}
		if len(k.ExecutionLog) >= e.cfg.MaxExecutionsPerHour {
			continue
		}
		if !k.Trigger.LastFired.IsZero() && ctx.Now.Sub(k.Trigger.LastFired) < k.Trigger.Cooldown {
			continue
		}
		if e.triggerMatches(k.Trigger, ctx) {
			ready = append(ready, *k)
		}
	}
	return ready
}

func pruneLog(log []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (e *Engine) triggerMatches(tr Trigger, ctx EvalContext) bool {
	switch tr.Type {
	case TriggerCron:
		return MatchesCron(tr.Condition, ctx.Now)
	case TriggerEvent:
		for _, ev := range ctx.Events {
			if ev == tr.Condition {
				return true
			}
		}
		return false
	case TriggerThreshold:
		return thresholdMatches(tr.Condition, ctx.Metrics)
	case TriggerPattern:
		return patternMatches(tr.Condition, ctx.Patterns)
	default:
		return false
	}
}

// thresholdMatches parses "name OP value" with OP in {>, <, >=, <=, ==} and
// compares against the metric snapshot. Malformed conditions never match.
func thresholdMatches(condition string, metrics map[string]float64) bool {
	fields := strings.Fields(condition)
	if len(fields) != 3 {
		return false
	}
	value, ok := metrics[fields[0]]
	if !ok {
		return false
	}
	want, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return false
	}
	switch fields[1] {
	case ">":
		return value > want
	case "<":
		return value < want
	case ">=":
		return value >= want
	case "<=":
		return value <= want
	case "==":
		return value == want
	default:
		return false
	}
}

// patternMatches interprets the condition as a regex over the observed
// patterns, falling back to substring match when the regex does not compile.
func patternMatches(condition string, patterns []string) bool {
	re, err := regexp.Compile(condition)
	for _, p := range patterns {
		if err == nil {
			if re.MatchString(p) {
				return true
			}
		} else if strings.Contains(p, condition) {
			return true
		}
	}
	return false
}

// RecordExecution updates counters and confidence after a firing: +0.01 on
// success, -0.05 on failure, clamped to [0,1]. A duty with at least five
// executions and a failure ratio above one half auto-fails.
func (e *Engine) RecordExecution(id string, success bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	k, ok := e.kartavyas[id]
	if !ok {
		return ErrUnknownKartavya
	}
	now := e.now()
	k.TotalExecutions++
	if success {
		k.Confidence += 0.01
	} else {
		k.FailureCount++
		k.Confidence -= 0.05
	}
	if k.Confidence > 1 {
		k.Confidence = 1
	}
	if k.Confidence < 0 {
		k.Confidence = 0
	}
	k.Trigger.LastFired = now
	k.LastExecuted = now
	k.UpdatedAt = now
	k.ExecutionLog = append(k.ExecutionLog, now)

	if k.TotalExecutions >= 5 && float64(k.FailureCount)/float64(k.TotalExecutions) > 0.5 {
		k.Status = StatusFailed
	}
	return nil
}

// Pause suspends an active duty.
func (e *Engine) Pause(id string) error {
	return e.transition(id, StatusActive, StatusPaused)
}

// Resume reactivates a paused duty.
func (e *Engine) Resume(id string) error {
	return e.transition(id, StatusPaused, StatusActive)
}

// Retire terminally retires any non-retired duty.
func (e *Engine) Retire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.kartavyas[id]
	if !ok {
		return ErrUnknownKartavya
	}
	if k.Status == StatusRetired {
		return ErrBadTransition
	}
	k.Status = StatusRetired
	k.UpdatedAt = e.now()
	return nil
}

func (e *Engine) transition(id string, from, to Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.kartavyas[id]
	if !ok {
		return ErrUnknownKartavya
	}
	if k.Status != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrBadTransition, from, to, k.Status)
	}
	k.Status = to
	k.UpdatedAt = e.now()
	return nil
}

// Get returns a copy of one duty.
func (e *Engine) Get(id string) (Kartavya, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.kartavyas[id]
	if !ok {
		return Kartavya{}, false
	}
	return *k, true
}

// Kartavyas returns copies of every duty.
func (e *Engine) Kartavyas() []Kartavya {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Kartavya, 0, len(e.kartavyas))
	for _, k := range e.kartavyas {
		out = append(out, *k)
	}
	return out
}

// Proposals returns copies of every proposal.
func (e *Engine) Proposals() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, k := range e.kartavyas {
		if k.Status == StatusActive {
			n++
		}
	}
	return n
}
