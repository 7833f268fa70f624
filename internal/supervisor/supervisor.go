// Package supervisor tracks agent liveness through heartbeat records and
// enforces ancestor-gated kill and heal operations over the agent tree.
package supervisor

import (
	"sync"
	"time"
)

// HealthStatus is the liveness state of one supervised agent.
type HealthStatus string

const (
	StatusAlive HealthStatus = "alive"
	StatusStale HealthStatus = "stale"
	StatusDead  HealthStatus = "dead"

	// StatusKilled is only ever assigned by the supervisor during a kill
	// cascade; agents never report it themselves.
	StatusKilled HealthStatus = "killed"
)

// Heartbeat is the liveness record for one agent.
type Heartbeat struct {
	AgentID     string       `json:"agent_id"`
	ParentID    string       `json:"parent_id,omitempty"`
	Depth       int          `json:"depth"`
	Purpose     string       `json:"purpose"`
	LastBeat    time.Time    `json:"last_beat"`
	StartedAt   time.Time    `json:"started_at"`
	Status      HealthStatus `json:"status"`
	TurnCount   int          `json:"turn_count"`
	TokenUsage  int          `json:"token_usage"`
	TokenBudget int          `json:"token_budget"`
	StuckReason string       `json:"stuck_reason,omitempty"`
}

// Patch carries optional heartbeat updates; nil fields are left unchanged.
type Patch struct {
	TurnCount   *int
	TokenUsage  *int
	TokenBudget *int
	Purpose     *string
}

// Config sets the liveness thresholds.
type Config struct {
	// HeartbeatInterval is how often agents are expected to beat.
	HeartbeatInterval time.Duration

	// StaleThreshold promotes alive records to stale.
	StaleThreshold time.Duration

	// DeadThreshold reaps records entirely.
	DeadThreshold time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		StaleThreshold:    30 * time.Second,
		DeadThreshold:     2 * time.Minute,
	}
}

// StatusChange observes one liveness transition.
type StatusChange func(agentID string, old, new HealthStatus, reason string)

// KillResult reports the outcome of a kill cascade.
type KillResult struct {
	Success      bool     `json:"success"`
	Reason       string   `json:"reason,omitempty"`
	KilledIDs    []string `json:"killed_ids,omitempty"`
	CascadeCount int      `json:"cascade_count"`
	FreedTokens  int      `json:"freed_tokens"`
}

// HealResult reports the outcome of a heal request.
type HealResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// NodeHealth is one agent's record plus derived tree counts.
type NodeHealth struct {
	Heartbeat
	ChildCount      int `json:"child_count"`
	DescendantCount int `json:"descendant_count"`
}

// TreeHealth summarizes the supervised population.
type TreeHealth struct {
	Totals            map[HealthStatus]int `json:"totals"`
	MaxDepth          int                  `json:"max_depth"`
	HighestTokenUsage int                  `json:"highest_token_usage"`
	Nodes             []NodeHealth         `json:"nodes"`
}

// Supervisor owns the heartbeat registry. It never holds agent objects, only
// records keyed by agent id; the parentId graph stands in for the tree.
type Supervisor struct {
	mu        sync.Mutex
	cfg       Config
	agents    map[string]*Heartbeat
	callbacks []StatusChange

	// now is injectable for threshold tests.
	now func() time.Time
}

// New creates a supervisor. Zero thresholds take defaults.
func New(cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	if cfg.DeadThreshold <= 0 {
		cfg.DeadThreshold = def.DeadThreshold
	}
	return &Supervisor{
		cfg:    cfg,
		agents: make(map[string]*Heartbeat),
		now:    time.Now,
	}
}

// OnStatusChange subscribes a callback to liveness transitions.
func (s *Supervisor) OnStatusChange(cb StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *Supervisor) notify(agentID string, old, new HealthStatus, reason string) {
	for _, cb := range s.callbacks {
		cb(agentID, old, new, reason)
	}
}

// RegisterAgent inserts a heartbeat record. Zero times are stamped now and
// an empty status defaults to alive.
func (s *Supervisor) RegisterAgent(hb Heartbeat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if hb.LastBeat.IsZero() {
		hb.LastBeat = now
	}
	if hb.StartedAt.IsZero() {
		hb.StartedAt = now
	}
	if hb.Status == "" {
		hb.Status = StatusAlive
	}
	s.agents[hb.AgentID] = &hb
}

// RecordHeartbeat stamps a fresh beat and merges the optional patch. It
// reports whether the agent is known.
func (s *Supervisor) RecordHeartbeat(agentID string, patch *Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.agents[agentID]
	if !ok {
		return false
	}
	hb.LastBeat = s.now()
	if patch != nil {
		if patch.TurnCount != nil {
			hb.TurnCount = *patch.TurnCount
		}
		if patch.TokenUsage != nil {
			hb.TokenUsage = *patch.TokenUsage
		}
		if patch.TokenBudget != nil {
			hb.TokenBudget = *patch.TokenBudget
		}
		if patch.Purpose != nil {
			hb.Purpose = *patch.Purpose
		}
	}
	return true
}

// ReportStuck marks an agent stale with a reason.
func (s *Supervisor) ReportStuck(agentID, reason string) bool {
	s.mu.Lock()
	hb, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	old := hb.Status
	hb.Status = StatusStale
	hb.StuckReason = reason
	s.mu.Unlock()

	if old != StatusStale {
		s.notify(agentID, old, StatusStale, reason)
	}
	return true
}

// HealTree sweeps the registry: records past the dead threshold are reaped
// (deletion is terminal), records past the stale threshold are demoted from
// alive to stale.
func (s *Supervisor) HealTree() {
	type transition struct {
		id       string
		old, new HealthStatus
		reason   string
	}
	var transitions []transition

	s.mu.Lock()
	now := s.now()
	for id, hb := range s.agents {
		age := now.Sub(hb.LastBeat)
		switch {
		case age >= s.cfg.DeadThreshold:
			transitions = append(transitions, transition{id, hb.Status, StatusDead, "reaped"})
			delete(s.agents, id)
		case age >= s.cfg.StaleThreshold && hb.Status == StatusAlive:
			hb.Status = StatusStale
			transitions = append(transitions, transition{id, StatusAlive, StatusStale, "heartbeat overdue"})
		}
	}
	s.mu.Unlock()

	for _, tr := range transitions {
		s.notify(tr.id, tr.old, tr.new, tr.reason)
	}
}

// isAncestorLocked walks the parentId chain from target up to requester.
func (s *Supervisor) isAncestorLocked(requester, target string) bool {
	if requester == target {
		return false
	}
	seen := make(map[string]struct{})
	hb, ok := s.agents[target]
	for ok {
		parent := hb.ParentID
		if parent == "" {
			return false
		}
		if parent == requester {
			return true
		}
		if _, cycle := seen[parent]; cycle {
			return false
		}
		seen[parent] = struct{}{}
		hb, ok = s.agents[parent]
	}
	return false
}

// subtreeLocked collects target and every transitive child, top-down.
func (s *Supervisor) subtreeLocked(target string) []string {
	children := make(map[string][]string)
	for id, hb := range s.agents {
		if hb.ParentID != "" {
			children[hb.ParentID] = append(children[hb.ParentID], id)
		}
	}
	var out []string
	queue := []string{target}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		queue = append(queue, children[id]...)
	}
	return out
}

// KillAgent kills target and its whole subtree. The requester must be a
// strict ancestor of target; violations fail without side effects. Freed
// tokens are the summed unspent budgets, clamped per node.
func (s *Supervisor) KillAgent(requester, target string) KillResult {
	s.mu.Lock()
	if _, ok := s.agents[target]; !ok {
		s.mu.Unlock()
		return KillResult{Success: false, Reason: "unknown agent"}
	}
	if !s.isAncestorLocked(requester, target) {
		s.mu.Unlock()
		return KillResult{Success: false, Reason: "not an ancestor"}
	}

	ids := s.subtreeLocked(target)
	type killed struct {
		id  string
		old HealthStatus
	}
	var killedNodes []killed
	freed := 0

	// Process bottom-up so children are gone before their parents.
	for i := len(ids) - 1; i >= 0; i-- {
		hb, ok := s.agents[ids[i]]
		if !ok {
			continue
		}
		old := hb.Status
		hb.Status = StatusKilled
		if unspent := hb.TokenBudget - hb.TokenUsage; unspent > 0 {
			freed += unspent
		}
		delete(s.agents, ids[i])
		killedNodes = append(killedNodes, killed{id: ids[i], old: old})
	}
	s.mu.Unlock()

	for _, k := range killedNodes {
		s.notify(k.id, k.old, StatusKilled, "killed by "+requester)
	}
	return KillResult{
		Success:      true,
		KilledIDs:    ids,
		CascadeCount: len(ids),
		FreedTokens:  freed,
	}
}

// HealAgent transitions a stale or dead target back to alive. The requester
// must be a strict ancestor.
func (s *Supervisor) HealAgent(requester, target string) HealResult {
	s.mu.Lock()
	hb, ok := s.agents[target]
	if !ok {
		s.mu.Unlock()
		return HealResult{Success: false, Reason: "unknown agent"}
	}
	if !s.isAncestorLocked(requester, target) {
		s.mu.Unlock()
		return HealResult{Success: false, Reason: "not an ancestor"}
	}
	if hb.Status != StatusStale && hb.Status != StatusDead {
		s.mu.Unlock()
		return HealResult{Success: false, Reason: "agent is not stale or dead"}
	}
	old := hb.Status
	hb.Status = StatusAlive
	hb.StuckReason = ""
	hb.LastBeat = s.now()
	s.mu.Unlock()

	s.notify(target, old, StatusAlive, "healed by "+requester)
	return HealResult{Success: true}
}

// Get returns a copy of one record.
func (s *Supervisor) Get(agentID string) (Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hb, ok := s.agents[agentID]
	if !ok {
		return Heartbeat{}, false
	}
	return *hb, true
}

// GetTreeHealth sweeps the registry and reports population totals plus
// per-node snapshots with derived child and descendant counts.
func (s *Supervisor) GetTreeHealth() TreeHealth {
	s.HealTree()

	s.mu.Lock()
	defer s.mu.Unlock()

	health := TreeHealth{Totals: make(map[HealthStatus]int)}
	children := make(map[string][]string)
	for id, hb := range s.agents {
		if hb.ParentID != "" {
			children[hb.ParentID] = append(children[hb.ParentID], id)
		}
		health.Totals[hb.Status]++
		if hb.Depth > health.MaxDepth {
			health.MaxDepth = hb.Depth
		}
		if hb.TokenUsage > health.HighestTokenUsage {
			health.HighestTokenUsage = hb.TokenUsage
		}
	}

	var countDescendants func(id string) int
	countDescendants = func(id string) int {
		n := len(children[id])
		for _, child := range children[id] {
			n += countDescendants(child)
		}
		return n
	}

	for id, hb := range s.agents {
		health.Nodes = append(health.Nodes, NodeHealth{
			Heartbeat:       *hb,
			ChildCount:      len(children[id]),
			DescendantCount: countDescendants(id),
		})
	}
	return health
}
