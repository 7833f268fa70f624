package agent

import (
	"context"
	"sync"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// SubAgentResult is the outcome of a delegated prompt.
type SubAgentResult struct {
	AgentID  string           `json:"agent_id"`
	Purpose  string           `json:"purpose"`
	Status   string           `json:"status"` // completed or error
	Response string           `json:"response,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	Err      error            `json:"-"`
}

// DelegateTask pairs a spawn configuration with the prompt to run.
type DelegateTask struct {
	Config SpawnConfig
	Prompt string
}

// Delegate spawns a child and runs one prompt on it, returning the outcome
// as a SubAgentResult. Spawn failures are returned as errors; prompt
// failures are folded into the result.
func (a *Agent) Delegate(ctx context.Context, cfg SpawnConfig, prompt string) (SubAgentResult, error) {
	child, err := a.Spawn(cfg)
	if err != nil {
		return SubAgentResult{}, err
	}
	if a.tracer != nil {
		var end func()
		ctx, end = a.traceDelegation(ctx, child.id)
		defer end()
	}
	return a.runDelegated(ctx, child, prompt), nil
}

// DelegateParallel spawns one child per task and prompts them concurrently.
// The fan-out bound is validated up-front so either every task gets a child
// or none does. All prompts are awaited; results come back in input order
// with per-task failures folded in.
func (a *Agent) DelegateParallel(ctx context.Context, tasks []DelegateTask) ([]SubAgentResult, error) {
	a.mu.Lock()
	room := a.maxSubAgents - len(a.children)
	a.mu.Unlock()
	if len(tasks) > room {
		return nil, ErrTooManySubAgents
	}

	children := make([]*Agent, len(tasks))
	for i, task := range tasks {
		child, err := a.Spawn(task.Config)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	results := make([]SubAgentResult, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = a.runDelegated(ctx, children[idx], tasks[idx].Prompt)
		}(i)
	}
	wg.Wait()
	return results, nil
}

func (a *Agent) runDelegated(ctx context.Context, child *Agent, prompt string) SubAgentResult {
	res := SubAgentResult{
		AgentID: child.id,
		Purpose: child.purpose,
	}
	msg, err := child.Prompt(ctx, prompt)
	if err != nil {
		res.Status = "error"
		res.Err = err
		res.Messages = child.Messages()
		return res
	}
	res.Status = "completed"
	res.Response = msg.Text()
	res.Messages = child.Messages()
	return res
}

func (a *Agent) traceDelegation(ctx context.Context, childID string) (context.Context, func()) {
	ctx, span := a.tracer.TraceDelegation(ctx, a.id, childID)
	return ctx, func() { span.End() }
}
