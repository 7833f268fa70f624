package routing

// Profile selects one of the predefined binding tables.
type Profile string

const (
	// ProfileLocal routes everything to local models.
	ProfileLocal Profile = "local"

	// ProfileCloud routes everything to hosted providers.
	ProfileCloud Profile = "cloud"

	// ProfileHybrid keeps cheap tasks local and sends heavy ones to the
	// cloud.
	ProfileHybrid Profile = "hybrid"
)

// SkipProvider is the sentinel provider id meaning no LLM call is needed;
// the caller handles the task out-of-band.
const SkipProvider = "none"

// Binding maps a task type to one provider and model.
type Binding struct {
	Provider  string
	Model     string
	Rationale string
}

// upgrades are the strong models substituted when effective complexity
// reaches complex or expert.
type upgrades struct {
	reasoning Binding // strongest reasoning model
	code      Binding // code-optimized strong model
	general   Binding // generic strong model
}

var localBindings = map[TaskType]Binding{
	TaskHeartbeat:  {SkipProvider, "", "liveness checks never need a model"},
	TaskSmalltalk:  {"ollama", "llama3.2", "greetings answered by the smallest local model"},
	TaskSearch:     {"ollama", "llama3.2", "query rewriting is light"},
	TaskMemory:     {"ollama", "llama3.2", "recall phrasing is light"},
	TaskFileOp:     {"ollama", "llama3.1:8b", "path handling benefits from a mid model"},
	TaskAPICall:    {"ollama", "llama3.1:8b", "structured output needs a mid model"},
	TaskCompaction: {"ollama", "llama3.1:8b", "context rewriting is mechanical"},
	TaskEmbedding:  {"ollama", "nomic-embed-text", "dedicated embedding model"},
	TaskCodeGen:    {"ollama", "qwen2.5-coder:7b", "code-tuned local model"},
	TaskChat:       {"ollama", "llama3.1:8b", "general conversation"},
	TaskSummarize:  {"ollama", "llama3.2", "summaries tolerate small models"},
	TaskTranslate:  {"ollama", "llama3.1:8b", "translation needs a mid model"},
	TaskToolExec:   {"ollama", "llama3.1:8b", "tool calling needs reliable JSON"},
	TaskReasoning:  {"ollama", "deepseek-r1:8b", "local reasoning model"},
	TaskVision:     {"ollama", "llama3.2-vision", "local vision model"},
}

var cloudBindings = map[TaskType]Binding{
	TaskHeartbeat:  {SkipProvider, "", "liveness checks never need a model"},
	TaskSmalltalk:  {"openai", "gpt-4o-mini", "cheapest hosted model"},
	TaskSearch:     {"openai", "gpt-4o-mini", "query rewriting is light"},
	TaskMemory:     {"openai", "gpt-4o-mini", "recall phrasing is light"},
	TaskFileOp:     {"openai", "gpt-4o-mini", "path handling is mechanical"},
	TaskAPICall:    {"openai", "gpt-4o-mini", "structured output on a cheap model"},
	TaskCompaction: {"openai", "gpt-4o-mini", "context rewriting is mechanical"},
	TaskEmbedding:  {"openai", "text-embedding-3-small", "dedicated embedding model"},
	TaskCodeGen:    {"anthropic", "claude-sonnet-4-20250514", "strong code model"},
	TaskChat:       {"anthropic", "claude-sonnet-4-20250514", "general conversation quality"},
	TaskSummarize:  {"openai", "gpt-4o-mini", "summaries tolerate cheap models"},
	TaskTranslate:  {"openai", "gpt-4o-mini", "translation on a cheap model"},
	TaskToolExec:   {"anthropic", "claude-sonnet-4-20250514", "reliable tool calling"},
	TaskReasoning:  {"anthropic", "claude-opus-4-20250514", "deep reasoning"},
	TaskVision:     {"anthropic", "claude-sonnet-4-20250514", "hosted vision"},
}

var hybridBindings = map[TaskType]Binding{
	TaskHeartbeat:  {SkipProvider, "", "liveness checks never need a model"},
	TaskSmalltalk:  {"ollama", "llama3.2", "keep chatter local and free"},
	TaskSearch:     {"ollama", "llama3.2", "query rewriting stays local"},
	TaskMemory:     {"ollama", "llama3.2", "recall phrasing stays local"},
	TaskFileOp:     {"ollama", "llama3.1:8b", "path handling stays local"},
	TaskAPICall:    {"openai", "gpt-4o-mini", "structured output on a cheap hosted model"},
	TaskCompaction: {"ollama", "llama3.1:8b", "context rewriting stays local"},
	TaskEmbedding:  {"ollama", "nomic-embed-text", "embeddings stay local"},
	TaskCodeGen:    {"anthropic", "claude-sonnet-4-20250514", "code quality is worth the spend"},
	TaskChat:       {"ollama", "llama3.1:8b", "general conversation stays local"},
	TaskSummarize:  {"ollama", "llama3.2", "summaries stay local"},
	TaskTranslate:  {"openai", "gpt-4o-mini", "translation quality on a cheap hosted model"},
	TaskToolExec:   {"anthropic", "claude-sonnet-4-20250514", "reliable tool calling"},
	TaskReasoning:  {"anthropic", "claude-opus-4-20250514", "deep reasoning is worth the spend"},
	TaskVision:     {"anthropic", "claude-sonnet-4-20250514", "hosted vision"},
}

var localUpgrades = upgrades{
	reasoning: Binding{"ollama", "deepseek-r1:14b", "strongest local reasoning model"},
	code:      Binding{"ollama", "qwen2.5-coder:14b", "strongest local code model"},
	general:   Binding{"ollama", "llama3.3", "strongest local generalist"},
}

var cloudUpgrades = upgrades{
	reasoning: Binding{"anthropic", "claude-opus-4-20250514", "strongest reasoning model"},
	code:      Binding{"anthropic", "claude-sonnet-4-20250514", "code-optimized strong model"},
	general:   Binding{"openai", "gpt-4o", "generic strong model"},
}

// Escalation chains, weakest to strongest. The pipeline walks the chain when
// a provider fails mid-stream.
var (
	localChain = []Binding{
		{"ollama", "llama3.2", "smallest local fallback"},
		{"ollama", "llama3.1:8b", "mid local fallback"},
		{"ollama", "llama3.3", "strongest local fallback"},
	}
	cloudChain = []Binding{
		{"openai", "gpt-4o-mini", "cheapest hosted fallback"},
		{"openai", "gpt-4o", "mid hosted fallback"},
		{"anthropic", "claude-sonnet-4-20250514", "strong hosted fallback"},
		{"anthropic", "claude-opus-4-20250514", "strongest hosted fallback"},
	}
	hybridChain = []Binding{
		{"ollama", "llama3.1:8b", "local first"},
		{"openai", "gpt-4o-mini", "cheap hosted fallback"},
		{"anthropic", "claude-sonnet-4-20250514", "strong hosted fallback"},
		{"anthropic", "claude-opus-4-20250514", "strongest hosted fallback"},
	}
)

// minComplexityOverrides raise the classified complexity floor per task type.
var minComplexityOverrides = map[TaskType]Complexity{
	TaskReasoning: ComplexityComplex,
	TaskVision:    ComplexityMedium,
	TaskCodeGen:   ComplexityMedium,
}

// Bindings returns the binding table for a profile. Unknown profiles fall
// back to hybrid.
func Bindings(p Profile) map[TaskType]Binding {
	switch p {
	case ProfileLocal:
		return localBindings
	case ProfileCloud:
		return cloudBindings
	default:
		return hybridBindings
	}
}

// Chain returns the escalation chain for a profile, weakest first.
func Chain(p Profile) []Binding {
	switch p {
	case ProfileLocal:
		return localChain
	case ProfileCloud:
		return cloudChain
	default:
		return hybridChain
	}
}

func upgradesFor(p Profile) upgrades {
	if p == ProfileLocal {
		return localUpgrades
	}
	return cloudUpgrades
}

// upgradeBinding applies the strong-model rule for complex and expert work.
func upgradeBinding(p Profile, task TaskType, c Complexity, current Binding) Binding {
	if c < ComplexityComplex || current.Provider == SkipProvider {
		return current
	}
	u := upgradesFor(p)
	switch {
	case c >= ComplexityExpert:
		return u.reasoning
	case task == TaskCodeGen || task == TaskToolExec:
		return u.code
	default:
		return u.general
	}
}

// baseTemperature is the starting sampling temperature per task type before
// the optional adjustment hook runs.
func baseTemperature(task TaskType) float32 {
	switch task {
	case TaskCodeGen, TaskToolExec, TaskFileOp, TaskAPICall, TaskEmbedding:
		return 0.2
	case TaskReasoning, TaskSummarize, TaskTranslate, TaskCompaction:
		return 0.3
	case TaskChat, TaskSmalltalk:
		return 0.7
	default:
		return 0.5
	}
}
