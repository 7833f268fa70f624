// Package routing classifies requests by intent and complexity and routes
// them to a provider and model through profile binding tables, escalating
// along a predefined chain when a provider fails.
package routing

import (
	"math"
	"regexp"
	"strings"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// TaskType is the inferred intent category of a request.
type TaskType string

const (
	TaskHeartbeat  TaskType = "heartbeat"
	TaskSmalltalk  TaskType = "smalltalk"
	TaskSearch     TaskType = "search"
	TaskMemory     TaskType = "memory"
	TaskFileOp     TaskType = "file-op"
	TaskAPICall    TaskType = "api-call"
	TaskCompaction TaskType = "compaction"
	TaskEmbedding  TaskType = "embedding"
	TaskCodeGen    TaskType = "code-gen"
	TaskChat       TaskType = "chat"
	TaskSummarize  TaskType = "summarize"
	TaskTranslate  TaskType = "translate"
	TaskToolExec   TaskType = "tool-exec"
	TaskReasoning  TaskType = "reasoning"
	TaskVision     TaskType = "vision"
)

// Complexity is the inferred difficulty tier. Values are ordered so tiers
// compare with <.
type Complexity int

const (
	ComplexityTrivial Complexity = iota
	ComplexitySimple
	ComplexityMedium
	ComplexityComplex
	ComplexityExpert
)

// String returns the tier label.
func (c Complexity) String() string {
	switch c {
	case ComplexityTrivial:
		return "trivial"
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityComplex:
		return "complex"
	case ComplexityExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// Input is the classifier view of a request: the last user message's text
// plus structural features.
type Input struct {
	Text      string
	WordCount int
	HasTools  bool
}

// InputFrom builds classifier input from a conversation, using the last user
// message's text.
func InputFrom(msgs []models.Message, hasTools bool) Input {
	var text string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			text = msgs[i].Text()
			break
		}
	}
	text = strings.TrimSpace(text)
	return Input{
		Text:      text,
		WordCount: len(strings.Fields(text)),
		HasTools:  hasTools,
	}
}

// signal is one weighted predicate in a classifier table.
type signal struct {
	label  string
	weight float64
	match  func(in Input, lower string) bool
}

var (
	heartbeatRe  = regexp.MustCompile(`^(ping|heartbeat|health ?check)$`)
	greetingRe   = regexp.MustCompile(`^(hi|hello|hey|yo|thanks|thank you|bye|goodbye|good (morning|afternoon|evening)|ok|okay|sure|got it)\b`)
	shortQRe     = regexp.MustCompile(`\b(what is|who is|when is|where is|define|quick|brief)\b`)
	codeRe       = regexp.MustCompile(`\b(func|function|class|def|package|import|select|insert|update|delete|compile|refactor|debug|stack trace)\b`)
	fenceRe      = regexp.MustCompile("```")
	codeVerbRe   = regexp.MustCompile(`\b(write|implement|fix|refactor|generate) (a |the |some )?(code|function|script|test|bug)\b`)
	multiStepRe  = regexp.MustCompile(`\b(first\b.*\bthen|step [0-9]|steps:|after that|and then|finally)\b`)
	reasoningRe  = regexp.MustCompile(`\b(analyze|analyse|reason|think through|derive|prove|tradeoffs?|why does|why is|compare and contrast|explain why)\b`)
	expertRe     = regexp.MustCompile(`\b(distributed consensus|byzantine|paxos|raft|cryptograph|zero[- ]knowledge|theorem|formal proof|compiler|type theory|quantum|lock[- ]free)\b`)
	searchRe     = regexp.MustCompile(`\b(search|look up|find out|latest|news about)\b`)
	memoryRe     = regexp.MustCompile(`\b(remember|recall|what did (i|we)|last time|forget)\b`)
	fileOpRe     = regexp.MustCompile(`\b(file|directory|folder|read from|write to|save (to|as)|delete the)\b`)
	apiCallRe    = regexp.MustCompile(`\b(api|endpoint|http|webhook|curl|rest call|fetch from)\b`)
	compactionRe = regexp.MustCompile(`\b(compact|condense|trim) (the )?(context|conversation|history)\b`)
	embeddingRe  = regexp.MustCompile(`\b(embedding|embed|vectorize|similarity search)\b`)
	summarizeRe  = regexp.MustCompile(`\b(summarize|summarise|summary|tl;?dr)\b`)
	translateRe  = regexp.MustCompile(`\b(translate|translation|(in|to|into) (french|spanish|german|japanese|chinese|hindi|sanskrit))\b`)
	toolExecRe   = regexp.MustCompile(`\b(run|execute|invoke|use the|call the)\b`)
	visionRe     = regexp.MustCompile(`\b(image|picture|photo|screenshot|diagram|look at this)\b`)
)

func matchRe(re *regexp.Regexp) func(Input, string) bool {
	return func(_ Input, lower string) bool { return re.MatchString(lower) }
}

// taskSignals vote per task type. The winning type is the one with the
// highest aggregated weight; declaration order breaks ties.
var taskSignals = []signal{
	{label: string(TaskHeartbeat), weight: 3.0, match: matchRe(heartbeatRe)},
	{label: string(TaskSmalltalk), weight: 2.0, match: func(in Input, lower string) bool {
		return greetingRe.MatchString(lower) && in.WordCount <= 6
	}},
	{label: string(TaskSmalltalk), weight: 0.5, match: func(in Input, _ string) bool {
		return in.WordCount > 0 && in.WordCount <= 3
	}},
	{label: string(TaskVision), weight: 2.5, match: matchRe(visionRe)},
	{label: string(TaskEmbedding), weight: 2.5, match: matchRe(embeddingRe)},
	{label: string(TaskCompaction), weight: 2.5, match: matchRe(compactionRe)},
	{label: string(TaskSummarize), weight: 2.5, match: matchRe(summarizeRe)},
	{label: string(TaskTranslate), weight: 2.5, match: matchRe(translateRe)},
	{label: string(TaskSearch), weight: 2.0, match: matchRe(searchRe)},
	{label: string(TaskMemory), weight: 2.0, match: matchRe(memoryRe)},
	{label: string(TaskFileOp), weight: 2.0, match: matchRe(fileOpRe)},
	{label: string(TaskAPICall), weight: 2.0, match: matchRe(apiCallRe)},
	{label: string(TaskCodeGen), weight: 2.0, match: func(_ Input, lower string) bool {
		return codeRe.MatchString(lower) || fenceRe.MatchString(lower)
	}},
	{label: string(TaskCodeGen), weight: 1.5, match: matchRe(codeVerbRe)},
	{label: string(TaskToolExec), weight: 2.0, match: func(in Input, lower string) bool {
		return in.HasTools && toolExecRe.MatchString(lower)
	}},
	{label: string(TaskReasoning), weight: 2.0, match: matchRe(reasoningRe)},
	{label: string(TaskReasoning), weight: 1.0, match: matchRe(expertRe)},
}

type scoreRange struct {
	lower, upper float64
}

// taskRanges give each task type its expected score band, used only for the
// confidence estimate of the winning type.
var taskRanges = map[TaskType]scoreRange{
	TaskHeartbeat:  {2.0, 4.0},
	TaskSmalltalk:  {1.0, 3.5},
	TaskSearch:     {1.0, 5.0},
	TaskMemory:     {1.0, 5.0},
	TaskFileOp:     {1.0, 5.0},
	TaskAPICall:    {1.0, 5.0},
	TaskCompaction: {1.0, 5.0},
	TaskEmbedding:  {1.0, 5.0},
	TaskCodeGen:    {1.0, 5.0},
	TaskChat:       {0.0, 1.0},
	TaskSummarize:  {1.0, 5.0},
	TaskTranslate:  {1.0, 5.0},
	TaskToolExec:   {1.0, 5.0},
	TaskReasoning:  {1.0, 5.0},
	TaskVision:     {1.0, 5.0},
}

// complexitySignals accumulate on a single ordinal axis; the summed score
// selects a tier from complexityTiers.
var complexitySignals = []signal{
	{label: "greeting", weight: 0.2, match: matchRe(greetingRe)},
	{label: "short-question", weight: 0.5, match: matchRe(shortQRe)},
	{label: "brief", weight: 0.5, match: func(in Input, _ string) bool {
		return in.WordCount > 0 && in.WordCount < 25
	}},
	{label: "code", weight: 2.0, match: func(_ Input, lower string) bool {
		return codeRe.MatchString(lower) || fenceRe.MatchString(lower)
	}},
	{label: "multi-step", weight: 1.5, match: matchRe(multiStepRe)},
	{label: "reasoning-depth", weight: 2.0, match: matchRe(reasoningRe)},
	{label: "expert-domain", weight: 3.0, match: matchRe(expertRe)},
	{label: "tools", weight: 1.0, match: func(in Input, _ string) bool { return in.HasTools }},
	{label: "long-form", weight: 1.5, match: func(in Input, _ string) bool { return in.WordCount > 150 }},
}

// complexityTiers map a score to a tier: inclusive lower, exclusive upper.
// Scores past the last upper bound clamp into the expert tier.
var complexityTiers = []struct {
	level Complexity
	scoreRange
}{
	{ComplexityTrivial, scoreRange{0, 1}},
	{ComplexitySimple, scoreRange{1, 2}},
	{ComplexityMedium, scoreRange{2, 3.5}},
	{ComplexityComplex, scoreRange{3.5, 5.5}},
	{ComplexityExpert, scoreRange{5.5, 8}},
}

// TaskResult is the outcome of intent classification.
type TaskResult struct {
	Type       TaskType
	Score      float64
	Confidence float64
}

// ComplexityResult is the outcome of difficulty classification.
type ComplexityResult struct {
	Level      Complexity
	Score      float64
	Confidence float64
	Signals    []string
}

// ClassifyTask infers the request's task type by aggregating weighted signal
// votes per type. An input matching no signal defaults to chat at the
// confidence floor.
func ClassifyTask(in Input) TaskResult {
	lower := strings.ToLower(in.Text)

	scores := make(map[string]float64)
	var order []string
	for _, s := range taskSignals {
		if !s.match(in, lower) {
			continue
		}
		if _, seen := scores[s.label]; !seen {
			order = append(order, s.label)
		}
		scores[s.label] += s.weight
	}

	best, bestScore := "", 0.0
	for _, label := range order {
		if scores[label] > bestScore {
			best, bestScore = label, scores[label]
		}
	}
	if best == "" {
		return TaskResult{Type: TaskChat, Score: 0, Confidence: 0.5}
	}

	t := TaskType(best)
	return TaskResult{
		Type:       t,
		Score:      bestScore,
		Confidence: rangeConfidence(bestScore, taskRanges[t]),
	}
}

// ClassifyComplexity infers the difficulty tier from the summed signal score.
func ClassifyComplexity(in Input) ComplexityResult {
	lower := strings.ToLower(in.Text)

	score := 0.0
	var matched []string
	for _, s := range complexitySignals {
		if s.match(in, lower) {
			score += s.weight
			matched = append(matched, s.label)
		}
	}

	tier := complexityTiers[len(complexityTiers)-1]
	for _, t := range complexityTiers {
		if score >= t.lower && score < t.upper {
			tier = t
			break
		}
	}

	return ComplexityResult{
		Level:      tier.level,
		Score:      score,
		Confidence: rangeConfidence(score, tier.scoreRange),
		Signals:    matched,
	}
}

// rangeConfidence maps distance from the tier center to [0.5, 1.0].
func rangeConfidence(score float64, r scoreRange) float64 {
	width := r.upper - r.lower
	if width <= 0 {
		return 0.5
	}
	center := (r.lower + r.upper) / 2
	c := 1 - math.Abs(score-center)/width
	return math.Min(1.0, math.Max(0.5, c))
}
