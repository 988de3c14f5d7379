package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
)

// SimulationCompleter answers offline with canned, persona-appropriate text.
// Output is a pure function of the request, so runs are reproducible.
type SimulationCompleter struct{}

// NewSimulationCompleter creates the offline provider
func NewSimulationCompleter() *SimulationCompleter {
	return &SimulationCompleter{}
}

func (s *SimulationCompleter) Name() string {
	return string(config.ProviderSimulation)
}

// Ping always succeeds; there is nothing to authenticate
func (s *SimulationCompleter) Ping(ctx context.Context) error {
	return ctx.Err()
}

var simulatedAnswers = map[string]map[string][]string{
	"Gen Z": {
		model.SentimentPositive: {
			"I see this on social media all the time and honestly it feels like a change we need. Our generation has to shape the future.",
			"Thinking about the environment, we need a new approach. My friends care about this too.",
			"Digital tools could solve this efficiently. I want to look at it differently from older people.",
		},
		model.SentimentNegative: {
			"Honestly I'm worried about the future and this seems hard right now. Jobs and money are already tight.",
			"I get the ideals but realistically it's tough. Please listen to younger people.",
			"We live with the consequences of what adults decide, yet nobody asks us.",
		},
		model.SentimentNeutral: {
			"Not really sure yet. I want to read more before deciding.",
			"There are so many opinions that I'm torn. I need more time to think.",
		},
	},
	"Millennial": {
		model.SentimentPositive: {
			"Thinking about my kids' future I believe it's necessary. It should work for people who have jobs too.",
			"If it's realistic and doable I'd support it. Please consider the household budget.",
			"I want to bring what I've learned at work and offer constructive ideas.",
		},
		model.SentimentNegative: {
			"Between childcare and work I can't take on more burden. We need practical solutions.",
			"I understand the ideal, but the impact on daily life makes me oppose it.",
			"Stuck in the middle, I hear both sides and it's a genuinely hard problem.",
		},
		model.SentimentNeutral: {
			"I want to weigh the pros and cons carefully, including the effect on children.",
			"It's debated at work too but no conclusion yet. I need more information.",
		},
	},
	"Gen X": {
		model.SentimentPositive: {
			"In the long run acting now matters. I'd like to use my experience.",
			"Having watched society change, I'm cautious but positive about it.",
		},
		model.SentimentNegative: {
			"Given the practical issues it won't be easy. It needs more concrete study.",
			"The gap between ideal and reality is too big. A step-by-step approach is needed.",
		},
		model.SentimentNeutral: {
			"I want to hear different positions and make a balanced judgment.",
			"This needs careful review. We shouldn't rush it.",
		},
	},
	"Bubble": {
		model.SentimentPositive: {
			"I want to draw on my experience and make constructive proposals.",
			"We should keep things stable while adapting where change is needed.",
		},
		model.SentimentNegative: {
			"Careful review matters more than hasty change. The risks need proper thought.",
			"It has many problems when you consider consistency with existing systems.",
		},
		model.SentimentNeutral: {
			"I want to think carefully about the long-term effects and the next generation.",
			"Balancing stability and innovation is what matters.",
		},
	},
	"Boomer": {
		model.SentimentPositive: {
			"For the next generation I want to do what I can now and contribute my experience.",
			"After a long life I can say change that fits the times is necessary.",
		},
		model.SentimentNegative: {
			"Sudden change makes me uneasy. It should proceed more carefully.",
			"Please also consider the good parts of the current system.",
		},
		model.SentimentNeutral: {
			"I want to decide responsibly, thinking of the effect on the next generation.",
			"We should consider the balance of society as a whole.",
		},
	},
}

var apatheticAnswers = []string{
	"I don't really follow politics, so I'd leave it to the experts.",
	"I only think about the parts that affect my daily life.",
	"I'm not well informed, so I don't have a strong opinion.",
}

var (
	positiveQuestionWords = []string{"measure", "improve", "support", "promote", "対策", "改善", "支援", "促進"}
	negativeQuestionWords = []string{"problem", "issue", "difficult", "anxiety", "問題", "課題", "困難", "不安"}
)

const simulatedInsight = `[Key themes]
Answers split along generational lines. Younger respondents welcome change but worry about money and jobs; older respondents value stability and ask for gradual steps.

[Points of conflict]
Idealism versus practicality is the main axis. Respondents raising children focus on the direct effect on household budgets.

[Emotional tone]
Cautious realism dominates. Anxiety about the future appears across age groups, with hope concentrated among younger respondents.

[Keywords]
"future", "burden", "realistic", "careful", "balance" recur and signal a preference for incremental reform.

[Implications]
Policies should phase changes in, explain household impact clearly, and create channels for younger voices.`

// Complete returns a deterministic answer for the request
func (s *SimulationCompleter) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	switch req.Task {
	case TaskInsight:
		return ChatResponse{Text: simulatedInsight}, nil
	case TaskSearchSummary:
		q := req.Meta["question"]
		return ChatResponse{Text: fmt.Sprintf(
			"Recent coverage of %q: officials announced a new policy direction and experts urge careful review. "+
				"Opinion differs by generation, with younger people more hopeful and older people prioritizing stability.", q)}, nil
	}

	h := fnv.New64a()
	h.Write([]byte(req.Meta["persona_id"]))
	h.Write([]byte(req.Meta["question"]))
	pick := h.Sum64()

	if req.Meta[model.AttrPoliticalLeaning] == "apathetic" || req.Meta[model.AttrStance] == "indifferent" {
		answer := apatheticAnswers[pick%uint64(len(apatheticAnswers))]
		return ChatResponse{Text: simulatedLines(3, model.SentimentNeutral, answer)}, nil
	}

	sentiment := questionSentiment(req.Meta["question"])
	if sentiment == model.SentimentNeutral {
		switch req.Meta[model.AttrStance] {
		case "optimistic":
			sentiment = model.SentimentPositive
		case "skeptical":
			sentiment = model.SentimentNegative
		}
	}

	patterns, ok := simulatedAnswers[req.Meta[model.AttrGeneration]]
	if !ok {
		patterns = simulatedAnswers["Gen X"]
	}
	answers := patterns[sentiment]
	answer := answers[pick%uint64(len(answers))]

	rating := 3
	switch sentiment {
	case model.SentimentPositive:
		rating = 4 + int(pick>>8%2)
	case model.SentimentNegative:
		rating = 1 + int(pick>>8%2)
	}
	return ChatResponse{Text: simulatedLines(rating, sentiment, answer)}, nil
}

func questionSentiment(question string) string {
	q := strings.ToLower(question)
	for _, w := range positiveQuestionWords {
		if strings.Contains(q, w) {
			return model.SentimentPositive
		}
	}
	for _, w := range negativeQuestionWords {
		if strings.Contains(q, w) {
			return model.SentimentNegative
		}
	}
	return model.SentimentNeutral
}

func simulatedLines(rating int, sentiment, answer string) string {
	return fmt.Sprintf("RATING: %d\nSENTIMENT: %s\nANSWER: %s", rating, sentiment, answer)
}
