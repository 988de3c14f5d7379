package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/niikun/social-listening/internal/model"
)

// Chat roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// perMessageOverhead approximates role and separator tokens per chat message
const perMessageOverhead = 4

// ChatMessage is one entry of a chat-completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is an assembled request plus what had to be cut to fit
type Prompt struct {
	Messages          []ChatMessage
	EstimatedTokens   int
	DroppedSnippets   int
	DroppedAttributes int
	OverBudget        bool
}

// PromptBuilder assembles persona prompts within a token budget
type PromptBuilder struct {
	contextWindow int
	maxTokens     int
}

// NewPromptBuilder creates a builder. The prompt budget is the context
// window minus the tokens reserved for the completion.
func NewPromptBuilder(contextWindow, maxTokens int) *PromptBuilder {
	return &PromptBuilder{contextWindow: contextWindow, maxTokens: maxTokens}
}

// Budget is the maximum number of prompt tokens
func (b *PromptBuilder) Budget() int {
	return b.contextWindow - b.maxTokens
}

// EstimateTokens approximates a tokenizer: about four ASCII bytes per token
// and one token per non-ASCII rune
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ascii, other := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	n := (ascii+3)/4 + other
	if n == 0 {
		n = 1
	}
	return n
}

func estimateMessages(msgs []ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + perMessageOverhead
	}
	return total
}

// Build assembles the prompt. When over budget it drops the search summary
// or the lowest-ranked snippets first, then persona attributes from the end.
// The question text is never altered.
func (b *PromptBuilder) Build(persona model.Persona, question model.SurveyQuestion, sc *model.SearchContext) Prompt {
	var snippets []model.Snippet
	var summary string
	switch {
	case sc.Empty():
	case sc.Summary != "":
		summary = sc.Summary
	default:
		snippets = append(snippets, sc.Snippets...)
		sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Rank < snippets[j].Rank })
	}
	attrs := append([]model.Attribute(nil), persona.Attributes...)
	schema := question.Schema()

	p := Prompt{}
	for {
		p.Messages = []ChatMessage{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: renderPersonaPrompt(attrs, snippets, summary, question.Text, schema)},
		}
		p.EstimatedTokens = estimateMessages(p.Messages)
		if p.EstimatedTokens <= b.Budget() {
			return p
		}
		switch {
		case summary != "":
			summary = ""
			p.DroppedSnippets++
		case len(snippets) > 0:
			snippets = snippets[:len(snippets)-1]
			p.DroppedSnippets++
		case len(attrs) > 0:
			attrs = attrs[:len(attrs)-1]
			p.DroppedAttributes++
		default:
			p.OverBudget = true
			return p
		}
	}
}

const systemPrompt = "You are answering a survey as the person described in the profile. " +
	"Stay in character and use the tone someone of that age and occupation would use. " +
	"Follow the answer format exactly."

func renderPersonaPrompt(attrs []model.Attribute, snippets []model.Snippet, summary, question string, schema model.AnswerSchema) string {
	var sb strings.Builder

	if len(attrs) > 0 {
		sb.WriteString("[Profile]\n")
		for _, a := range attrs {
			fmt.Fprintf(&sb, "- %s: %s\n", strings.ReplaceAll(a.Name, "_", " "), a.Value)
		}
		sb.WriteString("\n")
	}

	if summary != "" {
		sb.WriteString("[Reference information]\n")
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}

	if len(snippets) > 0 {
		sb.WriteString("[Reference information]\n")
		for i, s := range snippets {
			fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, s.Title, s.Excerpt)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("[Question]\n")
	sb.WriteString(question)
	sb.WriteString("\n\n[Answer format]\nReply with exactly these lines:\n")
	if schema.Format == model.FormatRating {
		fmt.Fprintf(&sb, "RATING: <integer from %d to %d>\n", schema.RatingMin, schema.RatingMax)
	}
	sb.WriteString("SENTIMENT: <positive, negative or neutral>\n")
	fmt.Fprintf(&sb, "ANSWER: <your answer in at most %d characters>\n", schema.MaxLength)
	return sb.String()
}
