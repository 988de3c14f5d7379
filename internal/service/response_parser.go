package service

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/niikun/social-listening/internal/model"
)

// Parser strategy names, recorded on every parsed answer
const (
	StrategyJSON      = "json"
	StrategyMarkers   = "markers"
	StrategyHeuristic = "heuristic"
)

var (
	ratingLine    = regexp.MustCompile(`(?im)^[\s*_#-]*(?:rating|score|評価)[\s*_]*[:：]\s*(.+)$`)
	sentimentLine = regexp.MustCompile(`(?im)^[\s*_#-]*(?:sentiment|感情)[\s*_]*[:：]\s*(.+)$`)
	answerLine    = regexp.MustCompile(`(?im)^[\s*_#-]*(?:answer|reason|rationale|回答)[\s*_]*[:：]\s*(.+)$`)
	markerLine    = regexp.MustCompile(`(?im)^[\s*_#-]*(?:rating|score|評価|sentiment|感情|answer|reason|rationale|回答)[\s*_]*[:：].*$`)

	fractionPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:/|out of)\s*(\d+)`)
	integerPattern  = regexp.MustCompile(`\b\d+\b`)
	starPattern     = regexp.MustCompile(`★+`)
)

// ResponseParser turns raw model text into structured fields. It is stateless
// and Parse is idempotent.
type ResponseParser struct{}

// NewResponseParser creates a parser
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

type parseStrategy struct {
	name    string
	extract func(text string, schema model.AnswerSchema) (model.ParsedAnswer, bool)
}

var strategies = []parseStrategy{
	{StrategyJSON, extractJSON},
	{StrategyMarkers, extractMarkers},
	{StrategyHeuristic, extractHeuristic},
}

// Parse tries each extraction strategy in order and validates the first
// result that satisfies schema. Failure wraps ErrParseFailed.
func (p *ResponseParser) Parse(raw string, schema model.AnswerSchema) (model.ParsedAnswer, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.ParsedAnswer{}, fmt.Errorf("%w: empty response", ErrParseFailed)
	}

	for _, s := range strategies {
		answer, ok := s.extract(text, schema)
		if !ok {
			continue
		}
		answer, ok = finalize(answer, text, schema)
		if !ok {
			continue
		}
		answer.Strategy = s.name
		return answer, nil
	}
	return model.ParsedAnswer{}, fmt.Errorf("%w: no strategy matched %s format", ErrParseFailed, schema.Format)
}

// finalize fills derived fields and enforces the schema
func finalize(a model.ParsedAnswer, text string, schema model.AnswerSchema) (model.ParsedAnswer, bool) {
	if a.Rating != nil && (*a.Rating < schema.RatingMin || *a.Rating > schema.RatingMax) {
		return a, false
	}
	if schema.RequiresRating() && a.Rating == nil {
		return a, false
	}
	if a.Sentiment != "" {
		a.Sentiment = normalizeSentiment(a.Sentiment)
		if a.Sentiment == "" {
			return a, false
		}
	}
	if a.Sentiment == "" && a.Rating != nil {
		a.Sentiment = sentimentFromRating(*a.Rating, schema)
	}
	if a.Sentiment == "" {
		a.Sentiment = LexiconSentiment(text)
	}
	if strings.TrimSpace(a.Rationale) == "" {
		a.Rationale = text
	}
	a.Rationale = trimRunes(a.Rationale, schema.MaxLength)
	return a, true
}

func extractJSON(text string, schema model.AnswerSchema) (model.ParsedAnswer, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return model.ParsedAnswer{}, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return model.ParsedAnswer{}, false
	}

	fields := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		fields[strings.ToLower(k)] = v
	}

	var a model.ParsedAnswer
	found := false
	switch v := fields["rating"].(type) {
	case float64:
		r := int(math.Round(v))
		a.Rating = &r
		found = true
	case string:
		if r, ok := parseRatingValue(v, schema); ok {
			a.Rating = &r
			found = true
		}
	}
	if s, ok := fields["sentiment"].(string); ok && s != "" {
		a.Sentiment = s
		found = true
	}
	for _, key := range []string{"answer", "rationale", "reason"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			a.Rationale = strings.TrimSpace(s)
			found = true
			break
		}
	}
	return a, found
}

func extractMarkers(text string, schema model.AnswerSchema) (model.ParsedAnswer, bool) {
	var a model.ParsedAnswer
	found := false
	if m := ratingLine.FindStringSubmatch(text); m != nil {
		if r, ok := parseRatingValue(m[1], schema); ok {
			a.Rating = &r
		}
		found = true
	}
	if m := sentimentLine.FindStringSubmatch(text); m != nil {
		a.Sentiment = strings.Trim(strings.TrimSpace(m[1]), "*_.")
		found = true
	}
	if m := answerLine.FindStringSubmatch(text); m != nil {
		a.Rationale = strings.Trim(m[1], " \t*_")
		found = true
	} else if found {
		a.Rationale = strings.TrimSpace(markerLine.ReplaceAllString(text, ""))
	}
	return a, found
}

func extractHeuristic(text string, schema model.AnswerSchema) (model.ParsedAnswer, bool) {
	a := model.ParsedAnswer{Rationale: text}
	if r, ok := parseRatingValue(text, schema); ok {
		a.Rating = &r
	}
	return a, true
}

// parseRatingValue reads "4", "4/5", "8 out of 10" or "★★★★". Fractions
// with a different denominator are scaled to the schema range.
func parseRatingValue(s string, schema model.AnswerSchema) (int, bool) {
	if m := fractionPattern.FindStringSubmatch(s); m != nil {
		num, err1 := strconv.ParseFloat(m[1], 64)
		den, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && den > 0 && num <= den {
			if int(den) == schema.RatingMax {
				return int(math.Round(num)), true
			}
			scaled := int(math.Round(num / den * float64(schema.RatingMax)))
			if scaled < schema.RatingMin {
				scaled = schema.RatingMin
			}
			return scaled, true
		}
	}
	if m := starPattern.FindString(s); m != "" {
		return len([]rune(m)), true
	}

	var inRange []int
	for _, tok := range integerPattern.FindAllString(s, -1) {
		n, err := strconv.Atoi(tok)
		if err == nil && n >= schema.RatingMin && n <= schema.RatingMax {
			inRange = append(inRange, n)
		}
	}
	if len(inRange) == 1 {
		return inRange[0], true
	}
	return 0, false
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos", "favorable", "favourable", "ポジティブ", "肯定的", "肯定":
		return model.SentimentPositive
	case "negative", "neg", "unfavorable", "unfavourable", "ネガティブ", "否定的", "否定":
		return model.SentimentNegative
	case "neutral", "mixed", "neu", "中立", "どちらでもない":
		return model.SentimentNeutral
	}
	return ""
}

func sentimentFromRating(r int, schema model.AnswerSchema) string {
	span := float64(schema.RatingMax - schema.RatingMin)
	pos := float64(r-schema.RatingMin) / span
	switch {
	case pos >= 0.75:
		return model.SentimentPositive
	case pos <= 0.25:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "like": true, "love": true, "support": true, "agree": true,
		"hope": true, "hopeful": true, "expect": true, "positive": true, "benefit": true,
		"welcome": true, "excited": true, "useful": true, "favor": true, "favour": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "worry": true, "worried": true, "concern": true, "concerned": true,
		"anxious": true, "oppose": true, "against": true, "problem": true, "dislike": true,
		"hate": true, "risk": true, "uneasy": true, "negative": true, "burden": true,
	}
	positiveCJK = []string{"良い", "期待", "希望", "賛成", "支持"}
	negativeCJK = []string{"悪い", "不安", "心配", "反対", "問題"}
)

// LexiconSentiment scores text by counting positive and negative words
func LexiconSentiment(text string) string {
	pos, neg := 0, 0
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		w = strings.TrimSuffix(strings.TrimSuffix(w, "'s"), "s")
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	for _, w := range positiveCJK {
		pos += strings.Count(text, w)
	}
	for _, w := range negativeCJK {
		neg += strings.Count(text, w)
	}
	switch {
	case pos > neg:
		return model.SentimentPositive
	case neg > pos:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}
