package service

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/cache"
	"github.com/niikun/social-listening/internal/model"
)

const topKeywordCount = 15

var stopWords = map[string]bool{
	// English
	"the": true, "and": true, "are": true, "for": true, "that": true, "this": true,
	"with": true, "but": true, "not": true, "have": true, "was": true, "you": true,
	"our": true, "its": true, "it's": true, "i'm": true, "about": true, "from": true,
	"they": true, "there": true, "would": true, "which": true, "what": true, "more": true,
	"some": true, "also": true, "can": true, "just": true, "like": true, "think": true,
	// Japanese
	"こと": true, "もの": true, "ため": true, "から": true, "まで": true, "より": true,
	"です": true, "ます": true, "ない": true, "ある": true, "いる": true, "する": true,
	"思い": true, "思う": true, "ので": true, "けど": true,
}

// AnalyticsService computes run analytics and keeps them in the run cache
type AnalyticsService struct {
	runCache cache.RunCache
	logger   *zap.Logger
}

// NewAnalyticsService creates a new analytics service. runCache may be nil.
func NewAnalyticsService(runCache cache.RunCache, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		runCache: runCache,
		logger:   logger.Named("analytics"),
	}
}

// Analyze returns analytics for a finished run, computing them on a cache miss
func (s *AnalyticsService) Analyze(ctx context.Context, run *model.SurveyRun) (*model.RunAnalytics, error) {
	if !run.Finished() {
		return nil, ErrRunNotFinished
	}

	if s.runCache != nil {
		cached, err := s.runCache.GetAnalytics(ctx, run.ID)
		if err != nil {
			s.logger.Debug("analytics cache read failed", zap.String("run_id", run.ID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	analytics := ComputeAnalytics(run)
	if s.runCache != nil {
		if err := s.runCache.SetAnalytics(ctx, analytics); err != nil {
			s.logger.Warn("failed to cache analytics", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return analytics, nil
}

// ComputeAnalytics is the pure analysis over the ok records of a run
func ComputeAnalytics(run *model.SurveyRun) *model.RunAnalytics {
	out := &model.RunAnalytics{
		RunID:      run.ID,
		Rating:     model.RatingStats{Histogram: make(map[int]int)},
		ComputedAt: time.Now(),
	}

	words := make(map[string]int)
	sentiments := make(map[string]int)
	groups := make(map[string]*groupAcc)
	var ratingSum int

	for i, rec := range run.Records {
		if rec.Status != model.StatusOK || rec.Parsed == nil {
			continue
		}
		out.Analyzed++

		for _, w := range keywords(rec.Parsed.Rationale) {
			words[w]++
		}

		sentiment := rec.Parsed.Sentiment
		if sentiment == "" {
			sentiment = LexiconSentiment(rec.Parsed.Rationale)
		}
		sentiments[sentiment]++

		if rec.Parsed.Rating != nil {
			out.Rating.Count++
			ratingSum += *rec.Parsed.Rating
			out.Rating.Histogram[*rec.Parsed.Rating]++
		}

		generation := "unknown"
		if i < len(run.Personas) {
			if g := run.Personas[i].Attr(model.AttrGeneration); g != "" {
				generation = g
			}
		}
		acc, ok := groups[generation]
		if !ok {
			acc = &groupAcc{sentiment: make(map[string]int)}
			groups[generation] = acc
		}
		acc.add(rec.Parsed, sentiment)
	}

	if len(run.Records) > 0 {
		out.ResponseRate = float64(out.Analyzed) / float64(len(run.Records))
	}
	if out.Rating.Count > 0 {
		out.Rating.Mean = float64(ratingSum) / float64(out.Rating.Count)
	}
	if out.Analyzed > 0 {
		total := float64(out.Analyzed)
		out.Sentiment = model.SentimentBreakdown{
			Positive: float64(sentiments[model.SentimentPositive]) / total * 100,
			Negative: float64(sentiments[model.SentimentNegative]) / total * 100,
			Neutral:  float64(sentiments[model.SentimentNeutral]) / total * 100,
		}
	}

	out.TopKeywords = topKeywords(words, topKeywordCount)
	out.ByGeneration = make([]model.GroupBreakdown, 0, len(groups))
	for name, acc := range groups {
		out.ByGeneration = append(out.ByGeneration, acc.breakdown(name))
	}
	sort.Slice(out.ByGeneration, func(i, j int) bool {
		return out.ByGeneration[i].Group < out.ByGeneration[j].Group
	})
	return out
}

type groupAcc struct {
	count       int
	ratingSum   int
	ratingCount int
	sentiment   map[string]int
}

func (g *groupAcc) add(p *model.ParsedAnswer, sentiment string) {
	g.count++
	g.sentiment[sentiment]++
	if p.Rating != nil {
		g.ratingSum += *p.Rating
		g.ratingCount++
	}
}

func (g *groupAcc) breakdown(name string) model.GroupBreakdown {
	b := model.GroupBreakdown{Group: name, Count: g.count, Sentiment: g.sentiment}
	if g.ratingCount > 0 {
		b.MeanRating = float64(g.ratingSum) / float64(g.ratingCount)
	}
	return b
}

func topKeywords(counts map[string]int, n int) []model.KeywordCount {
	out := make([]model.KeywordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, model.KeywordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type script int

const (
	scriptNone script = iota
	scriptLatin
	scriptHiragana
	scriptKatakana
	scriptHan
)

func scriptOf(r rune) script {
	switch {
	case unicode.In(r, unicode.Hiragana):
		return scriptHiragana
	case unicode.In(r, unicode.Katakana) || r == 'ー':
		return scriptKatakana
	case unicode.In(r, unicode.Han):
		return scriptHan
	case unicode.IsLetter(r) || r == '\'':
		return scriptLatin
	default:
		return scriptNone
	}
}

// keywords splits text into runs of a single script. Latin words need three
// letters, Japanese runs two.
func keywords(text string) []string {
	var out []string
	var cur []rune
	curScript := scriptNone

	flush := func() {
		if len(cur) == 0 {
			return
		}
		w := strings.Trim(string(cur), "'")
		min := 2
		if curScript == scriptLatin {
			w = strings.ToLower(w)
			min = 3
		}
		if len([]rune(w)) >= min && !stopWords[w] {
			out = append(out, w)
		}
		cur = cur[:0]
	}

	for _, r := range text {
		sc := scriptOf(r)
		if sc != curScript {
			flush()
			curScript = sc
		}
		if sc != scriptNone {
			cur = append(cur, r)
		}
	}
	flush()
	return out
}
