package grading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"classroom-live-service/internal/domain"
)

// RuleGrader grades locally and deterministically: exact multiple choice, tolerant
// short answers and keyword coverage for essays. Every question weighs the same.
type RuleGrader struct{}

func NewRuleGrader() *RuleGrader {
	return &RuleGrader{}
}

func (g *RuleGrader) Grade(_ context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error) {
	total := master.QuestionCount()
	if total == 0 {
		return domain.Assessment{
			Score:           0,
			Analysis:        "quiz has no questions",
			TeacherFeedback: domain.FeedbackManualReview,
		}, nil
	}

	var (
		earned       float64
		mcqCorrect   int
		shortCorrect int
		essayCredit  float64
		missed       []string
	)

	for i, q := range master.MultipleChoice {
		if matchChoice(q, answerAt(answers.MultipleChoice, i)) {
			mcqCorrect++
			earned++
		} else {
			missed = append(missed, fmt.Sprintf("MC%d", i+1))
		}
	}
	for i, q := range master.ShortAnswer {
		if matchShort(q.Answer, answerAt(answers.ShortAnswer, i)) {
			shortCorrect++
			earned++
		} else {
			missed = append(missed, fmt.Sprintf("SA%d", i+1))
		}
	}
	for i, q := range master.Essay {
		credit := keywordCoverage(q.Keywords, answerAt(answers.Essay, i))
		essayCredit += credit
		earned += credit
		if credit < 0.5 {
			missed = append(missed, fmt.Sprintf("E%d", i+1))
		}
	}

	score := int(math.Round(100 * earned / float64(total)))
	analysis := fmt.Sprintf("multiple choice %d/%d correct, short answer %d/%d correct",
		mcqCorrect, len(master.MultipleChoice), shortCorrect, len(master.ShortAnswer))
	if len(master.Essay) > 0 {
		analysis += fmt.Sprintf(", essay keyword coverage %d%%",
			int(math.Round(100*essayCredit/float64(len(master.Essay)))))
	}

	feedback := "no follow-up needed"
	if len(missed) > 0 {
		feedback = "review " + strings.Join(missed, ", ")
	}
	return domain.Assessment{Score: clamp(score), Analysis: analysis, TeacherFeedback: feedback}, nil
}

func answerAt(answers []string, i int) string {
	if i < len(answers) {
		return answers[i]
	}
	return ""
}

// matchChoice accepts the option text, or a single option letter (a, b, c...).
// An answer that is the text of some option is always read as that option, never
// as a letter.
func matchChoice(q domain.MultipleChoice, answer string) bool {
	want := normalize(q.Correct)
	got := normalize(answer)
	if got == "" {
		return false
	}
	if got == want {
		return true
	}
	for _, opt := range q.Options {
		if normalize(opt) == got {
			return false
		}
	}
	if len(got) == 1 && got[0] >= 'a' && got[0] <= 'z' {
		idx := int(got[0] - 'a')
		if idx < len(q.Options) {
			return normalize(q.Options[idx]) == want
		}
	}
	return false
}

// matchShort tolerates one edit on answers of five or more characters.
func matchShort(expected, answer string) bool {
	want, got := normalize(expected), normalize(answer)
	if got == "" {
		return false
	}
	if want == got {
		return true
	}
	return len([]rune(want)) >= 5 && levenshtein(want, got) <= 1
}

func keywordCoverage(keywords []string, answer string) float64 {
	got := normalize(answer)
	if got == "" {
		return 0
	}
	if len(keywords) == 0 {
		return 1
	}
	hits := 0
	for _, k := range keywords {
		if kw := normalize(k); kw != "" && strings.Contains(got, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func clamp(score int) int {
	return max(0, min(100, score))
}
