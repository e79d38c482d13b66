package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"classroom-live-service/internal/domain"
)

const maxResponseBytes = 1 << 20

// HTTPGrader calls a remote grading service with {quiz, answers} and expects
// {score, analysis, teacherFeedback}. Model-backed graders often wrap the JSON in
// prose, so the first {...} block of the body is used when the body itself is not JSON.
type HTTPGrader struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPGrader(url, apiKey string, client *http.Client) *HTTPGrader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGrader{url: url, apiKey: apiKey, client: client}
}

type gradeRequest struct {
	Quiz    domain.Quiz    `json:"quiz"`
	Answers domain.Answers `json:"answers"`
}

// gradeResponse also accepts the Indonesian field names used by older grader prompts.
type gradeResponse struct {
	Score           *int   `json:"score"`
	Analysis        string `json:"analysis"`
	TeacherFeedback string `json:"teacherFeedback"`

	SkorTotal    *int   `json:"skor_total"`
	Analisis     string `json:"analisis"`
	FeedbackGuru string `json:"feedback_guru"`
}

func (g *HTTPGrader) Grade(ctx context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error) {
	body, err := json.Marshal(gradeRequest{Quiz: master, Answers: answers})
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("marshal grade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("build grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("%w: %w", domain.ErrGraderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("%w: read body: %w", domain.ErrGraderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Assessment{}, fmt.Errorf("%w: status %d", domain.ErrGraderUnavailable, resp.StatusCode)
	}
	return parseAssessment(raw)
}

func parseAssessment(raw []byte) (domain.Assessment, error) {
	var out gradeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		start, end := bytes.IndexByte(raw, '{'), bytes.LastIndexByte(raw, '}')
		if start < 0 || end <= start {
			return domain.Assessment{}, fmt.Errorf("%w: no JSON object in response", domain.ErrMalformedAssessment)
		}
		out = gradeResponse{}
		if err := json.Unmarshal(raw[start:end+1], &out); err != nil {
			return domain.Assessment{}, fmt.Errorf("%w: %w", domain.ErrMalformedAssessment, err)
		}
	}

	score := out.Score
	if score == nil {
		score = out.SkorTotal
	}
	if score == nil {
		return domain.Assessment{}, fmt.Errorf("%w: missing score", domain.ErrMalformedAssessment)
	}
	if *score < 0 || *score > 100 {
		return domain.Assessment{}, fmt.Errorf("%w: score %d out of range", domain.ErrMalformedAssessment, *score)
	}

	a := domain.Assessment{Score: *score, Analysis: out.Analysis, TeacherFeedback: out.TeacherFeedback}
	if a.Analysis == "" {
		a.Analysis = out.Analisis
	}
	if a.TeacherFeedback == "" {
		a.TeacherFeedback = out.FeedbackGuru
	}
	return a, nil
}
