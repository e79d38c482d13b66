package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/telemetry"
)

// Grader is the external grading collaborator. It may be slow and it may fail.
type Grader interface {
	Grade(ctx context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error)
}

// SubmissionGrader turns a submission into a GradedResult. It never fails: missing
// quizzes and grader failures produce degraded results.
type SubmissionGrader struct {
	quizzes *QuizSessions
	grader  Grader
	timeout time.Duration
	now     func() time.Time
}

// NewSubmissionGrader bounds every grader call by timeout (0 disables the bound).
func NewSubmissionGrader(quizzes *QuizSessions, grader Grader, timeout time.Duration) *SubmissionGrader {
	return &SubmissionGrader{quizzes: quizzes, grader: grader, timeout: timeout, now: time.Now}
}

// Grade looks up the master the submission answered and asks the grader to assess it.
func (g *SubmissionGrader) Grade(ctx context.Context, roomID string, sub domain.Submission) domain.GradedResult {
	master, found, err := g.quizzes.GetMaster(ctx, roomID, sub.Version)
	if err != nil {
		slog.ErrorContext(ctx, "grader: load master failed",
			"room", roomID, "name", sub.Name, "error", err)
		telemetry.Grades.WithLabelValues("store_error").Inc()
		return g.degraded(roomID, domain.Quiz{Version: sub.Version}, domain.AnalysisGradingFailed)
	}
	if !found {
		slog.WarnContext(ctx, "grader: stale submission, no stored quiz",
			"room", roomID, "name", sub.Name, "version", sub.Version)
		telemetry.Grades.WithLabelValues("session_missing").Inc()
		return g.degraded(roomID, domain.Quiz{Version: sub.Version}, domain.AnalysisSessionMissing)
	}

	assessment, err := g.assess(ctx, master, sub.Answers)
	if err != nil {
		slog.ErrorContext(ctx, "grader: collaborator failed",
			"room", roomID, "name", sub.Name, "quiz", master.ID, "error", err)
		telemetry.Grades.WithLabelValues("grader_error").Inc()
		return g.degraded(roomID, master, domain.AnalysisGradingFailed)
	}

	telemetry.Grades.WithLabelValues("graded").Inc()
	return domain.GradedResult{
		Room:            roomID,
		QuizID:          master.ID,
		Version:         master.Version,
		Score:           assessment.Score,
		Analysis:        assessment.Analysis,
		TeacherFeedback: assessment.TeacherFeedback,
		GradedAt:        g.now(),
	}
}

func (g *SubmissionGrader) assess(ctx context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		assessment domain.Assessment
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: grader panic: %v", domain.ErrGraderUnavailable, r)}
			}
		}()
		a, err := g.grader.Grade(ctx, master, answers)
		done <- outcome{assessment: a, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return domain.Assessment{}, fmt.Errorf("%w: %w", domain.ErrGraderUnavailable, ctx.Err())
	}
	if out.err != nil {
		return domain.Assessment{}, out.err
	}
	if out.assessment.Score < 0 || out.assessment.Score > 100 {
		return domain.Assessment{}, fmt.Errorf("%w: score %d out of range", domain.ErrMalformedAssessment, out.assessment.Score)
	}
	return out.assessment, nil
}

func (g *SubmissionGrader) degraded(roomID string, master domain.Quiz, analysis string) domain.GradedResult {
	return domain.GradedResult{
		Room:            roomID,
		QuizID:          master.ID,
		Version:         master.Version,
		Score:           0,
		Analysis:        analysis,
		TeacherFeedback: domain.FeedbackManualReview,
		Degraded:        true,
		GradedAt:        g.now(),
	}
}
