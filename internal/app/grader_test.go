package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/infra/memory"
	"github.com/stretchr/testify/require"
)

func newGrader(t *testing.T, g app.Grader) (*app.SubmissionGrader, *app.QuizSessions) {
	t.Helper()
	quizzes := app.NewQuizSessions(memory.NewQuizRepository(), 2)
	return app.NewSubmissionGrader(quizzes, g, 100*time.Millisecond), quizzes
}

func submission(answers domain.Answers) domain.Submission {
	return domain.Submission{Identity: domain.Identity{Name: "Ana"}, Answers: answers}
}

func TestGradeWithoutStoredQuizDegrades(t *testing.T) {
	called := false
	grader, _ := newGrader(t, graderFunc(func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
		called = true
		return domain.Assessment{Score: 100}, nil
	}))

	result := grader.Grade(context.Background(), "R2", submission(domain.Answers{MultipleChoice: []string{"4"}}))

	require.False(t, called)
	require.Equal(t, 0, result.Score)
	require.True(t, result.Degraded)
	require.Contains(t, result.Analysis, "session data missing")
	require.Equal(t, domain.FeedbackManualReview, result.TeacherFeedback)
}

func TestGradeCollaboratorFailuresDegrade(t *testing.T) {
	cases := map[string]graderFunc{
		"error": func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
			return domain.Assessment{}, errors.New("model overloaded")
		},
		"timeout": func(ctx context.Context, _ domain.Quiz, _ domain.Answers) (domain.Assessment, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return domain.Assessment{Score: 90}, nil
		},
		"ignores cancellation": func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
			time.Sleep(time.Second)
			return domain.Assessment{Score: 90}, nil
		},
		"score above range": func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
			return domain.Assessment{Score: 140, Analysis: "great"}, nil
		},
		"negative score": func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
			return domain.Assessment{Score: -5}, nil
		},
		"panic": func(context.Context, domain.Quiz, domain.Answers) (domain.Assessment, error) {
			panic("boom")
		},
	}

	for name, collaborator := range cases {
		t.Run(name, func(t *testing.T) {
			grader, quizzes := newGrader(t, collaborator)
			_, err := quizzes.StartQuiz(context.Background(), "R1", arithmeticQuiz())
			require.NoError(t, err)

			start := time.Now()
			result := grader.Grade(context.Background(), "R1", submission(domain.Answers{MultipleChoice: []string{"4"}}))

			require.Less(t, time.Since(start), 900*time.Millisecond)
			require.Equal(t, 0, result.Score)
			require.True(t, result.Degraded)
			require.Equal(t, domain.AnalysisGradingFailed, result.Analysis)
			require.Equal(t, domain.FeedbackManualReview, result.TeacherFeedback)
			require.Equal(t, int64(1), result.Version)
		})
	}
}

func TestGradeUsesSubmittedVersion(t *testing.T) {
	grader, quizzes := newGrader(t, graderFunc(func(_ context.Context, master domain.Quiz, _ domain.Answers) (domain.Assessment, error) {
		return domain.Assessment{Score: 50, Analysis: master.Materi}, nil
	}))
	ctx := context.Background()

	for _, materi := range []string{"first", "second", "third"} {
		q := arithmeticQuiz()
		q.Materi = materi
		_, err := quizzes.StartQuiz(ctx, "R1", q)
		require.NoError(t, err)
	}

	sub := submission(domain.Answers{})
	sub.Version = 2
	require.Equal(t, "second", grader.Grade(ctx, "R1", sub).Analysis)

	sub.Version = 0
	require.Equal(t, "third", grader.Grade(ctx, "R1", sub).Analysis)

	// only the newest two versions are retained
	sub.Version = 1
	result := grader.Grade(ctx, "R1", sub)
	require.True(t, result.Degraded)
	require.Equal(t, domain.AnalysisSessionMissing, result.Analysis)
}
