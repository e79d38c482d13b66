package grading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"classroom-live-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHTTPGraderSendsQuizAndAnswers(t *testing.T) {
	var got gradeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"score": 72, "analysis": "solid", "teacherFeedback": "revisit fractions"}`))
	}))
	defer server.Close()

	quiz := domain.Quiz{MultipleChoice: []domain.MultipleChoice{{Question: "q", Options: []string{"a"}, Correct: "a"}}}
	answers := domain.Answers{MultipleChoice: []string{"a"}}

	a, err := NewHTTPGrader(server.URL, "k-123", server.Client()).Grade(context.Background(), quiz, answers)
	require.NoError(t, err)
	require.Equal(t, domain.Assessment{Score: 72, Analysis: "solid", TeacherFeedback: "revisit fractions"}, a)
	require.Equal(t, "a", got.Quiz.MultipleChoice[0].Correct)
	require.Equal(t, answers, got.Answers)
}

func TestHTTPGraderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPGrader(server.URL, "", nil).Grade(context.Background(), domain.Quiz{}, domain.Answers{})
	require.ErrorIs(t, err, domain.ErrGraderUnavailable)
}

func TestHTTPGraderHonoursContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPGrader(server.URL, "", nil).Grade(ctx, domain.Quiz{}, domain.Answers{})
	require.ErrorIs(t, err, domain.ErrGraderUnavailable)
}

func TestParseAssessment(t *testing.T) {
	cases := []struct {
		name string
		body string
		want domain.Assessment
		err  error
	}{
		{
			name: "wrapped in prose",
			body: "Here is the grading:\n```json\n{\"score\": 90, \"analysis\": \"good\", \"teacherFeedback\": \"none\"}\n```",
			want: domain.Assessment{Score: 90, Analysis: "good", TeacherFeedback: "none"},
		},
		{
			name: "indonesian keys",
			body: `{"skor_total": 65, "analisis": "cukup", "feedback_guru": "latihan lagi"}`,
			want: domain.Assessment{Score: 65, Analysis: "cukup", TeacherFeedback: "latihan lagi"},
		},
		{name: "out of range", body: `{"score": 101}`, err: domain.ErrMalformedAssessment},
		{name: "missing score", body: `{"analysis": "?"}`, err: domain.ErrMalformedAssessment},
		{name: "no json", body: `I cannot grade this.`, err: domain.ErrMalformedAssessment},
		{name: "broken json", body: `{"score": 4`, err: domain.ErrMalformedAssessment},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAssessment([]byte(tc.body))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
