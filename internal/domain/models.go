package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role of a participant in a classroom room.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Conn is the outbound handle of one connected participant.
// Send must not block; it reports false when the message was dropped.
type Conn interface {
	ID() string
	Send(msg Envelope) bool
}

// Participant is a member of a room. (Name, Role) identifies it inside the room.
type Participant struct {
	Name     string
	Role     Role
	Conn     Conn
	JoinedAt time.Time
}

// ConnID returns the id of the participant's connection or "" when detached.
func (p Participant) ConnID() string {
	if p.Conn == nil {
		return ""
	}
	return p.Conn.ID()
}

// AttendanceEntry is the public view of a participant.
type AttendanceEntry struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Attendance lists who is present in a room, teachers first then in join order.
type Attendance struct {
	Room         string            `json:"room"`
	Participants []AttendanceEntry `json:"participants"`
}

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	RoomEmpty       RoomState = "empty"
	RoomActive      RoomState = "active"
	RoomQuizRunning RoomState = "quizRunning"
)

// TenantOf derives the tenant from a room identifier of the form "<tenant>" or "<tenant>/<class>".
func TenantOf(room string) string {
	tenant, _, _ := strings.Cut(room, "/")
	return tenant
}

// EventKind names an inbound or outbound session event.
type EventKind string

const (
	EventAttendance  EventKind = "attendance"
	EventChat        EventKind = "chat"
	EventQuizStart   EventKind = "quizStart"
	EventScoreUpdate EventKind = "scoreUpdate"
	EventCamera      EventKind = "camera"
	EventSlide       EventKind = "slide"
	EventSync        EventKind = "sync"
	EventGradeResult EventKind = "gradeResult"
	EventError       EventKind = "error"
)

// Envelope is the wire frame of every outbound event.
type Envelope struct {
	Type    EventKind `json:"type"`
	Room    string    `json:"room"`
	Payload any       `json:"payload"`
}

// ChatMessage is relayed to the whole room, sender included.
type ChatMessage struct {
	User string `json:"user"`
	Msg  string `json:"msg"`
	Role Role   `json:"role"`
}

// MultipleChoice is a master multiple-choice question; Correct is secret.
type MultipleChoice struct {
	Question string   `json:"q"`
	Options  []string `json:"options"`
	Correct  string   `json:"correct"`
}

// ShortAnswer is a master short-answer question; Answer is secret.
type ShortAnswer struct {
	Question string `json:"q"`
	Answer   string `json:"answer"`
}

// Essay is a master essay question; Keywords are secret grading criteria.
type Essay struct {
	Question string   `json:"q"`
	Keywords []string `json:"keywords"`
}

// Quiz is the master quiz including its answer key. It never leaves the server.
type Quiz struct {
	ID             string           `json:"id"`
	Version        int64            `json:"version"`
	Materi         string           `json:"materi"`
	MultipleChoice []MultipleChoice `json:"mcq"`
	ShortAnswer    []ShortAnswer    `json:"short"`
	Essay          []Essay          `json:"essay"`
}

// QuestionCount returns the number of questions of every kind.
func (q Quiz) QuestionCount() int {
	return len(q.MultipleChoice) + len(q.ShortAnswer) + len(q.Essay)
}

// Clone returns a deep copy of q.
func (q Quiz) Clone() Quiz {
	out := q
	if q.MultipleChoice != nil {
		out.MultipleChoice = make([]MultipleChoice, len(q.MultipleChoice))
		for i, mc := range q.MultipleChoice {
			mc.Options = cloneStrings(mc.Options)
			out.MultipleChoice[i] = mc
		}
	}
	if q.ShortAnswer != nil {
		out.ShortAnswer = make([]ShortAnswer, len(q.ShortAnswer))
		copy(out.ShortAnswer, q.ShortAnswer)
	}
	if q.Essay != nil {
		out.Essay = make([]Essay, len(q.Essay))
		for i, e := range q.Essay {
			e.Keywords = cloneStrings(e.Keywords)
			out.Essay[i] = e
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// PublicMultipleChoice is a multiple-choice question without its correct option.
type PublicMultipleChoice struct {
	Question string   `json:"q"`
	Options  []string `json:"options"`
}

// PublicShortAnswer is a short-answer question without its expected answer.
type PublicShortAnswer struct {
	Question string `json:"q"`
}

// PublicEssay is an essay question without its keywords.
type PublicEssay struct {
	Question string `json:"q"`
}

// SanitizedQuiz is the broadcastable view of a Quiz. It has no field able to hold a secret.
type SanitizedQuiz struct {
	ID             string                 `json:"id"`
	Version        int64                  `json:"version"`
	Materi         string                 `json:"materi"`
	MultipleChoice []PublicMultipleChoice `json:"mcq"`
	ShortAnswer    []PublicShortAnswer    `json:"short"`
	Essay          []PublicEssay          `json:"essay"`
}

// Identity identifies the submitter of a quiz.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Class string `json:"class"`
}

// Answers holds raw answers keyed by the quiz's question order per kind.
type Answers struct {
	MultipleChoice []string `json:"mcq"`
	ShortAnswer    []string `json:"short"`
	Essay          []string `json:"essay"`
}

// Submission is a student's answer set for a room's quiz. Version 0 means the current quiz.
type Submission struct {
	Identity
	Room    string
	Version int64
	Answers Answers
	ConnID  string
}

// Assessment is what the grading collaborator returns.
type Assessment struct {
	Score           int    `json:"score"`
	Analysis        string `json:"analysis"`
	TeacherFeedback string `json:"teacherFeedback"`
}

const (
	// AnalysisSessionMissing marks a submission graded without a stored quiz.
	AnalysisSessionMissing = "ungraded: session data missing"
	// AnalysisGradingFailed marks a submission the grader could not assess.
	AnalysisGradingFailed = "automatic grading failed"
	// FeedbackManualReview asks the teacher to grade by hand.
	FeedbackManualReview = "needs manual review"
)

// GradedResult is produced once per submission.
type GradedResult struct {
	Room            string    `json:"room"`
	QuizID          string    `json:"quizId,omitempty"`
	Version         int64     `json:"version,omitempty"`
	Score           int       `json:"score"`
	Analysis        string    `json:"analysis"`
	TeacherFeedback string    `json:"teacherFeedback"`
	Degraded        bool      `json:"degraded"`
	GradedAt        time.Time `json:"timestamp"`
}

// ScoreUpdate is broadcast to the room after every graded submission.
type ScoreUpdate struct {
	Name            string    `json:"name"`
	Score           int       `json:"score"`
	Analysis        string    `json:"analysis"`
	TeacherFeedback string    `json:"teacherFeedback"`
	Timestamp       time.Time `json:"timestamp"`
}

// ScoreboardEntry is a student's latest score in a room.
type ScoreboardEntry struct {
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	GradedAt time.Time `json:"gradedAt"`
}

// Sync is sent privately to a joining connection.
type Sync struct {
	Attendance Attendance        `json:"attendance"`
	Quiz       *SanitizedQuiz    `json:"quiz,omitempty"`
	Scoreboard []ScoreboardEntry `json:"scoreboard"`
	Slide      json.RawMessage   `json:"slide,omitempty"`
}
