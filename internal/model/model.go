package model

import "time"

// Category is the fixed set of question categories.
type Category string

const (
	CategoryHR         Category = "HR"
	CategoryTechnical  Category = "Technical"
	CategoryBehavioral Category = "Behavioral"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryHR, CategoryTechnical, CategoryBehavioral:
		return true
	}
	return false
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// AdvanceMode selects which operation advances a session's cursor.
// The push/streaming flow advances when a question is emitted, the
// REST flow when an answer is submitted; exactly one path increments
// per question.
type AdvanceMode string

const (
	AdvanceOnFetch  AdvanceMode = "on_fetch"
	AdvanceOnSubmit AdvanceMode = "on_submit"
)

// ExpectedItem is a single scoring criterion on a question: a primary
// term, optional synonyms, and a weight (0 means default 1).
type ExpectedItem struct {
	Term     string   `json:"term"`
	Synonyms []string `json:"synonyms,omitempty"`
	Weight   float64  `json:"weight,omitempty"`
}

// EffectiveWeight returns the item weight, defaulting to 1.
func (e ExpectedItem) EffectiveWeight() float64 {
	if e.Weight == 0 {
		return 1
	}
	return e.Weight
}

// Question is immutable reference data created by administration
// tooling; the interview engine never mutates it.
type Question struct {
	ID         int64          `json:"id"`
	Text       string         `json:"text"`
	Category   Category       `json:"category"`
	Expected   []ExpectedItem `json:"expected_content"`
	Difficulty Difficulty     `json:"difficulty"`
	TimeLimit  int            `json:"time_limit"`
}

// QuestionImport is used for loading questions from JSON files.
type QuestionImport struct {
	Text       string         `json:"text"`
	Category   Category       `json:"category"`
	Expected   []ExpectedItem `json:"expected_content"`
	Difficulty Difficulty     `json:"difficulty"`
	TimeLimit  int            `json:"time_limit"`
}

// Candidate identifies the person being interviewed.
type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session is one end-to-end interview attempt.
//
// Invariant: 0 <= CurrentIndex <= len(QuestionIDs); Completed implies
// CurrentIndex >= len(QuestionIDs) and OverallScore is set.
type Session struct {
	ID           int64       `json:"id"`
	Candidate    Candidate   `json:"candidate"`
	Category     Category    `json:"category"`
	QuestionIDs  []int64     `json:"question_ids"`
	CurrentIndex int         `json:"current_index"`
	AdvanceMode  AdvanceMode `json:"advance_mode"`
	Completed    bool        `json:"completed"`
	OverallScore *float64    `json:"overall_score,omitempty"`
	Strengths    []string    `json:"strengths,omitempty"`
	Weaknesses   []string    `json:"weaknesses,omitempty"`
	Summary      string      `json:"summary,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Answer is one (session, question) attempt. Score and feedback are
// written at submission and overwritten by the finish-time rescore.
type Answer struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	QuestionID int64     `json:"question_id"`
	Transcript string    `json:"transcript"`
	AudioPath  string    `json:"audio_path,omitempty"`
	Score      float64   `json:"score"`
	Feedback   []string  `json:"feedback"`
	CreatedAt  time.Time `json:"created_at"`
}

// QuestionStep is the result of fetching the next question.
type QuestionStep struct {
	Done     bool      `json:"done"`
	Question *Question `json:"question,omitempty"`
	Position int       `json:"position,omitempty"`
	Total    int       `json:"total,omitempty"`
}

// ReportItem is one per-question entry in the final report, in session
// question order.
type ReportItem struct {
	Question   string   `json:"question"`
	Transcript string   `json:"transcript"`
	AudioPath  string   `json:"audio_path,omitempty"`
	Score      float64  `json:"score"`
	Feedback   []string `json:"feedback"`
}

// Report is the aggregate view produced at session finish.
type Report struct {
	SessionID    int64        `json:"session_id"`
	OverallScore float64      `json:"overall_score"`
	Strengths    []string     `json:"strengths"`
	Weaknesses   []string     `json:"weaknesses"`
	Summary      string       `json:"summary"`
	Items        []ReportItem `json:"report"`
}
