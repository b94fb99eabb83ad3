// Package engine drives the interview session lifecycle: question
// sampling, cursor progression, answer scoring, and the final report.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"interviewd/internal/model"
	"interviewd/internal/scoring"
	"interviewd/internal/store"
)

type Engine struct {
	store *store.Store

	// Cursor mutation for one session must serialize so each question
	// consumes exactly one cursor slot. Different sessions proceed in
	// parallel.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(s *store.Store) *Engine {
	return &Engine{store: s, locks: make(map[int64]*sync.Mutex)}
}

func (e *Engine) sessionLock(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Start samples questions for the category uniformly without
// replacement and creates the session with its cursor at zero. A sample
// smaller than requested is acceptable; zero matching questions is not.
func (e *Engine) Start(candidate model.Candidate, category model.Category, totalQuestions int, mode model.AdvanceMode) (*model.Session, error) {
	if totalQuestions <= 0 {
		return nil, Errf(CodeInvalidRequest, "totalQuestions must be positive, got %d", totalQuestions)
	}
	if !model.ValidCategory(category) {
		return nil, Errf(CodeInvalidRequest, "unknown category %q", category)
	}
	if mode == "" {
		mode = model.AdvanceOnSubmit
	}
	if mode != model.AdvanceOnFetch && mode != model.AdvanceOnSubmit {
		return nil, Errf(CodeInvalidRequest, "unknown advance mode %q", mode)
	}

	questions, err := e.store.ListQuestions(category)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "list questions")
	}
	if len(questions) == 0 {
		return nil, Errf(CodeInvalidRequest, "no questions in category %q", category)
	}

	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	if totalQuestions < len(questions) {
		questions = questions[:totalQuestions]
	}

	questionIDs := make([]int64, 0, len(questions))
	for _, q := range questions {
		questionIDs = append(questionIDs, q.ID)
	}

	id, err := e.store.CreateSession(candidate, category, questionIDs, mode)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "create session")
	}
	sess, err := e.store.GetSession(id)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "load session %d", id)
	}
	slog.Info("session started", "session_id", id, "category", category,
		"questions", len(questionIDs), "mode", mode)
	return &sess, nil
}

func (e *Engine) getSession(id int64) (model.Session, error) {
	sess, err := e.store.GetSession(id)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, Errf(CodeNotFound, "session %d not found", id)
	}
	if err != nil {
		return sess, Wrap(CodeResourceFailure, err, "load session %d", id)
	}
	return sess, nil
}

// NextQuestion returns the question at the cursor, or done when the
// session has run out. In on_fetch mode the cursor advances here, at
// question-emission time; a question fetched but never answered still
// consumes its slot.
func (e *Engine) NextQuestion(sessionID int64) (*model.QuestionStep, error) {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	total := len(sess.QuestionIDs)
	if sess.Completed || sess.CurrentIndex >= total {
		return &model.QuestionStep{Done: true}, nil
	}

	q, err := e.store.GetQuestion(sess.QuestionIDs[sess.CurrentIndex])
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "load question")
	}
	if sess.AdvanceMode == model.AdvanceOnFetch {
		if err := e.store.AdvanceCursor(sessionID); err != nil {
			return nil, Wrap(CodeResourceFailure, err, "advance cursor")
		}
	}
	return &model.QuestionStep{
		Question: &q,
		Position: sess.CurrentIndex + 1,
		Total:    total,
	}, nil
}

// RecordAnswer creates an Answer with its submission-time score and
// feedback. In on_submit mode the cursor advances here; in on_fetch
// mode NextQuestion already consumed the slot and this is a pure
// insert.
func (e *Engine) RecordAnswer(sessionID, questionID int64, transcript, audioPath string) (*model.Answer, error) {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	q, err := e.store.GetQuestion(questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Errf(CodeNotFound, "question %d not found", questionID)
	}
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "load question %d", questionID)
	}

	answer := model.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Transcript: transcript,
		AudioPath:  audioPath,
		Score:      scoring.Score(transcript, q.Expected),
		Feedback:   scoring.Feedback(transcript, q.Expected),
	}
	id, err := e.store.InsertAnswer(answer)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "insert answer")
	}
	answer.ID = id

	if sess.AdvanceMode == model.AdvanceOnSubmit && !sess.Completed && sess.CurrentIndex < len(sess.QuestionIDs) {
		if err := e.store.AdvanceCursor(sessionID); err != nil {
			return nil, Wrap(CodeResourceFailure, err, "advance cursor")
		}
	}
	slog.Info("answer recorded", "session_id", sessionID, "question_id", questionID,
		"score", answer.Score, "audio", audioPath != "")
	return &answer, nil
}

// Finish re-scores every answer against its question's expected
// content, overwriting submission-time scores, then writes the terminal
// session fields and returns the full report. Finishing an already
// completed session returns the stored report without mutation.
func (e *Engine) Finish(sessionID int64) (*model.Report, error) {
	l := e.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := e.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed {
		return e.buildReport(sess)
	}

	answers, err := e.store.ListAnswersForSession(sessionID)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "list answers")
	}
	if len(answers) == 0 {
		return nil, Errf(CodeEmptySession, "session %d has no answers to score", sessionID)
	}

	byQuestion := make(map[int64]*model.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	var totalScore float64
	var scored int
	var strengths, weaknesses []string
	var items []model.ReportItem

	// Walk the session's fixed question order so the report matches it
	// regardless of submission order.
	for _, qid := range sess.QuestionIDs {
		ans := byQuestion[qid]
		if ans == nil {
			continue
		}
		q, err := e.store.GetQuestion(qid)
		if err != nil {
			continue
		}

		score := scoring.Score(ans.Transcript, q.Expected)
		feedback := scoring.Feedback(ans.Transcript, q.Expected)
		if err := e.store.UpdateAnswerScore(ans.ID, score, feedback); err != nil {
			return nil, Wrap(CodeResourceFailure, err, "rescore answer %d", ans.ID)
		}

		totalScore += score
		scored++
		if score >= 7.5 {
			strengths = append(strengths, q.Text)
		}
		if score < 5 {
			weaknesses = append(weaknesses, q.Text)
		}
		items = append(items, model.ReportItem{
			Question:   q.Text,
			Transcript: ans.Transcript,
			AudioPath:  ans.AudioPath,
			Score:      score,
			Feedback:   feedback,
		})
	}
	if scored == 0 {
		return nil, Errf(CodeEmptySession, "session %d has no scorable answers", sessionID)
	}

	overall := round1(totalScore / float64(scored))
	summary := fmt.Sprintf("Candidate performed with an overall score of %.1f/10", overall)
	if err := e.store.CompleteSession(sessionID, overall, strengths, weaknesses, summary); err != nil {
		return nil, Wrap(CodeResourceFailure, err, "complete session")
	}
	slog.Info("session finished", "session_id", sessionID, "overall", overall,
		"strengths", len(strengths), "weaknesses", len(weaknesses))

	return &model.Report{
		SessionID:    sessionID,
		OverallScore: overall,
		Strengths:    emptyIfNil(strengths),
		Weaknesses:   emptyIfNil(weaknesses),
		Summary:      summary,
		Items:        items,
	}, nil
}

// Report is the read path over a completed session: a projection of the
// stored terminal fields and per-question detail in question order.
func (e *Engine) Report(sessionID int64) (*model.Report, error) {
	sess, err := e.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Completed {
		return nil, Errf(CodeInvalidRequest, "session %d is not completed", sessionID)
	}
	return e.buildReport(sess)
}

func (e *Engine) buildReport(sess model.Session) (*model.Report, error) {
	answers, err := e.store.ListAnswersForSession(sess.ID)
	if err != nil {
		return nil, Wrap(CodeResourceFailure, err, "list answers")
	}
	byQuestion := make(map[int64]*model.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	var items []model.ReportItem
	for _, qid := range sess.QuestionIDs {
		ans := byQuestion[qid]
		if ans == nil {
			continue
		}
		q, err := e.store.GetQuestion(qid)
		if err != nil {
			continue
		}
		items = append(items, model.ReportItem{
			Question:   q.Text,
			Transcript: ans.Transcript,
			AudioPath:  ans.AudioPath,
			Score:      ans.Score,
			Feedback:   ans.Feedback,
		})
	}

	var overall float64
	if sess.OverallScore != nil {
		overall = *sess.OverallScore
	}
	return &model.Report{
		SessionID:    sess.ID,
		OverallScore: overall,
		Strengths:    emptyIfNil(sess.Strengths),
		Weaknesses:   emptyIfNil(sess.Weaknesses),
		Summary:      sess.Summary,
		Items:        items,
	}, nil
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
