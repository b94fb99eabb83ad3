package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"interviewd/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// :memory: databases coherent across the pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		expected_content TEXT NOT NULL DEFAULT '[]',
		difficulty TEXT NOT NULL DEFAULT 'medium',
		time_limit INTEGER NOT NULL DEFAULT 60
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_name TEXT NOT NULL,
		candidate_email TEXT NOT NULL,
		category TEXT NOT NULL,
		question_ids TEXT NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		advance_mode TEXT NOT NULL DEFAULT 'on_submit',
		completed INTEGER NOT NULL DEFAULT 0,
		overall_score REAL,
		strengths TEXT NOT NULL DEFAULT '[]',
		weaknesses TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		audio_path TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	expected, err := json.Marshal(q.Expected)
	if err != nil {
		return 0, fmt.Errorf("marshal expected content: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO questions (text, category, expected_content, difficulty, time_limit)
		 VALUES (?, ?, ?, ?, ?)`,
		q.Text, q.Category, string(expected), q.Difficulty, q.TimeLimit,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateQuestion replaces the mutable fields of a question.
func (s *Store) UpdateQuestion(q model.Question) error {
	expected, err := json.Marshal(q.Expected)
	if err != nil {
		return fmt.Errorf("marshal expected content: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE questions SET text = ?, category = ?, expected_content = ?, difficulty = ?, time_limit = ?
		 WHERE id = ?`,
		q.Text, q.Category, string(expected), q.Difficulty, q.TimeLimit, q.ID,
	)
	return err
}

// DeleteQuestion removes a question.
func (s *Store) DeleteQuestion(id int64) error {
	_, err := s.db.Exec(`DELETE FROM questions WHERE id = ?`, id)
	return err
}

func scanQuestion(scan func(dest ...any) error) (model.Question, error) {
	var q model.Question
	var expected string
	if err := scan(&q.ID, &q.Text, &q.Category, &expected, &q.Difficulty, &q.TimeLimit); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(expected), &q.Expected); err != nil {
		return q, fmt.Errorf("unmarshal expected content: %w", err)
	}
	return q, nil
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	row := s.db.QueryRow(
		`SELECT id, text, category, expected_content, difficulty, time_limit FROM questions WHERE id = ?`, id,
	)
	return scanQuestion(row.Scan)
}

// ListQuestions returns questions, optionally filtered by category.
// An empty category means no filtering.
func (s *Store) ListQuestions(category model.Category) ([]model.Question, error) {
	query := `SELECT id, text, category, expected_content, difficulty, time_limit FROM questions`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CreateSession creates a session with its fixed question order.
func (s *Store) CreateSession(candidate model.Candidate, category model.Category, questionIDs []int64, mode model.AdvanceMode) (int64, error) {
	ids, err := json.Marshal(questionIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal question ids: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO sessions (candidate_name, candidate_email, category, question_ids, current_index, advance_mode, completed, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, 0, ?)`,
		candidate.Name, candidate.Email, category, string(ids), mode, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID.
func (s *Store) GetSession(id int64) (model.Session, error) {
	var sess model.Session
	var ids, strengths, weaknesses string
	err := s.db.QueryRow(
		`SELECT id, candidate_name, candidate_email, category, question_ids, current_index,
		        advance_mode, completed, overall_score, strengths, weaknesses, summary, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Candidate.Name, &sess.Candidate.Email, &sess.Category, &ids,
		&sess.CurrentIndex, &sess.AdvanceMode, &sess.Completed, &sess.OverallScore,
		&strengths, &weaknesses, &sess.Summary, &sess.CreatedAt)
	if err != nil {
		return sess, err
	}
	if err := json.Unmarshal([]byte(ids), &sess.QuestionIDs); err != nil {
		return sess, fmt.Errorf("unmarshal question ids: %w", err)
	}
	if err := json.Unmarshal([]byte(strengths), &sess.Strengths); err != nil {
		return sess, fmt.Errorf("unmarshal strengths: %w", err)
	}
	if err := json.Unmarshal([]byte(weaknesses), &sess.Weaknesses); err != nil {
		return sess, fmt.Errorf("unmarshal weaknesses: %w", err)
	}
	return sess, nil
}

// AdvanceCursor increments the session cursor by exactly one.
func (s *Store) AdvanceCursor(id int64) error {
	_, err := s.db.Exec(`UPDATE sessions SET current_index = current_index + 1 WHERE id = ?`, id)
	return err
}

// CompleteSession writes the terminal fields and marks the session
// completed. Called exactly once per session by finish.
func (s *Store) CompleteSession(id int64, overall float64, strengths, weaknesses []string, summary string) error {
	str, err := json.Marshal(emptyIfNil(strengths))
	if err != nil {
		return fmt.Errorf("marshal strengths: %w", err)
	}
	weak, err := json.Marshal(emptyIfNil(weaknesses))
	if err != nil {
		return fmt.Errorf("marshal weaknesses: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET completed = 1, current_index = ?, overall_score = ?, strengths = ?, weaknesses = ?, summary = ?
		 WHERE id = ?`,
		s.questionCountOf(id), overall, string(str), string(weak), summary, id,
	)
	return err
}

// questionCountOf returns len(question_ids) for the session, so that
// completion pins the cursor at the end of the list.
func (s *Store) questionCountOf(id int64) int {
	var ids string
	if err := s.db.QueryRow(`SELECT question_ids FROM sessions WHERE id = ?`, id).Scan(&ids); err != nil {
		return 0
	}
	var list []int64
	if err := json.Unmarshal([]byte(ids), &list); err != nil {
		return 0
	}
	return len(list)
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]model.Session, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var sessions []model.Session
	for _, id := range ids {
		sess, err := s.GetSession(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// InsertAnswer stores an answer with its submission-time score and
// feedback.
func (s *Store) InsertAnswer(a model.Answer) (int64, error) {
	fb, err := json.Marshal(emptyIfNil(a.Feedback))
	if err != nil {
		return 0, fmt.Errorf("marshal feedback: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO answers (session_id, question_id, transcript, audio_path, score, feedback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.QuestionID, a.Transcript, a.AudioPath, a.Score, string(fb), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateAnswerScore overwrites an answer's score and feedback. The
// finish-time rescore uses this so the report reflects the latest
// scoring logic, not the submission-time result.
func (s *Store) UpdateAnswerScore(id int64, score float64, feedback []string) error {
	fb, err := json.Marshal(emptyIfNil(feedback))
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	_, err = s.db.Exec(`UPDATE answers SET score = ?, feedback = ? WHERE id = ?`, score, string(fb), id)
	return err
}

// ListAnswersForSession returns all answers for a session in
// submission order.
func (s *Store) ListAnswersForSession(sessionID int64) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, question_id, transcript, audio_path, score, feedback, created_at
		 FROM answers WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		var fb string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Transcript, &a.AudioPath, &a.Score, &fb, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fb), &a.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SetImportedFileHash upserts the content hash for a questions file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}

// GetImportedFileHash returns the stored hash for a questions file,
// or empty string when the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
