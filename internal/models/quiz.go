package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuizStatus string

const (
	QuizDraft    QuizStatus = "Draft"
	QuizActive   QuizStatus = "Active"
	QuizArchived QuizStatus = "Archived"
)

// QuizKind discriminates the two assessment variants. AP quizzes carry a
// trimester and a province; EXAME quizzes carry an exam season (epoca). The
// attempt engine never looks at the variant, only at the resolved snapshot.
type QuizKind string

const (
	QuizKindAP    QuizKind = "AP"
	QuizKindExame QuizKind = "EXAME"
)

// Quiz is the assessment catalog entry. Read-only to the attempt engine.
type Quiz struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Title       string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	SubjectID   uint       `json:"subject_id" gorm:"not null;index"`
	Status      QuizStatus `json:"status" gorm:"default:Draft;index"`

	Kind      QuizKind `json:"kind" gorm:"not null;size:16" validate:"required,oneof=AP EXAME"`
	Trimestre *int     `json:"trimestre" validate:"omitempty,min=1,max=3"`
	Provincia *string  `json:"provincia" gorm:"size:100"`
	Epoca     *string  `json:"epoca" gorm:"size:50"`

	// TimeLimitMinutes is nil for untimed quizzes.
	TimeLimitMinutes *int `json:"time_limit_minutes" validate:"omitempty,min=1,max=300"`

	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Bumped by the authoring service on every question-set edit; stamped
	// into snapshots so stored attempts record which revision they saw.
	Version int `json:"version" gorm:"default:1"`

	Questions []QuizQuestion `json:"questions" gorm:"foreignKey:QuizID"`
}

// Alternative is one selectable option of a question.
type Alternative struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuizQuestion is a question as it appears in a quiz, with exactly one
// correct alternative.
type QuizQuestion struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	QuizID   uint `json:"quiz_id" gorm:"not null;index"`
	Position int  `json:"position" gorm:"not null"`

	Text                 string         `json:"text" gorm:"type:text;not null"`
	Alternatives         datatypes.JSON `json:"alternatives" gorm:"type:jsonb;not null"`
	CorrectAlternativeID string         `json:"-" gorm:"not null;size:64"`
	Points               int            `json:"points" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// DecodeAlternatives unmarshals the stored alternatives payload.
func (q *QuizQuestion) DecodeAlternatives() ([]Alternative, error) {
	var alts []Alternative
	if err := json.Unmarshal(q.Alternatives, &alts); err != nil {
		return nil, fmt.Errorf("decode alternatives for question %d: %w", q.ID, err)
	}
	return alts, nil
}

// ===== SNAPSHOT =====

// QuizSnapshot is the frozen copy of quiz data captured at attempt start.
// Scoring and answer validation always run against this, never against the
// live catalog.
type QuizSnapshot struct {
	QuizID           uint               `json:"quiz_id"`
	Version          int                `json:"version"`
	TimeLimitMinutes *int               `json:"time_limit_minutes,omitempty"`
	Questions        []SnapshotQuestion `json:"questions"`
}

// SnapshotQuestion keeps only what validation and scoring need.
type SnapshotQuestion struct {
	ID                   uint     `json:"id"`
	AlternativeIDs       []string `json:"alternative_ids"`
	CorrectAlternativeID string   `json:"correct_alternative_id"`
	Points               int      `json:"points"`
}

// QuestionByID returns the snapshot question with the given id, or nil.
func (s *QuizSnapshot) QuestionByID(id uint) *SnapshotQuestion {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

// HasAlternative reports whether the given alternative belongs to the question.
func (q *SnapshotQuestion) HasAlternative(alternativeID string) bool {
	for _, id := range q.AlternativeIDs {
		if id == alternativeID {
			return true
		}
	}
	return false
}

// Snapshot builds the frozen view of the quiz. Questions keep catalog order;
// a question without an explicit weight counts one point.
func (q *Quiz) Snapshot() (*QuizSnapshot, error) {
	snap := &QuizSnapshot{
		QuizID:           q.ID,
		Version:          q.Version,
		TimeLimitMinutes: q.TimeLimitMinutes,
		Questions:        make([]SnapshotQuestion, 0, len(q.Questions)),
	}

	for i := range q.Questions {
		qq := &q.Questions[i]
		alts, err := qq.DecodeAlternatives()
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(alts))
		for j, alt := range alts {
			ids[j] = alt.ID
		}
		points := qq.Points
		if points <= 0 {
			points = 1
		}
		snap.Questions = append(snap.Questions, SnapshotQuestion{
			ID:                   qq.ID,
			AlternativeIDs:       ids,
			CorrectAlternativeID: qq.CorrectAlternativeID,
			Points:               points,
		})
	}

	return snap, nil
}
