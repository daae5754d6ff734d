package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bosley/listener/audio"
	"github.com/bosley/listener/transcript"
)

// Status is the lifecycle position of a Meeting.
type Status string

const (
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// next lists the statuses each status may move to.
var next = map[Status][]Status{
	StatusRecording:  {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func (s Status) canMoveTo(to Status) bool {
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Meeting is the root of one recording or upload.
type Meeting struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Status      Status       `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorDetail string       `gorm:"type:text" json:"error_detail,omitempty"`
	Tracks      []AudioTrack `gorm:"constraint:OnDelete:CASCADE" json:"tracks,omitempty"`
	Utterances  []Utterance  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (m *Meeting) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// AudioTrack is one audio artifact of a meeting.
type AudioTrack struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"meeting_id"`
	TrackType   audio.Role  `gorm:"type:varchar(16);not null" json:"track_type"`
	FilePath    string      `gorm:"not null" json:"file_path"`
	DurationSec float64     `json:"duration_sec"`
	CreatedAt   time.Time   `json:"created_at"`
	Utterances  []Utterance `gorm:"foreignKey:TrackID;constraint:OnDelete:SET NULL" json:"-"`
}

func (t *AudioTrack) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Utterance is one stored, speaker-labeled span of text.
type Utterance struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID uuid.UUID  `gorm:"type:uuid;not null;index" json:"meeting_id"`
	TrackID   *uuid.UUID `gorm:"type:uuid;index" json:"track_id,omitempty"`
	SpeakerID string     `gorm:"column:speaker_id;index" json:"speaker_id"`
	StartTime float64    `json:"start"`
	EndTime   float64    `json:"end"`
	Text      string     `gorm:"type:text" json:"text"`
	Language  string     `gorm:"index" json:"language"`
	Seq       int        `gorm:"not null" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

func (u *Utterance) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Transcript converts the row back to the attribution type.
func (u Utterance) Transcript() transcript.Utterance {
	return transcript.Utterance{
		Speaker:  u.SpeakerID,
		Start:    u.StartTime,
		End:      u.EndTime,
		Text:     u.Text,
		Language: u.Language,
	}
}

// TrackUtterances groups attributed utterances with the track they came from.
type TrackUtterances struct {
	TrackID    uuid.UUID
	Utterances []transcript.Utterance
}
