package consultation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusInReview      Status = "in_review"
	StatusAwaitingExams Status = "awaiting_exams"
	StatusDischarged    Status = "discharged"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusInProgress, StatusCompleted, StatusInReview, StatusAwaitingExams, StatusDischarged}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "baixa"
	UrgencyMedium Urgency = "media"
	UrgencyHigh   Urgency = "alta"
	UrgencyUrgent Urgency = "urgente"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "alta"
	PriorityMedium Priority = "media"
	PriorityLow    Priority = "baixa"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Channel selects one of the two transcripts of a consultation.
type Channel string

const (
	ChannelPrimary  Channel = "primary"
	ChannelFollowUp Channel = "follow_up"
)

// ParseChannel accepts the wire names; empty means primary.
func ParseChannel(s string) (Channel, error) {
	switch strings.TrimSpace(s) {
	case "", "primary", "chat", "chat_messages":
		return ChannelPrimary, nil
	case "follow_up", "follow-up", "follow_up_chat":
		return ChannelFollowUp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

func (c Channel) Valid() bool {
	return c == ChannelPrimary || c == ChannelFollowUp
}

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Diagnosis struct {
	Diagnosis  string `json:"diagnosis"`
	Confidence int    `json:"confidence"` // 0-100
	Reasoning  string `json:"reasoning"`
}

type Exam struct {
	Exam     string   `json:"exam"`
	Reason   string   `json:"reason"`
	Priority Priority `json:"priority"`
}

// Age is free-form. Clients send either a number or a string.
type Age string

func (a *Age) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Age(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("patient_age must be a number or a string")
	}
	*a = Age(n.String())
	return nil
}

// Patient is what the intake form collects before the interview starts.
type Patient struct {
	Name           string `json:"patient_name"`
	Age            Age    `json:"patient_age,omitempty"`
	Gender         string `json:"patient_gender,omitempty"`
	Phone          string `json:"patient_phone,omitempty"`
	Email          string `json:"patient_email,omitempty"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
}

type Consultation struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`

	PatientName    string `json:"patient_name"`
	PatientAge     Age    `json:"patient_age"`
	PatientGender  string `json:"patient_gender"`
	PatientPhone   string `json:"patient_phone"`
	PatientEmail   string `json:"patient_email"`
	ChiefComplaint string `json:"chief_complaint"`

	ChatMessages []Message `json:"chat_messages"`
	FollowUpChat []Message `json:"follow_up_chat"`

	SuggestedDiagnoses []Diagnosis `json:"suggested_diagnoses"`
	SymptomsSummary    string      `json:"symptoms_summary"`
	Recommendations    string      `json:"recommendations"`
	RefiningQuestions  []string    `json:"refining_questions"`
	SuggestedExams     []Exam      `json:"suggested_exams"`
	UrgencyLevel       Urgency     `json:"urgency_level"`

	DoctorNotes string `json:"doctor_notes"`
}

func (c *Consultation) Transcript(ch Channel) []Message {
	if ch == ChannelFollowUp {
		return c.FollowUpChat
	}
	return c.ChatMessages
}

func (c *Consultation) appendMessage(ch Channel, m Message) Message {
	msgs := c.Transcript(ch)
	if n := len(msgs); n > 0 && m.Timestamp.Before(msgs[n-1].Timestamp) {
		m.Timestamp = msgs[n-1].Timestamp
	}
	if ch == ChannelFollowUp {
		c.FollowUpChat = append(c.FollowUpChat, m)
	} else {
		c.ChatMessages = append(c.ChatMessages, m)
	}
	return m
}

// DiagnosisResult is the structured output of synthesis.
type DiagnosisResult struct {
	SuggestedDiagnoses []Diagnosis `json:"suggested_diagnoses"`
	SymptomsSummary    string      `json:"symptoms_summary"`
	Recommendations    string      `json:"recommendations"`
	RefiningQuestions  []string    `json:"refining_questions"`
	SuggestedExams     []Exam      `json:"suggested_exams"`
	UrgencyLevel       Urgency     `json:"urgency_level"`
}

func (r DiagnosisResult) problems() []string {
	var out []string
	if len(r.SuggestedDiagnoses) == 0 {
		out = append(out, "suggested_diagnoses: must not be empty")
	}
	out = append(out, diagnosisProblems(r.SuggestedDiagnoses)...)
	out = append(out, examProblems(r.SuggestedExams)...)
	if !r.UrgencyLevel.Valid() {
		out = append(out, fmt.Sprintf("urgency_level: %q is not one of baixa, media, alta, urgente", r.UrgencyLevel))
	}
	return out
}

func diagnosisProblems(list []Diagnosis) []string {
	var out []string
	for i, d := range list {
		if strings.TrimSpace(d.Diagnosis) == "" {
			out = append(out, fmt.Sprintf("suggested_diagnoses[%d].diagnosis: required", i))
		}
		if d.Confidence < 0 || d.Confidence > 100 {
			out = append(out, fmt.Sprintf("suggested_diagnoses[%d].confidence: %d is outside 0-100", i, d.Confidence))
		}
	}
	return out
}

func examProblems(list []Exam) []string {
	var out []string
	for i, e := range list {
		if strings.TrimSpace(e.Exam) == "" {
			out = append(out, fmt.Sprintf("suggested_exams[%d].exam: required", i))
		}
		if !e.Priority.Valid() {
			out = append(out, fmt.Sprintf("suggested_exams[%d].priority: %q is not one of alta, media, baixa", i, e.Priority))
		}
	}
	return out
}
