package consultation

import (
	"github.com/Hadxxx/MedicIA/internal/store"
)

type Repository = store.Collection[Consultation]

// NewRepository returns the consultation view over backend. New records
// start in progress with empty transcripts.
func NewRepository(backend store.Backend) *Repository {
	return store.NewCollection[Consultation](backend, store.KindConsultation, store.Fields{
		"status":              StatusInProgress,
		"chat_messages":       []Message{},
		"follow_up_chat":      []Message{},
		"suggested_diagnoses": []Diagnosis{},
		"refining_questions":  []string{},
		"suggested_exams":     []Exam{},
	})
}
