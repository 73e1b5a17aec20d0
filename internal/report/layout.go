package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hadxxx/MedicIA/internal/consultation"
)

type section struct {
	Title string
	Lines []string
}

var statusLabels = map[consultation.Status]string{
	consultation.StatusInProgress:    "Em andamento",
	consultation.StatusCompleted:     "Concluída",
	consultation.StatusInReview:      "Em revisão",
	consultation.StatusAwaitingExams: "Aguardando exames",
	consultation.StatusDischarged:    "Alta",
}

var urgencyLabels = map[consultation.Urgency]string{
	consultation.UrgencyLow:    "Baixa",
	consultation.UrgencyMedium: "Média",
	consultation.UrgencyHigh:   "Alta",
	consultation.UrgencyUrgent: "Urgente",
}

func label[K ~string](m map[K]string, k K) string {
	if v, ok := m[k]; ok {
		return v
	}
	if k == "" {
		return "-"
	}
	return string(k)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimRight(l, " \t\r"); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{"-"}
	}
	return out
}

// sections lays out the doctor report independently of the output format.
func sections(c *consultation.Consultation, generatedAt time.Time) []section {
	patient := section{Title: "Paciente", Lines: []string{
		"Nome: " + orDash(c.PatientName),
		"Idade: " + orDash(string(c.PatientAge)),
		"Sexo: " + orDash(c.PatientGender),
		"Queixa principal: " + orDash(c.ChiefComplaint),
		"Status: " + label(statusLabels, c.Status),
		"Urgência: " + label(urgencyLabels, c.UrgencyLevel),
		"Data: " + c.CreatedAt.Format("02/01/2006 15:04"),
		"Gerado em: " + generatedAt.Format("02/01/2006 15:04"),
	}}

	diagnoses := section{Title: "Hipóteses diagnósticas"}
	for i, d := range c.SuggestedDiagnoses {
		diagnoses.Lines = append(diagnoses.Lines, fmt.Sprintf("%d. %s (%d%%)", i+1, d.Diagnosis, d.Confidence))
		for _, l := range splitLines(d.Reasoning) {
			if l != "-" {
				diagnoses.Lines = append(diagnoses.Lines, "   "+l)
			}
		}
	}
	if len(diagnoses.Lines) == 0 {
		diagnoses.Lines = []string{"Nenhuma hipótese registrada."}
	}

	exams := section{Title: "Exames sugeridos"}
	for _, e := range c.SuggestedExams {
		line := fmt.Sprintf("• %s [%s]", e.Exam, label(urgencyLabels, consultation.Urgency(e.Priority)))
		if r := strings.TrimSpace(e.Reason); r != "" {
			line += ": " + strings.ReplaceAll(r, "\n", " ")
		}
		exams.Lines = append(exams.Lines, line)
	}
	if len(exams.Lines) == 0 {
		exams.Lines = []string{"Nenhum exame sugerido."}
	}

	out := []section{
		patient,
		{Title: "Resumo dos sintomas", Lines: splitLines(c.SymptomsSummary)},
		diagnoses,
		exams,
		{Title: "Recomendações", Lines: splitLines(c.Recommendations)},
	}
	if len(c.RefiningQuestions) > 0 {
		q := section{Title: "Perguntas para refinar"}
		for _, s := range c.RefiningQuestions {
			q.Lines = append(q.Lines, "• "+s)
		}
		out = append(out, q)
	}
	if strings.TrimSpace(c.DoctorNotes) != "" {
		out = append(out, section{Title: "Notas do médico", Lines: splitLines(c.DoctorNotes)})
	}
	return out
}

// plainText renders the report for a chat message.
func plainText(c *consultation.Consultation, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("Relatório de anamnese: " + orDash(c.PatientName) + "\n")
	for _, s := range sections(c, generatedAt) {
		b.WriteString("\n" + strings.ToUpper(s.Title) + "\n")
		for _, l := range s.Lines {
			b.WriteString(l + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
