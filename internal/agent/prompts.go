package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Hadxxx/MedicIA/internal/consultation"
)

const interviewSystemPrompt = "Você é um assistente médico especializado em anamnese. " +
	"Conduza uma entrevista médica profissional e estruturada em português do Brasil. " +
	"Seja empático, faça perguntas específicas e relevantes sobre sintomas, duração, intensidade e fatores associados."

const synthesisSystemPrompt = "Você é um assistente médico especializado. " +
	"Responda sempre em formato de tópicos organizados para facilitar a leitura clínica."

var interviewPrompt = template.Must(template.New("interview").Parse(`Você é um assistente médico especializado em anamnese. Conduza uma entrevista médica profissional e estruturada.

Paciente: {{.Patient}}
{{- if .Complaint}}
Queixa principal: {{.Complaint}}
{{- end}}

Histórico da conversa:
{{.History}}

INSTRUÇÕES IMPORTANTES:
1. Responda de forma OBJETIVA e em TÓPICOS
2. Use bullets (•) para organizar informações
3. Seja conciso e direto
4. Foque nas perguntas mais relevantes clinicamente
5. Quando necessário, organize em seções como:
   - Sintomas principais
   - Duração e características
   - Fatores associados
   - Perguntas de seguimento

Exemplo de formato de resposta:
• Sintoma relatado: [descrição]
• Próximas perguntas importantes:
  - Há quanto tempo isso começou?
  - A dor piora com alguma atividade?
  - Existem outros sintomas associados?

Responda de forma estruturada e prática para facilitar a consulta médica:`))

var synthesisPrompt = template.Must(template.New("synthesis").Parse(`Analise esta anamnese médica e forneça uma análise completa em formato de tópicos estruturados:

Paciente: {{.Patient}}
{{- if .Complaint}}
Queixa principal: {{.Complaint}}
{{- end}}

Conversa da anamnese:
{{.History}}

FORMATO OBRIGATÓRIO - Responda somente com um objeto JSON contendo exatamente estas chaves:
{
  "suggested_diagnoses": [
    {
      "diagnosis": "Nome do diagnóstico",
      "confidence": 85,
      "reasoning": "• Sintoma X presente\n• Idade compatível\n• Exame físico necessário para confirmar"
    }
  ],
  "symptoms_summary": "• Sintoma principal: [descrição]\n• Sintomas associados: [lista]\n• Duração: X dias/semanas",
  "recommendations": "• Conduta imediata sugerida\n• Medicações a considerar\n• Retorno em X dias",
  "refining_questions": [
    "Pergunta específica sobre sintoma X?"
  ],
  "suggested_exams": [
    {
      "exam": "Nome do exame",
      "reason": "• Para confirmar diagnóstico X",
      "priority": "alta"
    }
  ],
  "urgency_level": "media"
}

Regras:
- "confidence" é um número inteiro entre 0 e 100.
- "priority" é um de: alta, media, baixa.
- "urgency_level" é um de: baixa, media, alta, urgente.
- Use formato de tópicos em TODOS os campos de texto para facilitar a leitura médica.`))

var followUpPrompt = template.Must(template.New("follow_up").Parse(`Você é um assistente médico respondendo a perguntas de acompanhamento de um médico.
Contexto da Consulta:
{{.Summary}}

Histórico da conversa de acompanhamento:
{{.History}}

Pergunta do Médico: {{.Question}}

Instruções:
- Forneça respostas concisas e informativas baseadas estritamente no contexto fornecido.
- Se a informação não estiver disponível, informe que não pode responder com base nos dados atuais.
- Aja como um consultor especialista para o médico.

Resposta:`))

type promptData struct {
	Patient   string
	Complaint string
	History   string
	Summary   string
	Question  string
}

func render(t *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

func patientLine(c *consultation.Consultation) string {
	parts := []string{c.PatientName}
	if c.PatientAge != "" {
		parts = append(parts, string(c.PatientAge)+" anos")
	}
	if c.PatientGender != "" {
		parts = append(parts, c.PatientGender)
	}
	return strings.Join(parts, ", ")
}

func historyText(msgs []consultation.Message) string {
	if len(msgs) == 0 {
		return "(sem mensagens)"
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

type consultationSummary struct {
	PatientInfo struct {
		Name   string           `json:"name"`
		Age    consultation.Age `json:"age"`
		Gender string           `json:"gender"`
	} `json:"patient_info"`
	Complaint       string                   `json:"complaint"`
	Symptoms        string                   `json:"symptoms"`
	Diagnoses       []consultation.Diagnosis `json:"diagnoses"`
	Exams           []consultation.Exam      `json:"exams"`
	Recommendations string                   `json:"recommendations"`
}

func summaryJSON(c *consultation.Consultation) (string, error) {
	var s consultationSummary
	s.PatientInfo.Name = c.PatientName
	s.PatientInfo.Age = c.PatientAge
	s.PatientInfo.Gender = c.PatientGender
	s.Complaint = c.ChiefComplaint
	s.Symptoms = c.SymptomsSummary
	s.Diagnoses = c.SuggestedDiagnoses
	s.Exams = c.SuggestedExams
	s.Recommendations = c.Recommendations

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding consultation summary: %w", err)
	}
	return string(b), nil
}

// interviewMessages builds the primary-channel request. The transcript
// already ends with the clinician's latest input.
func interviewMessages(c *consultation.Consultation) ([]chatMessage, error) {
	prompt, err := render(interviewPrompt, promptData{
		Patient:   patientLine(c),
		Complaint: c.ChiefComplaint,
		History:   historyText(c.ChatMessages),
	})
	if err != nil {
		return nil, err
	}
	return []chatMessage{
		{Role: "system", Content: interviewSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil
}

// followUpMessages splits the trailing user message off the follow-up
// transcript and asks it as the doctor's question.
func followUpMessages(c *consultation.Consultation) ([]chatMessage, error) {
	history := c.FollowUpChat
	var question string
	if n := len(history); n > 0 && history[n-1].Role == consultation.RoleUser {
		question = history[n-1].Content
		history = history[:n-1]
	}

	summary, err := summaryJSON(c)
	if err != nil {
		return nil, err
	}
	prompt, err := render(followUpPrompt, promptData{
		Summary:  summary,
		History:  historyText(history),
		Question: question,
	})
	if err != nil {
		return nil, err
	}
	return []chatMessage{{Role: "system", Content: prompt}}, nil
}

func synthesisMessages(c *consultation.Consultation) ([]chatMessage, error) {
	prompt, err := render(synthesisPrompt, promptData{
		Patient:   patientLine(c),
		Complaint: c.ChiefComplaint,
		History:   historyText(c.ChatMessages),
	})
	if err != nil {
		return nil, err
	}
	return []chatMessage{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil
}
