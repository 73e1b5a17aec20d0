package consultation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Hadxxx/MedicIA/internal/store"
)

const topDiagnosesLimit = 5

type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

type DiagnosisCount struct {
	Diagnosis string `json:"diagnosis"`
	Count     int    `json:"count"`
}

// Dashboard is the aggregate view over every stored consultation.
// AvgDurationMinutes is an estimate of fifteen minutes per completed
// consultation spread over all of them.
type Dashboard struct {
	Total              int              `json:"total"`
	LastSevenDays      int              `json:"last_seven_days"`
	Completed          int              `json:"completed"`
	CompletionRate     float64          `json:"completion_rate"` // percent
	AvgDurationMinutes int              `json:"avg_duration_minutes"`
	ByStatus           map[Status]int   `json:"by_status"`
	Daily              []DayCount       `json:"daily"`
	TopDiagnoses       []DiagnosisCount `json:"top_diagnoses"`
}

func (s *Service) Dashboard(ctx context.Context, now time.Time) (*Dashboard, error) {
	all, err := s.repo.List(ctx, store.OldestFirst)
	if err != nil {
		return nil, err
	}
	return BuildDashboard(all, now), nil
}

// BuildDashboard aggregates consultations as of now. Day boundaries follow
// now's location.
func BuildDashboard(all []*Consultation, now time.Time) *Dashboard {
	d := &Dashboard{
		Total:        len(all),
		ByStatus:     make(map[Status]int, len(Statuses)),
		Daily:        make([]DayCount, 7),
		TopDiagnoses: []DiagnosisCount{},
	}
	for _, st := range Statuses {
		d.ByStatus[st] = 0
	}

	loc := now.Location()
	today := startOfDay(now)
	dayIndex := make(map[string]int, len(d.Daily))
	for i := range d.Daily {
		key := today.AddDate(0, 0, i-6).Format("2006-01-02")
		d.Daily[i].Date = key
		dayIndex[key] = i
	}

	weekAgo := now.AddDate(0, 0, -7)
	diagnoses := map[string]int{}

	for _, c := range all {
		d.ByStatus[c.Status]++
		if c.Status == StatusCompleted {
			d.Completed++
		}
		if !c.CreatedAt.Before(weekAgo) {
			d.LastSevenDays++
		}

		if idx, ok := dayIndex[c.CreatedAt.In(loc).Format("2006-01-02")]; ok {
			d.Daily[idx].Count++
		}

		for _, dg := range c.SuggestedDiagnoses {
			if dg.Diagnosis != "" {
				diagnoses[dg.Diagnosis]++
			}
		}
	}

	if d.Total > 0 {
		d.CompletionRate = math.Round(float64(d.Completed)/float64(d.Total)*1000) / 10
	}
	if d.Completed > 0 {
		d.AvgDurationMinutes = int(math.Round(float64(d.Total) / float64(d.Completed) * 15))
	}

	for name, n := range diagnoses {
		d.TopDiagnoses = append(d.TopDiagnoses, DiagnosisCount{Diagnosis: name, Count: n})
	}
	sort.Slice(d.TopDiagnoses, func(i, j int) bool {
		a, b := d.TopDiagnoses[i], d.TopDiagnoses[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Diagnosis < b.Diagnosis
	})
	if len(d.TopDiagnoses) > topDiagnosesLimit {
		d.TopDiagnoses = d.TopDiagnoses[:topDiagnosesLimit]
	}
	return d
}

func startOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}
