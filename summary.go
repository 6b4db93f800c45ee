package debate

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summarizer produces the joint summary of a finished debate.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []Message) (*Summary, error)
}

// Rubric scores a dissertation idea from 1 to 5 on each criterion.
type Rubric struct {
	Publishability          int `json:"publishability" jsonschema:"description=Likelihood of publication in a good venue (1-5)"`
	DistinctionPotential    int `json:"distinction_potential" jsonschema:"description=Potential to earn a distinction (1-5)"`
	DataAvailability        int `json:"data_availability" jsonschema:"description=Availability of the data needed (1-5)"`
	PracticalImpact         int `json:"practical_impact" jsonschema:"description=Practical impact of the results (1-5)"`
	MethodologicalSoundness int `json:"methodological_soundness" jsonschema:"description=Soundness of the proposed methodology (1-5)"`
	EthicalConsiderations   int `json:"ethical_considerations" jsonschema:"description=How well ethical risks are manageable (1-5)"`
	TimeToCompletion        int `json:"time_to_completion" jsonschema:"description=Feasibility within a doctoral timeline (1-5)"`
	InnovationRevolutionary int `json:"innovation_revolutionary" jsonschema:"description=Revolutionary innovation (1-5)"`
	IncrementalContribution int `json:"incremental_contribution" jsonschema:"description=Incremental contribution to the field (1-5)"`
}

// RubricItem is a single named score.
type RubricItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Score int    `json:"score"`
}

// Items returns the scores in display order.
func (r Rubric) Items() []RubricItem {
	items := []RubricItem{
		{Key: "publishability", Score: r.Publishability},
		{Key: "distinction_potential", Score: r.DistinctionPotential},
		{Key: "data_availability", Score: r.DataAvailability},
		{Key: "practical_impact", Score: r.PracticalImpact},
		{Key: "methodological_soundness", Score: r.MethodologicalSoundness},
		{Key: "ethical_considerations", Score: r.EthicalConsiderations},
		{Key: "time_to_completion", Score: r.TimeToCompletion},
		{Key: "innovation_revolutionary", Score: r.InnovationRevolutionary},
		{Key: "incremental_contribution", Score: r.IncrementalContribution},
	}
	for i := range items {
		items[i].Label = rubricLabel(items[i].Key)
	}
	return items
}

func (r *Rubric) clamp() {
	for _, p := range []*int{
		&r.Publishability, &r.DistinctionPotential, &r.DataAvailability,
		&r.PracticalImpact, &r.MethodologicalSoundness, &r.EthicalConsiderations,
		&r.TimeToCompletion, &r.InnovationRevolutionary, &r.IncrementalContribution,
	} {
		*p = max(1, min(5, *p))
	}
}

// rubricLabel turns "data_availability" into "Data Availability".
func rubricLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Summary is the joint verdict of both advisors.
type Summary struct {
	Rubric        Rubric `json:"rubric"`
	KeyPoints     string `json:"key_points" jsonschema:"description=Markdown bullet list of the strongest arguments"`
	AdvisorAdvice string `json:"advisor_advice" jsonschema:"description=Concise guidance for the student"`
	Viable        bool   `json:"viable" jsonschema:"description=False only if both advisors explicitly agreed the idea is not viable"`
}

// RubricStats aggregates the rubric scores.
type RubricStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Stats computes mean, standard deviation and range of the rubric.
func (s *Summary) Stats() RubricStats {
	items := s.Rubric.Items()
	scores := make([]float64, len(items))
	for i, item := range items {
		scores[i] = float64(item.Score)
	}
	mean, std := stat.MeanStdDev(scores, nil)
	return RubricStats{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(scores),
		Max:    floats.Max(scores),
	}
}

// Markdown renders the summary the way it is shown after the debate.
func (s *Summary) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Joint Summary\n\n")

	verdict := "viable"
	if !s.Viable {
		verdict = "not viable"
	}
	stats := s.Stats()
	fmt.Fprintf(&sb, "*Verdict: %s, average score %.1f/5*\n\n", verdict, stats.Mean)

	sb.WriteString("### Rubric\n\n")
	for _, item := range s.Rubric.Items() {
		fmt.Fprintf(&sb, "- **%s:** %d/5\n", item.Label, item.Score)
	}

	sb.WriteString("\n### Key Points\n\n")
	sb.WriteString(orNotAvailable(s.KeyPoints))
	sb.WriteString("\n\n### Advisor Advice\n\n")
	sb.WriteString(orNotAvailable(s.AdvisorAdvice))
	sb.WriteString("\n")
	return sb.String()
}

func orNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not available."
	}
	return strings.TrimSpace(s)
}
