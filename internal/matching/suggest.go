package matching

import (
	"math"
	"sort"
	"strings"

	"apflow/internal/documents"
	"apflow/internal/servicetitan"
)

const maxSuggestions = 5

// Candidates whose total strays more than this from the invoice are
// not plausible matches and never reach the scorer.
const suggestionAmountTolerance = 0.20

// ScoreJobs ranks candidate jobs for an invoice that carries no PO
// number. Scores are bounded to [0,1] and the ordering is
// deterministic: score descending, job id ascending on ties.
func ScoreJobs(doc *documents.Document, jobs []servicetitan.Job) []Suggestion {
	var scored []Suggestion
	for _, job := range jobs {
		if doc.Total > 0 {
			deltaPct := math.Abs(float64(job.Total-doc.Total)) / float64(doc.Total)
			if deltaPct > suggestionAmountTolerance {
				continue
			}
		}
		score := scoreJob(doc, job)
		if score <= 0 {
			continue
		}
		scored = append(scored, Suggestion{
			JobID:        job.ID,
			JobNumber:    job.Number,
			CustomerName: job.CustomerName,
			CompletedOn:  job.CompletedOn,
			Total:        job.Total,
			Score:        score,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].JobID < scored[j].JobID
	})
	if len(scored) > maxSuggestions {
		scored = scored[:maxSuggestions]
	}
	return scored
}

func scoreJob(doc *documents.Document, job servicetitan.Job) float64 {
	var score float64

	days := math.Abs(job.CompletedOn.Sub(doc.InvoiceDate).Hours()) / 24
	switch {
	case days <= 1:
		score += 0.4
	case days <= 3:
		score += 0.3
	case days <= 7:
		score += 0.2
	}

	if doc.Total > 0 {
		deltaPct := math.Abs(float64(job.Total-doc.Total)) / float64(doc.Total)
		switch {
		case deltaPct <= 0.10:
			score += 0.4
		case deltaPct <= suggestionAmountTolerance:
			score += 0.3
		}
	}

	customer := strings.ToLower(strings.TrimSpace(job.CustomerName))
	supplier := strings.ToLower(strings.TrimSpace(doc.SupplierNameRaw))
	if customer != "" && supplier != "" &&
		(strings.Contains(customer, supplier) || strings.Contains(supplier, customer)) {
		score += 0.2
	}

	return score
}
