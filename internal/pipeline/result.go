package pipeline

// Result summarizes one batch. Rejected is keyed by stage and Merged by dedup tier.
type Result struct {
	RunID        string         `json:"run_id"`
	Received     int            `json:"received"`
	Malformed    int            `json:"malformed"`
	Rejected     map[string]int `json:"rejected"`
	Cached       int            `json:"cached"`
	Accepted     int            `json:"accepted"`
	Consolidated int            `json:"consolidated"`
	Created      int            `json:"created"`
	Merged       map[string]int `json:"merged"`
	Unchanged    int            `json:"unchanged"`
	Failed       int            `json:"failed"`
	FailOpen     int            `json:"fail_open"`
	Escalated    int            `json:"escalated"`
	Rejections   []Rejection    `json:"rejections,omitempty"`
	Incidents    []Outcome      `json:"incidents,omitempty"`
}

type Rejection struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Outcome is what happened to one consolidated incident.
type Outcome struct {
	IncidentID    int64  `json:"incident_id,omitempty"`
	ContentHash   string `json:"content_hash"`
	Title         string `json:"title"`
	Action        string `json:"action,omitempty"`
	Tier          string `json:"tier,omitempty"`
	EvidenceScore int    `json:"evidence_score"`
	MergedFrom    int    `json:"merged_from"`
	FailOpen      bool   `json:"fail_open,omitempty"`
	Escalated     bool   `json:"escalated,omitempty"`
	Error         string `json:"error,omitempty"`
}

func newResult(received int) Result {
	return Result{
		RunID:    newRunID(),
		Received: received,
		Rejected: map[string]int{},
		Merged:   map[string]int{},
	}
}

func (r *Result) record(item screened) {
	switch item.outcome {
	case outcomeAccepted:
		r.Accepted++
	case outcomeCached:
		r.Cached++
	case outcomeMalformed:
		r.Malformed++
		r.Rejections = append(r.Rejections, Rejection{Index: item.index, Title: item.title, Stage: item.stage, Reason: item.reason})
	case outcomeRejected:
		r.Rejected[item.stage]++
		r.Rejections = append(r.Rejections, Rejection{Index: item.index, Title: item.title, Stage: item.stage, Reason: item.reason})
	}
}

func (r *Result) recordOutcome(outcome Outcome) {
	r.Incidents = append(r.Incidents, outcome)
	if outcome.FailOpen {
		r.FailOpen++
	}
	if outcome.Escalated {
		r.Escalated++
	}
	switch {
	case outcome.Error != "":
		r.Failed++
	case outcome.Action == ActionCreated:
		r.Created++
	case outcome.Action == ActionMerged:
		r.Merged[outcome.Tier]++
	case outcome.Action == ActionUnchanged:
		r.Unchanged++
	}
}

// MergedTotal sums merges across tiers.
func (r Result) MergedTotal() int {
	total := 0
	for _, n := range r.Merged {
		total += n
	}
	return total
}
