package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/schema"
)

// RunJSON validates raw connector payloads against the candidate schema and runs the
// valid ones. Invalid payloads are reported as malformed with their original index.
func (s *Service) RunJSON(ctx context.Context, payloads []json.RawMessage) (Result, error) {
	candidates := make([]incident.Candidate, 0, len(payloads))
	positions := make([]int, 0, len(payloads))
	var invalid []Rejection

	for i, payload := range payloads {
		candidate, err := schema.ValidateCandidatePayload(payload)
		if err != nil {
			if !errors.Is(err, incident.ErrMalformed) {
				return newResult(len(payloads)), err
			}
			invalid = append(invalid, Rejection{Index: i, Title: payloadTitle(payload), Stage: StageMalformed, Reason: err.Error()})
			s.metrics.Candidate(string(outcomeMalformed))
			s.metrics.Rejected(StageMalformed)
			continue
		}
		candidates = append(candidates, candidate)
		positions = append(positions, i)
	}

	result, err := s.Run(ctx, candidates)
	result.Received = len(payloads)
	result.Malformed += len(invalid)
	for i := range result.Rejections {
		result.Rejections[i].Index = positions[result.Rejections[i].Index]
	}
	result.Rejections = append(result.Rejections, invalid...)
	sort.SliceStable(result.Rejections, func(a, b int) bool {
		return result.Rejections[a].Index < result.Rejections[b].Index
	})
	return result, err
}

func payloadTitle(payload json.RawMessage) string {
	var probe struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Title
}
