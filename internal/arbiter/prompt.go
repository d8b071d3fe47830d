package arbiter

import (
	"fmt"
	"strings"

	"horse.fit/dronewatch/internal/incident"
)

func buildPrompt(a, b incident.Consolidated) string {
	var prompt strings.Builder
	prompt.WriteString("You compare two drone-sighting incident reports and decide whether they describe the same real-world event.\n")
	prompt.WriteString("Different outlets often report one event with different wording, times rounded differently and locations a few kilometres apart.\n")
	prompt.WriteString("Separate sightings at the same site on different nights are NOT the same event.\n\n")
	writeIncident(&prompt, "INCIDENT A", a)
	writeIncident(&prompt, "INCIDENT B", b)
	prompt.WriteString(`Respond with only a JSON object:
{"is_duplicate": true|false, "confidence": 0.0-1.0, "reasoning": "one or two sentences", "merged_title": "optional better title", "merged_narrative": "optional merged narrative"}
`)
	return prompt.String()
}

func writeIncident(b *strings.Builder, label string, c incident.Consolidated) {
	fmt.Fprintf(b, "%s\n", label)
	fmt.Fprintf(b, "Title: %s\n", c.Title)
	fmt.Fprintf(b, "Occurred at: %s\n", c.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))
	if c.Location != nil {
		fmt.Fprintf(b, "Location: %.4f, %.4f\n", c.Location.Lat, c.Location.Lon)
	}
	if c.Country != "" {
		fmt.Fprintf(b, "Country: %s\n", strings.ToUpper(c.Country))
	}
	if c.AssetType != "" {
		fmt.Fprintf(b, "Asset type: %s\n", c.AssetType)
	}
	names := make([]string, 0, len(c.Sources))
	for _, source := range c.Sources {
		names = append(names, fmt.Sprintf("%s (%s, trust %d)", source.Name, source.Type, source.TrustWeight))
	}
	if len(names) > 0 {
		fmt.Fprintf(b, "Sources: %s\n", strings.Join(names, "; "))
	}
	fmt.Fprintf(b, "Narrative: %s\n\n", truncate(strings.TrimSpace(c.Narrative), 1500))
}
