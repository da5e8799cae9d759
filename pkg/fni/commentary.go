package fni

import (
	"strings"

	"github.com/solaius/model-harvester/pkg/entity"
)

const (
	strongBand = 80
	weakBand   = 40
)

type dimension struct {
	value    float64
	strength string
	weakness string
}

// Commentary builds the deterministic explanation of s.
func Commentary(s entity.Score) string {
	dims := []dimension{
		{s.P, "strong community adoption", "limited adoption so far"},
		{s.V, "strong recent momentum", "little recent momentum"},
		{s.C, "high credibility signals", "few credibility signals"},
		{s.U, "high practical utility", "limited deployment tooling"},
	}

	var strengths, weaknesses []string
	for _, d := range dims {
		switch {
		case d.value >= strongBand:
			strengths = append(strengths, d.strength)
		case d.value <= weakBand:
			weaknesses = append(weaknesses, d.weakness)
		}
	}

	var b strings.Builder
	if len(strengths) > 0 {
		b.WriteString("Strengths: ")
		b.WriteString(strings.Join(strengths, ", "))
		b.WriteString(". ")
	}
	if len(weaknesses) > 0 {
		b.WriteString("Weaknesses: ")
		b.WriteString(strings.Join(weaknesses, ", "))
		b.WriteString(". ")
	}
	b.WriteString("Recommended for ")
	b.WriteString(scenario(s))
	b.WriteString(".")
	if len(s.AnomalyFlags) > 0 {
		b.WriteString(" Caution: anomalous signals detected (")
		b.WriteString(strings.Join(s.AnomalyFlags, ", "))
		b.WriteString("), score penalized.")
	}
	return b.String()
}

func scenario(s entity.Score) string {
	switch {
	case s.Score >= 85:
		return "enterprise production use"
	case s.U >= 50 && s.P <= 50:
		return "local deployment"
	case s.V >= 70 && s.P <= 50:
		return "early adopters tracking a rising star"
	case s.P >= 70 && s.C <= 50:
		return "prototyping only"
	case s.C >= 70:
		return "research reference"
	default:
		return "general evaluation"
	}
}
