package parser

import (
	"regexp"
	"strconv"
)

// energyPattern matches the EnergiBridge summary line. The duration may sit
// several lines after the energy figure.
var energyPattern = regexp.MustCompile(`(?s)Energy consumption in joules:\s*([\d.]+).*?([\d.]+)\s*sec`)

// Measurement is the pair of figures reported by the measurement tool.
type Measurement struct {
	EnergyJoules    float64
	DurationSeconds float64
}

// Parse returns the first energy/duration pair found in text. ok is false
// when the summary is missing or its numbers do not parse.
func Parse(text string) (m Measurement, ok bool) {
	match := energyPattern.FindStringSubmatch(text)
	if match == nil {
		return Measurement{}, false
	}

	energy, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Measurement{}, false
	}
	duration, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return Measurement{}, false
	}

	return Measurement{EnergyJoules: energy, DurationSeconds: duration}, true
}
