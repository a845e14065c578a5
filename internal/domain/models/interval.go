package models

import "strings"

// Interval is a named reporting cadence.
type Interval string

const (
	EverySecond   Interval = "EVERY_SECOND"
	Every5Seconds Interval = "EVERY_5_SECONDS"
	EndOfMinute   Interval = "END_OF_MINUTE"
	Every5Minutes Interval = "EVERY_5_MINUTES"
	Every1Hour    Interval = "EVERY_1_HOUR"
)

// AllIntervals returns every interval in canonical emission order.
func AllIntervals() []Interval {
	return []Interval{EverySecond, Every5Seconds, EndOfMinute, Every5Minutes, Every1Hour}
}

// legacy names from the results files of earlier releases map onto the canonical set
var intervalAliases = map[string]Interval{
	"EVERY_SECOND":    EverySecond,
	"EVERY_1_SECOND":  EverySecond,
	"1_SECOND":        EverySecond,
	"EVERY_5_SECONDS": Every5Seconds,
	"5_SECOND":        Every5Seconds,
	"5_SECONDS":       Every5Seconds,
	"END_OF_MINUTE":   EndOfMinute,
	"EVERY_1_MINUTE":  EndOfMinute,
	"1_MINUTE":        EndOfMinute,
	"EVERY_5_MINUTES": Every5Minutes,
	"5_MINUTE":        Every5Minutes,
	"5_MINUTES":       Every5Minutes,
	"EVERY_1_HOUR":    Every1Hour,
	"1_HOUR":          Every1Hour,
}

// ParseInterval resolves a canonical or legacy interval name.
func ParseInterval(name string) (Interval, error) {
	iv, ok := intervalAliases[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return "", &ConfigurationError{Field: "interval", Value: name, Reason: "unrecognized interval"}
	}
	return iv, nil
}

// IsValid reports whether i is one of the enumerated intervals.
func (i Interval) IsValid() bool {
	return i.Rank() >= 0
}

// Rank is the position of i in canonical emission order, or -1.
func (i Interval) Rank() int {
	for n, iv := range AllIntervals() {
		if iv == i {
			return n
		}
	}
	return -1
}

func (i Interval) String() string { return string(i) }
