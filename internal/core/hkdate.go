package core

import "time"

// HKLocation is the canonical UTC+8 location used throughout the engine.
// Source material for this system used "Hong Kong" and "Beijing"
// interchangeably for the same offset (spec §9 open question); this
// repository picks "Hong Kong" as the canonical term since every
// consumer of the offset is HK-market-specific.
var HKLocation = mustLoadHK()

func mustLoadHK() *time.Location {
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	if err != nil {
		// Asia/Hong_Kong is always present in the Go tzdata in production
		// builds; fall back to a fixed UTC+8 offset so tests and minimal
		// containers without a tzdata package still behave correctly.
		return time.FixedZone("HKT", 8*60*60)
	}
	return loc
}

// DateKey formats a time as the HK calendar date key used for day
// boundaries (spec §3, glossary "HK date key").
func DateKey(t time.Time) string {
	return t.In(HKLocation).Format("2006-01-02")
}

// DateKeyMs formats a unix-millisecond timestamp as an HK date key.
func DateKeyMs(ms int64) string {
	return DateKey(time.UnixMilli(ms))
}
