package order

import "strings"

// direction markers recognized in a broker stockName when resolving
// which monitor/direction owns an order recovered from the broker's
// order history (spec §4.5).
var longMarkers = []string{"RC", "BULL", "CALL", "牛"}
var shortMarkers = []string{"RP", "BEAR", "PUT", "熊"}

// OwnershipResult is the resolved (monitor, direction) pair for a
// broker stock name, or Matched=false when no monitor claims it.
type OwnershipResult struct {
	Monitor   string
	Direction string // "LONG" | "SHORT"
	Matched   bool
}

// MonitorOwnership pairs a monitor code with the substrings configured
// to recognize its stock names (spec §4.5 ownership_substrings).
type MonitorOwnership struct {
	Monitor    string
	Substrings []string
}

// ResolveOrderOwnership normalizes stockName and matches it against
// each monitor's configured substrings, then infers the direction from
// the recognized bull/bear marker. The first monitor whose substring
// appears in the normalized name wins.
func ResolveOrderOwnership(stockName string, monitors []MonitorOwnership) OwnershipResult {
	normalized := normalizeStockName(stockName)

	for _, m := range monitors {
		for _, sub := range m.Substrings {
			if sub == "" {
				continue
			}
			if strings.Contains(normalized, normalizeStockName(sub)) {
				dir, ok := directionFromMarkers(normalized)
				if !ok {
					return OwnershipResult{Monitor: m.Monitor, Matched: true}
				}
				return OwnershipResult{Monitor: m.Monitor, Direction: dir, Matched: true}
			}
		}
	}
	return OwnershipResult{Matched: false}
}

func normalizeStockName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func directionFromMarkers(normalized string) (string, bool) {
	for _, marker := range longMarkers {
		if strings.Contains(normalized, strings.ToUpper(marker)) {
			return "LONG", true
		}
	}
	for _, marker := range shortMarkers {
		if strings.Contains(normalized, strings.ToUpper(marker)) {
			return "SHORT", true
		}
	}
	return "", false
}
