package uci

import (
	"strconv"
	"strings"
)

// Score is an engine score from the side to move's point of view.
// Mate > 0 means the side to move mates in Mate moves; Mate <= 0 means it
// is being mated.
type Score struct {
	Valid  bool
	IsMate bool
	CP     int
	Mate   int
	Depth  int
	// Bound is "lowerbound", "upperbound" or empty for an exact score.
	Bound string
}

// ParseScore extracts the score annotation from an info line.
func ParseScore(line string) (Score, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 || parts[0] != "info" {
		return Score{}, false
	}

	var sc Score
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			// free text to end of line
			return sc, sc.Valid
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					sc.Depth = v
				}
				i++
			}
		case "score":
			if i+2 >= len(parts) {
				return Score{}, false
			}
			v, err := strconv.Atoi(parts[i+2])
			if err != nil {
				return Score{}, false
			}
			switch parts[i+1] {
			case "cp":
				sc.CP = v
			case "mate":
				sc.IsMate = true
				sc.Mate = v
			default:
				return Score{}, false
			}
			sc.Valid = true
			i += 2
			if i+1 < len(parts) && (parts[i+1] == "lowerbound" || parts[i+1] == "upperbound") {
				sc.Bound = parts[i+1]
				i++
			}
		case "pv":
			return sc, sc.Valid
		}
	}
	return sc, sc.Valid
}
