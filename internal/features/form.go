package features

import (
	"fmt"
	"strings"
)

// Result is the outcome of a single finished match from one team's point of view.
type Result string

const (
	Win  Result = "W"
	Draw Result = "D"
	Loss Result = "L"
)

// Points returns league points for the result: 3 for a win, 1 for a draw.
func (r Result) Points() float64 {
	switch r {
	case Win:
		return 3
	case Draw:
		return 1
	default:
		return 0
	}
}

// ParseResult accepts "W"/"D"/"L" as well as the long forms.
func ParseResult(s string) (Result, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "W", "WIN":
		return Win, nil
	case "D", "DRAW":
		return Draw, nil
	case "L", "LOSS":
		return Loss, nil
	}
	return "", fmt.Errorf("unknown match result %q", s)
}

// Form is a team's recent results, most recent first.
type Form []Result

// ParseForm parses a compact form string such as "WWDLW".
func ParseForm(s string) (Form, error) {
	form := make(Form, 0, len(s))
	for _, c := range s {
		r, err := ParseResult(string(c))
		if err != nil {
			return nil, err
		}
		form = append(form, r)
	}
	return form, nil
}

// Points sums the league points of every result. An empty form scores 0.
func (f Form) Points() float64 {
	var total float64
	for _, r := range f {
		total += r.Points()
	}
	return total
}

func (f Form) String() string {
	var b strings.Builder
	for _, r := range f {
		b.WriteString(string(r))
	}
	return b.String()
}
