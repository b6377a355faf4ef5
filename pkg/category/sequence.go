package category

import "strings"

// Sequence is one query's stage trace, bracketed by Start and End.
type Sequence []Category

// Bracket wraps stages with the sentinels. Empty input yields nil: a query
// that produced no categories has no sequence at all.
func Bracket(stages []Category) Sequence {
	if len(stages) == 0 {
		return nil
	}
	seq := make(Sequence, 0, len(stages)+2)
	seq = append(seq, Start)
	seq = append(seq, stages...)
	return append(seq, End)
}

// Stages returns the sequence without its sentinels.
func (s Sequence) Stages() []Category {
	if len(s) < 2 {
		return nil
	}
	return s[1 : len(s)-1]
}

func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c)
	}
	return strings.Join(parts, " ")
}
