// Package selection picks chapters out of an ordered index using the
// range notation accepted on the command line: "all", "N" or "N-M".
package selection

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidSyntax = errors.New("invalid range syntax: use 'all', 'N' or 'N-M'")
	ErrOutOfRange    = errors.New("chapter index out of range")
	ErrInvalidRange  = errors.New("invalid chapter range")
)

var (
	singleRe   = regexp.MustCompile(`^(\d+)$`)
	intervalRe = regexp.MustCompile(`^(\d+)-(\d+)$`)
)

// Kind identifies the shape of a parsed range expression.
type Kind int

const (
	All Kind = iota
	Single
	Interval
)

func (k Kind) String() string {
	switch k {
	case All:
		return "all"
	case Single:
		return "single"
	case Interval:
		return "interval"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Spec is a parsed range expression. Start and End are 1-based as written
// by the user; clamping happens in Apply because it depends on the length
// of the collection.
type Spec struct {
	Kind  Kind
	Start int
	End   int
}

// Parse parses a range expression. Matching is case-insensitive and
// ignores surrounding whitespace.
func Parse(expr string) (Spec, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	if s == "all" {
		return Spec{Kind: All}, nil
	}

	if m := singleRe.FindStringSubmatch(s); m != nil {
		n, err := atoi(m[1])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSyntax, expr)
		}
		return Spec{Kind: Single, Start: n, End: n}, nil
	}

	if m := intervalRe.FindStringSubmatch(s); m != nil {
		a, errA := atoi(m[1])
		b, errB := atoi(m[2])
		if errA != nil || errB != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSyntax, expr)
		}
		return Spec{Kind: Interval, Start: a, End: b}, nil
	}

	return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSyntax, expr)
}

// atoi parses a digit group, saturating at math.MaxInt so oversized numbers
// still clamp or fail as out of range.
func atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt, nil
	}
	return n, err
}

// Bounds resolves the spec against a collection of length n and returns the
// half-open slice bounds [lo, hi).
func (s Spec) Bounds(n int) (int, int, error) {
	switch s.Kind {
	case All:
		return 0, n, nil
	case Single:
		if s.Start < 1 || s.Start > n {
			return 0, 0, fmt.Errorf("%w: %d not in 1-%d", ErrOutOfRange, s.Start, n)
		}
		return s.Start - 1, s.Start, nil
	case Interval:
		lo := s.Start - 1
		if lo < 0 {
			lo = 0
		}
		hi := s.End
		if hi > n {
			hi = n
		}
		if lo >= hi {
			return 0, 0, fmt.Errorf("%w: %d-%d with %d chapters", ErrInvalidRange, s.Start, s.End, n)
		}
		return lo, hi, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown kind %v", ErrInvalidSyntax, s.Kind)
	}
}

// Apply returns the selected sub-sequence of items. The result never aliases
// items.
func Apply[T any](s Spec, items []T) ([]T, error) {
	lo, hi, err := s.Bounds(len(items))
	if err != nil {
		return nil, err
	}
	out := make([]T, hi-lo)
	copy(out, items[lo:hi])
	return out, nil
}

// Select parses expr and applies it to items.
func Select[T any](items []T, expr string) ([]T, error) {
	spec, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return Apply(spec, items)
}
