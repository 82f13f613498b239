package measurement

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadMeasurement is returned for a value string that cannot be decoded
var ErrBadMeasurement = errors.New("measurement: unable to parse value")

const (
	polarCutset = "; MWVAKdrij"
	rectCutset  = "; MWVAFKdegrij"
)

// ParseNumber keeps only the digits and decimal point of s.
func ParseNumber(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadMeasurement, s)
	}
	return v, nil
}

// ParseMagnitude returns the magnitude of a possibly complex value with a
// unit suffix, e.g. "120.5+2.1j V" or "+120.5-30.0d V".
func ParseMagnitude(s string) (float64, error) {
	if isPolar(s) {
		mag, _, err := splitPair(strings.Trim(s, polarCutset))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadMeasurement, s)
		}
		return mag, nil
	}
	tok := strings.ReplaceAll(strings.Trim(s, rectCutset), " ", "")
	re, im, err := splitPair(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadMeasurement, s)
	}
	return math.Hypot(re, im), nil
}

// ParseKW returns the real part, in kW, of a complex power value given in
// VA, kVA (written "KVA") or MVA, rectangular or polar.
func ParseKW(s string) (float64, error) {
	a, b, err := splitPair(strings.Trim(s, polarCutset))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadMeasurement, s)
	}

	p := a
	switch {
	case strings.Contains(s, "d"):
		p = a * math.Cos(b*math.Pi/180.0)
	case strings.Contains(s, "r"):
		p = a * math.Cos(b)
	}

	switch {
	case strings.Contains(s, "KVA"):
	case strings.Contains(s, "MVA"):
		p *= 1000.0
	default:
		p /= 1000.0
	}
	return p, nil
}

func isPolar(s string) bool {
	return strings.Contains(s, "d ") || strings.Contains(s, "r ")
}

// splitPair splits "a+b" or "a-b" at the sign that starts the second number.
// A lone real number yields b = 0.
func splitPair(tok string) (float64, float64, error) {
	k := -1
	for i := 1; i < len(tok); i++ {
		if tok[i] != '+' && tok[i] != '-' {
			continue
		}
		if prev := tok[i-1]; prev == 'e' || prev == 'E' {
			continue
		}
		k = i
		break
	}

	if k < 0 {
		a, err := strconv.ParseFloat(tok, 64)
		return a, 0, err
	}
	a, err := strconv.ParseFloat(tok[:k], 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(tok[k:], 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
