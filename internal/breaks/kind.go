package breaks

import "fmt"

// Kind identifies one of the fixed break categories.
type Kind string

const (
	KindToilet Kind = "toilet"
	KindSmoke  Kind = "smoke"
	KindMeal   Kind = "meal"
)

// Kinds returns all break kinds in summary rendering order.
func Kinds() []Kind {
	return []Kind{KindSmoke, KindToilet, KindMeal}
}

// Valid reports whether k is one of the known break kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindToilet, KindSmoke, KindMeal:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown break kind: %q", s)
	}
	return k, nil
}
