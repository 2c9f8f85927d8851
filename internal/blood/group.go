// Package blood holds the blood group domain and the fixed donor/recipient
// compatibility table.
package blood

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBloodGroup is returned when a string does not name one of the eight ABO/Rh groups.
var ErrInvalidBloodGroup = errors.New("invalid blood group")

// Group is one of the eight ABO/Rh blood groups in canonical ASCII form.
type Group string

const (
	APos  Group = "A+"
	ANeg  Group = "A-"
	BPos  Group = "B+"
	BNeg  Group = "B-"
	OPos  Group = "O+"
	ONeg  Group = "O-"
	ABPos Group = "AB+"
	ABNeg Group = "AB-"
)

// All lists every group in a stable order.
var All = []Group{APos, ANeg, BPos, BNeg, OPos, ONeg, ABPos, ABNeg}

// Parse normalizes user input ("o−", " AB+ ") into a Group.
func Parse(s string) (Group, error) {
	n := strings.ToUpper(strings.TrimSpace(s))
	// U+2212 MINUS SIGN shows up in data typed on phones.
	n = strings.ReplaceAll(n, "−", "-")

	g := Group(n)
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBloodGroup, s)
	}
	return g, nil
}

// Valid reports whether g is one of the eight known groups.
func (g Group) Valid() bool {
	_, ok := suppliesTo[g]
	return ok
}

func (g Group) String() string {
	return string(g)
}
