package blood

// suppliesTo maps a donor group to the recipient groups it may supply.
// The table is fixed; nothing writes to it after init.
var suppliesTo = map[Group][]Group{
	ONeg:  {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
	OPos:  {OPos, APos, BPos, ABPos},
	ANeg:  {ANeg, APos, ABNeg, ABPos},
	APos:  {APos, ABPos},
	BNeg:  {BNeg, BPos, ABNeg, ABPos},
	BPos:  {BPos, ABPos},
	ABNeg: {ABNeg, ABPos},
	ABPos: {ABPos},
}

// receivesFrom is the inverse of suppliesTo, built once at init.
var receivesFrom = func() map[Group][]Group {
	inv := make(map[Group][]Group, len(suppliesTo))
	for _, donor := range All {
		for _, recipient := range suppliesTo[donor] {
			inv[recipient] = append(inv[recipient], donor)
		}
	}
	return inv
}()

// CompatibleDonorGroups returns the donor groups permitted to supply recipient.
// The result is a fresh slice in the order of All; an invalid group yields nil.
func CompatibleDonorGroups(recipient Group) []Group {
	donors := receivesFrom[recipient]
	out := make([]Group, len(donors))
	copy(out, donors)
	if len(out) == 0 {
		return nil
	}
	return out
}

// CanDonate reports whether a donor of group donor may supply recipient.
func CanDonate(donor, recipient Group) bool {
	for _, g := range suppliesTo[donor] {
		if g == recipient {
			return true
		}
	}
	return false
}
