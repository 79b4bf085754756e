package ledger

// =============================================================================
// ADDRESS - The fundamental unit: (type, reference, component, phase)
// =============================================================================

// Address identifies one ledger bucket. Reference is the optional sub-ledger
// key used by transaction types that support multiple concurrent instances
// (e.g. several balance transfers, each with its own rate and expiry); it is
// empty for everything else.
type Address struct {
	TransactionType TransactionType
	Reference       string
	Component       Component
	Phase           Phase
}

func NewAddress(tt TransactionType, ref string, c Component, p Phase) Address {
	return Address{TransactionType: tt, Reference: ref, Component: c, Phase: p}
}

// WithPhase returns the same bucket in a different lifecycle phase.
func (a Address) WithPhase(p Phase) Address {
	a.Phase = p
	return a
}

// Family is an address stripped of its phase: all phases of one
// (type, reference, component) triple belong to the same family, and the
// conservation invariant is stated per family.
type Family struct {
	TransactionType TransactionType
	Reference       string
	Component       Component
}

func (a Address) Family() Family {
	return Family{TransactionType: a.TransactionType, Reference: a.Reference, Component: a.Component}
}

func (f Family) At(p Phase) Address {
	return Address{TransactionType: f.TransactionType, Reference: f.Reference, Component: f.Component, Phase: p}
}

func (a Address) String() string {
	s := string(a.TransactionType)
	if a.Reference != "" {
		s += "/" + a.Reference
	}
	return s + "/" + string(a.Component) + "/" + string(a.Phase)
}
