package coupon

// TargetKind enumerates the closed set of base-amount strategies.
type TargetKind int

const (
	TargetTotal TargetKind = iota
	TargetItems
	TargetShipping
	TargetRestricted
)

func (k TargetKind) String() string {
	switch k {
	case TargetTotal:
		return "total"
	case TargetItems:
		return "items"
	case TargetShipping:
		return "shipping"
	case TargetRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// Target selects which part of the order a discount is computed against.
// Restricted targets carry the set of eligible product IDs.
type Target struct {
	kind     TargetKind
	products map[string]struct{}
}

func TotalTarget() Target { return Target{kind: TargetTotal} }
func ItemsTarget() Target { return Target{kind: TargetItems} }
func ShippingTarget() Target { return Target{kind: TargetShipping} }

// RestrictedTarget limits the base amount to lines whose product is listed.
func RestrictedTarget(productIDs ...string) Target {
	set := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		set[id] = struct{}{}
	}
	return Target{kind: TargetRestricted, products: set}
}

// Kind returns the strategy tag.
func (t Target) Kind() TargetKind { return t.kind }

// Includes reports whether productID is eligible under a restricted target.
func (t Target) Includes(productID string) bool {
	_, ok := t.products[productID]
	return ok
}

// ReducesDelivery reports whether the discount comes off the delivery fee.
func (t Target) ReducesDelivery() bool { return t.kind == TargetShipping }
