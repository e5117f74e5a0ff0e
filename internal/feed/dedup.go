package feed

// DeliveredChecker answers whether an alert identifier was already delivered.
type DeliveredChecker interface {
	Contains(id string) bool
}

// FilterNew returns the alerts whose identifiers are not in delivered,
// preserving feed order. Duplicate identifiers within the batch are kept
// once, first occurrence wins.
func FilterNew(alerts []Alert, delivered DeliveredChecker) []Alert {
	if len(alerts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		id := a.Identifier()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if delivered != nil && delivered.Contains(id) {
			continue
		}
		fresh = append(fresh, a)
	}
	return fresh
}
