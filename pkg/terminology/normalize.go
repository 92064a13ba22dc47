package terminology

// Normalizer maps variant concept identifiers to canonical ones so that
// downstream code coverage is found under a single identifier. The mapping
// is a curated alias list, not a hierarchy walk.
type Normalizer struct {
	aliases map[string]string
}

func NewNormalizer(aliases ...map[string]string) *Normalizer {
	merged := make(map[string]string)
	for _, m := range aliases {
		for from, to := range m {
			if from != "" && to != "" && from != to {
				merged[from] = to
			}
		}
	}
	return &Normalizer{aliases: merged}
}

// Canonical follows alias links until a fixed point, guarding against cycles.
func (n *Normalizer) Canonical(cui string) string {
	if n == nil || cui == "" {
		return cui
	}
	seen := map[string]struct{}{cui: {}}
	cur := cui
	for {
		next, ok := n.aliases[cur]
		if !ok {
			return cur
		}
		if _, loop := seen[next]; loop {
			return cur
		}
		seen[next] = struct{}{}
		cur = next
	}
}
