package market

import "bonecraft.ai/internal/sim/catalogs"

// FairUnitValue estimates what one unit of item is worth: the recipe price
// for crafted goods (times the HQ multiplier for HQ variants), otherwise
// the material base price, otherwise 0.
func (m *Market) FairUnitValue(item string) int64 {
	return FairUnitValue(m.cats, m.hqMult, item)
}

func FairUnitValue(cats *catalogs.Catalogs, hqMult int64, item string) int64 {
	if cats == nil {
		return 0
	}
	base, hq := catalogs.BaseItem(item)
	if r, ok := cats.Recipe(base); ok {
		if hq {
			return r.Price * hqMult
		}
		return r.Price
	}
	if hq {
		return 0
	}
	if p, ok := cats.BasePrice(item); ok {
		return p
	}
	return 0
}
