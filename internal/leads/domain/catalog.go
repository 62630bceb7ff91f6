package domain

// CatalogEntry is the checkout price for one service and timing pair.
type CatalogEntry struct {
	PriceID string
	Cents   int
}

var catalog = map[Service]map[Timing]CatalogEntry{
	ServiceFuneral: {
		TimingImmediate:  {PriceID: "price_1S5ox3ELPxBtB8l9Xs7sIc43", Cents: 10000},
		TimingWithin24h:  {PriceID: "price_1S5oDJELPxBtB8l9GWjyQZHC", Cents: 7500},
		TimingWithinDays: {PriceID: "price_1S5oEeELPxBtB8l9g38R6i0N", Cents: 4500},
	},
	ServiceCremation: {
		TimingImmediate:  {PriceID: "price_1S5p8IELPxBtB8l90NCfNK8Y", Cents: 9000},
		TimingWithin24h:  {PriceID: "price_1S5pCRELPxBtB8l9D7grFvYf", Cents: 6500},
		TimingWithinDays: {PriceID: "price_1S5pDCELPxBtB8l94iiPKYEw", Cents: 3500},
	},
	ServiceTransfer: {
		TimingImmediate:  {PriceID: "price_1S5pDrELPxBtB8l9YdyAHYdU", Cents: 8000},
		TimingWithin24h:  {PriceID: "price_1S5pEXELPxBtB8l9kEgY4YZd", Cents: 5500},
		TimingWithinDays: {PriceID: "price_1S5pFgELPxBtB8l9YkhAqlhA", Cents: 3000},
	},
}

// Lookup returns the catalog entry for a service and timing.
func Lookup(s Service, t Timing) (CatalogEntry, bool) {
	byTiming, ok := catalog[s]
	if !ok {
		return CatalogEntry{}, false
	}
	entry, ok := byTiming[t]
	return entry, ok
}
