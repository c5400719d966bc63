package ledger

import "github.com/shopspring/decimal"

// Sum derives a balance from a set of entries: sum(credits) - sum(debits).
// It is pure and order-independent, and uses exact decimal arithmetic
// throughout. The repository's AccountBalance pushes the same aggregate
// into SQL; the two must always agree.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Signed())
	}
	return total
}
