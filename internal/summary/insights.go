package summary

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

const (
	// OtherCategory names uncategorized spending and the folded small slices.
	OtherCategory = "Other"
	OtherColor    = "#6B7280"

	smallSliceThreshold = 5
)

var hundred = decimal.NewFromInt(100)

// CategorySpending is one slice of the spending breakdown.
type CategorySpending struct {
	CategoryID string          `json:"categoryId,omitempty"`
	Name       string          `json:"name"`
	Color      string          `json:"color,omitempty"`
	Amount     core.Money      `json:"amount"`
	Percent    decimal.Decimal `json:"percent"`
}

// SpendingByCategory groups expenses by category, largest first, with each
// slice's share of the total rounded to one decimal. With more than two
// categories, slices under 5% are folded into a single Other entry.
func SpendingByCategory(expenses []core.Expense, categories []core.Category) []CategorySpending {
	byID := make(map[string]core.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	var total core.Money
	index := make(map[string]int)
	var out []CategorySpending
	for _, e := range expenses {
		i, ok := index[e.CategoryID]
		if !ok {
			item := CategorySpending{CategoryID: e.CategoryID, Name: OtherCategory}
			if c, found := byID[e.CategoryID]; found {
				item.Name = c.Name
				item.Color = c.Color
			}
			out = append(out, item)
			i = len(out) - 1
			index[e.CategoryID] = i
		}
		out[i].Amount = out[i].Amount.Add(e.Amount)
		total = total.Add(e.Amount)
	}
	if !total.IsPositive() {
		return nil
	}

	sortByAmount(out)
	if len(out) > 2 {
		out = foldSmallSlices(out, total)
	}
	for i := range out {
		out[i].Percent = share(out[i].Amount, total).Round(1)
	}
	return out
}

func foldSmallSlices(items []CategorySpending, total core.Money) []CategorySpending {
	threshold := decimal.NewFromInt(smallSliceThreshold)
	var large, small []CategorySpending
	for _, it := range items {
		if share(it.Amount, total).LessThan(threshold) {
			small = append(small, it)
		} else {
			large = append(large, it)
		}
	}
	if len(small) == 0 {
		return items
	}

	var folded core.Money
	for _, it := range small {
		folded = folded.Add(it.Amount)
	}

	merged := false
	for i := range large {
		if strings.EqualFold(large[i].Name, OtherCategory) {
			large[i].Amount = large[i].Amount.Add(folded)
			merged = true
			break
		}
	}
	if !merged {
		large = append(large, CategorySpending{
			CategoryID: small[0].CategoryID,
			Name:       OtherCategory,
			Color:      OtherColor,
			Amount:     folded,
		})
	}
	sortByAmount(large)
	return large
}

func sortByAmount(items []CategorySpending) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Amount.Cents > items[j].Amount.Cents
	})
}

func share(amount, total core.Money) decimal.Decimal {
	return decimal.NewFromInt(amount.Cents).Mul(hundred).Div(decimal.NewFromInt(total.Cents))
}
