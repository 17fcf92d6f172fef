package domain

import "time"

// CartLine is a pending line item. Price is snapshotted when the line is first added.
type CartLine struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"-"`
	ItemID   int64     `json:"item_id"`
	Name     string    `json:"name"`
	Size     string    `json:"size,omitempty"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

func (l CartLine) Subtotal() int64 {
	return l.Price * l.Quantity
}

// CartTotal sums quantity times snapshot price over lines.
func CartTotal(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}
