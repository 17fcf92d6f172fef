package domain

import "time"

// MaxPrice bounds an item price in minor units. Cart totals of 999-unit
// lines stay far inside int64.
const MaxPrice int64 = 1_000_000_000

// ItemKey identifies a catalog item by name and size variant.
// An empty Size means the item has no variants.
type ItemKey struct {
	Name string `json:"name"`
	Size string `json:"size,omitempty"`
}

func (k ItemKey) String() string {
	if k.Size == "" {
		return k.Name
	}
	return k.Name + "/" + k.Size
}

type CatalogItem struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Name      string    `json:"name"`
	Size      string    `json:"size,omitempty"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i CatalogItem) Key() ItemKey {
	return ItemKey{Name: i.Name, Size: i.Size}
}

// IsLowStock reports whether the quantity on hand is below threshold.
func (i CatalogItem) IsLowStock(threshold int64) bool {
	return i.Quantity < threshold
}
