package models

import "time"

// ChangeNotification es el payload del webhook de cambios significativos
type ChangeNotification struct {
	SKU       string         `json:"sku"`
	Name      string         `json:"name,omitempty"`
	ScannedAt time.Time      `json:"scannedAt"`
	Changes   []VendorChange `json:"changes"`
}

// VendorChange resume los cambios de un vendor para el webhook
type VendorChange struct {
	Vendor   string       `json:"vendor"`
	URL      string       `json:"url"`
	Currency string       `json:"currency,omitempty"`
	Price    *PriceChange `json:"price,omitempty"`
	Stock    *StockChange `json:"stock,omitempty"`
}

// ToChangeNotification construye el payload con los vendors que tienen un
// cambio de precio significativo o un cambio de stock. Devuelve false si no
// hay nada que notificar.
func (r *ScanResult) ToChangeNotification() (ChangeNotification, bool) {
	n := ChangeNotification{
		SKU:       r.SKU,
		Name:      r.Name,
		ScannedAt: r.ScannedAt,
		Changes:   []VendorChange{},
	}
	for _, v := range r.Vendors {
		if v.Changes == nil {
			continue
		}
		c := VendorChange{Vendor: v.Name, URL: v.URL, Currency: v.Currency}
		if v.Changes.Price != nil && v.Changes.Price.IsSignificant {
			c.Price = v.Changes.Price
		}
		if v.Changes.Stock != nil && v.Changes.Stock.Changed {
			c.Stock = v.Changes.Stock
		}
		if c.Price == nil && c.Stock == nil {
			continue
		}
		n.Changes = append(n.Changes, c)
	}
	return n, len(n.Changes) > 0
}
