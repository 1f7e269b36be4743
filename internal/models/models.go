package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScanResult es el resultado de un scan lógico de un SKU.
// Cached y Stale son excluyentes: un fetch en vivo tiene ambos en false.
type ScanResult struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name,omitempty"`
	ScannedAt   time.Time      `json:"scannedAt"`
	Vendors     []VendorResult `json:"vendors"`
	Cached      bool           `json:"cached"`
	Stale       bool           `json:"stale,omitempty"`
	StaleReason string         `json:"staleReason,omitempty"`
	Errors      []VendorError  `json:"errors,omitempty"`
}

// VendorResult es la observación de un vendor dentro de un scan.
// Price nil implica que no se calcula PriceChange para este vendor.
type VendorResult struct {
	Name       string           `json:"name"`
	URL        string           `json:"url"`
	Price      *decimal.Decimal `json:"price"`
	Currency   string           `json:"currency"`
	InStock    bool             `json:"inStock"`
	StockLevel string           `json:"stockLevel"`
	Notes      *string          `json:"notes"`
	Changes    *VendorChanges   `json:"changes,omitempty"`
}

// VendorChanges lo produce el detector de cambios; ausente sin scan previo.
type VendorChanges struct {
	Price *PriceChange `json:"price,omitempty"`
	Stock *StockChange `json:"stock,omitempty"`
}

// PriceChange se deriva, no se persiste por separado.
// PercentChange se omite cuando el precio anterior es 0.
type PriceChange struct {
	Previous      decimal.Decimal  `json:"previous"`
	Current       decimal.Decimal  `json:"current"`
	Delta         decimal.Decimal  `json:"delta"`
	PercentChange *decimal.Decimal `json:"percentChange,omitempty"`
	IsSignificant bool             `json:"isSignificant"`
}

type StockChange struct {
	Changed  bool `json:"changed"`
	Previous bool `json:"previous"`
	Current  bool `json:"current"`
}

// VendorError describe el fallo de un vendor en un scan parcial.
type VendorError struct {
	Vendor string `json:"vendor"`
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
}

// Clone devuelve una copia profunda (vendors, precios, notas y cambios).
func (r *ScanResult) Clone() *ScanResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Vendors != nil {
		out.Vendors = make([]VendorResult, len(r.Vendors))
		for i, v := range r.Vendors {
			out.Vendors[i] = v.Clone()
		}
	}
	if r.Errors != nil {
		out.Errors = append([]VendorError(nil), r.Errors...)
	}
	return &out
}

func (v VendorResult) Clone() VendorResult {
	out := v
	if v.Price != nil {
		p := *v.Price
		out.Price = &p
	}
	if v.Notes != nil {
		n := *v.Notes
		out.Notes = &n
	}
	if v.Changes != nil {
		c := VendorChanges{}
		if v.Changes.Price != nil {
			pc := *v.Changes.Price
			if pc.PercentChange != nil {
				pct := *pc.PercentChange
				pc.PercentChange = &pct
			}
			c.Price = &pc
		}
		if v.Changes.Stock != nil {
			sc := *v.Changes.Stock
			c.Stock = &sc
		}
		out.Changes = &c
	}
	return out
}

// VendorByName busca un vendor por nombre.
func (r *ScanResult) VendorByName(name string) (VendorResult, bool) {
	for _, v := range r.Vendors {
		if v.Name == name {
			return v, true
		}
	}
	return VendorResult{}, false
}
