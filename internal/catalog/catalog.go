// Package catalog resuelve un SKU a su producto y a los vendors a consultar.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	cr "github.com/cockroachdb/errors"

	"github.com/juancollazo-ch/sku-price-scanner/internal/validator"
)

// Vendor es una fuente de precio para un producto.
type Vendor struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
}

type Product struct {
	SKU     string   `json:"sku" validate:"required,sku"`
	Name    string   `json:"name" validate:"required"`
	Vendors []Vendor `json:"vendors" validate:"required,min=1,dive"`
}

// Goal es la instrucción en lenguaje natural que recibe el servicio de
// extracción para un vendor de este producto.
func (p Product) Goal(v Vendor) string {
	return fmt.Sprintf(
		"Find the product %q (SKU %s) on this %s page. Return JSON with: price (number or null if not shown), "+
			"currency (ISO 4217 code), inStock (boolean), stockLevel (short availability text) and notes "+
			"(anything relevant such as pre-order or marketplace seller, or null).",
		p.Name, p.SKU, v.Name,
	)
}

type Catalog struct {
	products []Product
	bySKU    map[string]Product
}

// New valida los productos y construye el índice por SKU. Los SKUs se
// normalizan a mayúsculas.
func New(products []Product) (*Catalog, error) {
	c := &Catalog{bySKU: make(map[string]Product, len(products))}
	v := validator.Get()

	for i, p := range products {
		p.SKU = strings.ToUpper(strings.TrimSpace(p.SKU))
		if err := v.Struct(p); err != nil {
			return nil, cr.Wrapf(err, "catalog product #%d", i)
		}
		if _, dup := c.bySKU[p.SKU]; dup {
			return nil, cr.Newf("catalog: duplicate sku %s", p.SKU)
		}
		seen := make(map[string]bool, len(p.Vendors))
		for _, vendor := range p.Vendors {
			if seen[vendor.Name] {
				return nil, cr.Newf("catalog: duplicate vendor %s for sku %s", vendor.Name, p.SKU)
			}
			seen[vendor.Name] = true
		}
		c.products = append(c.products, p)
		c.bySKU[p.SKU] = p
	}
	return c, nil
}

// Load lee el catálogo de un archivo JSON (array de productos). Con path
// vacío devuelve el catálogo incorporado.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(Default())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cr.Wrapf(err, "read catalog %s", path)
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, cr.Wrapf(err, "parse catalog %s", path)
	}
	return New(products)
}

// Lookup espera un SKU ya normalizado.
func (c *Catalog) Lookup(sku string) (Product, bool) {
	p, ok := c.bySKU[sku]
	return p, ok
}

// Products devuelve los productos en el orden de configuración.
func (c *Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

func Default() []Product {
	return []Product{
		{
			SKU:  "RTX-4090",
			Name: "NVIDIA GeForce RTX 4090 24GB",
			Vendors: []Vendor{
				{Name: "Scan", URL: "https://www.scan.co.uk/search?q=rtx+4090"},
				{Name: "Overclockers", URL: "https://www.overclockers.co.uk/search?sSearch=rtx+4090"},
				{Name: "Ebuyer", URL: "https://www.ebuyer.com/search?q=rtx+4090"},
				{Name: "CCL", URL: "https://www.cclonline.com/search/?q=rtx+4090"},
			},
		},
		{
			SKU:  "RX-7900XTX",
			Name: "AMD Radeon RX 7900 XTX 24GB",
			Vendors: []Vendor{
				{Name: "Scan", URL: "https://www.scan.co.uk/search?q=rx+7900+xtx"},
				{Name: "Overclockers", URL: "https://www.overclockers.co.uk/search?sSearch=rx+7900+xtx"},
				{Name: "Ebuyer", URL: "https://www.ebuyer.com/search?q=rx+7900+xtx"},
			},
		},
		{
			SKU:  "9800X3D",
			Name: "AMD Ryzen 7 9800X3D",
			Vendors: []Vendor{
				{Name: "Scan", URL: "https://www.scan.co.uk/search?q=9800x3d"},
				{Name: "Overclockers", URL: "https://www.overclockers.co.uk/search?sSearch=9800x3d"},
				{Name: "CCL", URL: "https://www.cclonline.com/search/?q=9800x3d"},
			},
		},
	}
}
