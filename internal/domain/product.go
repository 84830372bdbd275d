package domain

// Product is the catalog's view of a product. Stock is authoritative only at the moment
// it was read.
type Product struct {
	ID     string   `json:"_id"`
	Name   string   `json:"name"`
	Price  float64  `json:"price"`
	Images []string `json:"images"`
	Stock  int      `json:"stock"`
}
