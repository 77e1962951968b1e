package coupon

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joao-fontenele/storefront/internal/domain"
)

//go:embed coupons.json
var defaultCatalogJSON []byte

// Catalog is the read-only list of redeemable coupons.
type Catalog []domain.Coupon

// Lookup finds a coupon by code, ignoring case and surrounding space.
func (c Catalog) Lookup(code string) (domain.Coupon, bool) {
	code = NormalizeCode(code)
	for _, coupon := range c {
		if coupon.Code == code {
			return coupon, true
		}
	}
	return domain.Coupon{}, false
}

// LoadCatalog decodes a JSON array of coupons. Codes are stored upper-cased.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var catalog Catalog
	if err := json.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode coupon catalog: %w", err)
	}

	for i := range catalog {
		catalog[i].Code = NormalizeCode(catalog[i].Code)
		if catalog[i].Code == "" {
			return nil, fmt.Errorf("coupon at index %d has no code", i)
		}
		switch catalog[i].Type {
		case domain.CouponPercentage, domain.CouponFixed:
		default:
			return nil, fmt.Errorf("coupon %s: unknown type %q", catalog[i].Code, catalog[i].Type)
		}
	}

	return catalog, nil
}

// LoadCatalogFile reads a catalog fixture from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coupon catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadCatalog(f)
}

// DefaultCatalog returns the coupons bundled with the binary.
func DefaultCatalog() Catalog {
	catalog, err := LoadCatalog(bytes.NewReader(defaultCatalogJSON))
	if err != nil {
		panic(fmt.Sprintf("embedded coupon catalog: %v", err))
	}
	return catalog
}
