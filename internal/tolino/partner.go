package tolino

import (
	"fmt"
	"sort"
	"strings"
)

// Partner describes a retailer-branded login variant of the webreader.
type Partner struct {
	// Key is the lower-case shop name used in configuration and data-test-ids.
	Key string
	// Country is the text of the country option the shop is listed under.
	Country string
}

// Selector returns the CSS selector of the partner tile on the login page.
func (p Partner) Selector() string {
	return fmt.Sprintf(`div[data-test-id="partnerShop-%s"]`, p.Key)
}

const defaultCountry = "Deutschland"

var partners = map[string]Partner{
	"thalia":     {Key: "thalia", Country: defaultCountry},
	"hugendubel": {Key: "hugendubel", Country: defaultCountry},
	"weltbild":   {Key: "weltbild", Country: defaultCountry},
	"osiander":   {Key: "osiander", Country: defaultCountry},
}

// LookupPartner resolves a configured shop name, case-insensitively.
func LookupPartner(shop string) (Partner, error) {
	key := strings.ToLower(strings.TrimSpace(shop))
	p, ok := partners[key]
	if !ok {
		return Partner{}, fmt.Errorf(
			"tolino partner shop %q is not supported, supported shops are: %s",
			shop, strings.Join(SupportedPartners(), ", "),
		)
	}
	return p, nil
}

// SupportedPartners lists the known shop keys in sorted order.
func SupportedPartners() []string {
	keys := make([]string, 0, len(partners))
	for k := range partners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
