package tolino

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupPartnerIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	p, err := LookupPartner("  Thalia ")
	require.NoError(t, err)
	require.Equal(t, "thalia", p.Key)
	require.Equal(t, "Deutschland", p.Country)
	require.Equal(t, `div[data-test-id="partnerShop-thalia"]`, p.Selector())
}

func TestLookupPartnerListsSupportedShops(t *testing.T) {
	t.Parallel()

	_, err := LookupPartner("amazon")
	require.ErrorContains(t, err, `"amazon" is not supported`)
	require.ErrorContains(t, err, "hugendubel, osiander, thalia, weltbild")
}

func TestSupportedPartnersSorted(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"hugendubel", "osiander", "thalia", "weltbild"}, SupportedPartners())
}
