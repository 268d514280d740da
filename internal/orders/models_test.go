package orders

import "testing"

func TestNormalizeSKU(t *testing.T) {
	cases := map[string]string{
		"sku-1":    "SKU-1",
		"  abc12 ": "ABC12",
		"XYZ":      "XYZ",
	}
	for in, want := range cases {
		if got := NormalizeSKU(in); got != want {
			t.Errorf("NormalizeSKU(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComputeTotals(t *testing.T) {
	items := []OrderItem{
		{Quantity: 4, UnitPriceCents: 2500, VATRateBP: 1900}, // net 10000, vat 1900
		{Quantity: 2, UnitPriceCents: 333, VATRateBP: 1900},  // net 666, vat 126.54 -> 127
	}
	net, vat, gross := ComputeTotals(items)
	if net != 10666 {
		t.Errorf("net = %d, want 10666", net)
	}
	if vat != 2027 {
		t.Errorf("vat = %d, want 2027", vat)
	}
	if gross != net+vat {
		t.Errorf("gross = %d, want %d", gross, net+vat)
	}
}

func TestComputeTotalsZeroRate(t *testing.T) {
	net, vat, gross := ComputeTotals([]OrderItem{{Quantity: 3, UnitPriceCents: 100}})
	if net != 300 || vat != 0 || gross != 300 {
		t.Errorf("got net=%d vat=%d gross=%d, want 300/0/300", net, vat, gross)
	}
}

func TestComputeTotalsEmpty(t *testing.T) {
	net, vat, gross := ComputeTotals(nil)
	if net != 0 || vat != 0 || gross != 0 {
		t.Errorf("empty items should total zero, got %d/%d/%d", net, vat, gross)
	}
}
