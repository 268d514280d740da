package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string
	SKU               string
	Name              string
	Active            bool
	QuantityAvailable int
	QuantityReserved  int
	UnitPriceCents    int64
	VATRateBP         int // basis points, 1900 = 19%
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartLine is advisory until reservation: it never holds stock by itself.
type CartLine struct {
	UserID    string
	ProductID string
	Quantity  int
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID              string
	UserID          string
	Status          Status
	Notes           string
	CancelReason    string
	TotalNetCents   int64
	TotalVATCents   int64
	TotalGrossCents int64
	SubmittedAt     time.Time
	ConfirmedAt     *time.Time
	ShippedAt       *time.Time
	Items           []OrderItem
}

// OrderItem is a frozen snapshot taken at submission; price and quantity never
// change afterwards, regardless of what happens to the live product.
type OrderItem struct {
	ID             int64
	OrderID        string
	ProductID      string
	SKU            string
	Name           string
	Quantity       int
	UnitPriceCents int64
	VATRateBP      int
}

// NormalizeSKU uppercases and trims; SKUs are stored normalized.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// ComputeTotals derives net/vat/gross cents from item snapshots. VAT is
// computed per item from its snapshotted rate and rounded half-up to cents.
func ComputeTotals(items []OrderItem) (net, vat, gross int64) {
	totalVAT := decimal.Zero
	for _, it := range items {
		lineNet := it.UnitPriceCents * int64(it.Quantity)
		net += lineNet
		rate := decimal.New(int64(it.VATRateBP), -4) // bp -> fraction
		lineVAT := decimal.NewFromInt(lineNet).Mul(rate).Round(0)
		totalVAT = totalVAT.Add(lineVAT)
	}
	vat = totalVAT.IntPart()
	gross = net + vat
	return net, vat, gross
}
