package order

import "time"

type User struct {
	ID           int64
	Name         string
	MemberStatus string // customer | reseller | admin
	IsBanned     bool
}

type Product struct {
	ID            int
	Name          string
	Category      string
	CustomerPrice int64
	ResellerPrice *int64
	SoldCount     int
	IsActive      bool
}

// PriceFor resolves the price tier at order-creation time; later price
// changes never affect an existing order.
func (p Product) PriceFor(memberStatus string) int64 {
	if memberStatus == "reseller" && p.ResellerPrice != nil {
		return *p.ResellerPrice
	}
	return p.CustomerPrice
}

type Order struct {
	ID            string
	InvoiceID     string // externally visible, keys the payment intent
	UserID        int64
	Items         []Item
	Subtotal      int64
	Discount      int64
	Fee           int64
	Total         int64
	PaymentMethod string
	Status        Status
	Flagged       bool // fraud gate recommended manual review
	CreatedAt     time.Time
	Deadline      time.Time
	UpdatedAt     time.Time
}

// Item binds the order to one specific stock unit at the price actually
// charged.
type Item struct {
	ProductID int
	StockID   string
	UnitPrice int64
}

// LineInput is one requested product+quantity from the buyer.
type LineInput struct {
	ProductID int `json:"product_id"`
	Qty       int `json:"qty"`
}

// Stats is the admin rollup of lifecycle outcomes across all orders.
type Stats struct {
	Total     int   `json:"total_orders"`
	Pending   int   `json:"pending"`
	Paid      int   `json:"paid"`
	Expired   int   `json:"expired"`
	Cancelled int   `json:"cancelled"`
	Revenue   int64 `json:"revenue"` // sum of paid totals, in rupiah
}

func (o Order) UnitIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.StockID)
	}
	return ids
}
