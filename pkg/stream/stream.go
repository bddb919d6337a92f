// Package stream defines the descriptor for one extractable resource.
// Per-stream behavior (filter field name, extra query parameters) lives
// in configuration data rather than per-stream subtypes.
package stream

// DefaultDateFilterParam is the query parameter most endpoints use for
// incremental filtering.
const DefaultDateFilterParam = "updated_after"

// Stream describes one paginated resource endpoint.
type Stream struct {
	// Name identifies the stream in state and sink output.
	Name string

	// Path is the resource endpoint path on the API base URL.
	Path string

	// ReplicationKey is the record field used to detect new/changed
	// records. Empty means full-table: no date filter, no bookmark.
	ReplicationKey string

	// DateFilterParam overrides the incremental filter parameter name.
	// Empty means DefaultDateFilterParam.
	DateFilterParam string

	// ExtraParams are fixed query parameters some endpoints require.
	ExtraParams map[string]string
}

// FilterParam returns the effective date filter parameter name.
func (s Stream) FilterParam() string {
	if s.DateFilterParam != "" {
		return s.DateFilterParam
	}
	return DefaultDateFilterParam
}

// All returns the streams this extractor knows about, in sync order.
func All() []Stream {
	return []Stream{
		{
			Name:           "products",
			Path:           "/Products/GetProductMaster",
			ReplicationKey: "updated_at",
		},
		{
			Name: "product_compositions",
			Path: "/Products/getProductCompositions",
		},
		{
			Name: "suppliers",
			Path: "/wms/V2/getVendors",
		},
		{
			Name:           "sell_orders",
			Path:           "/orders/V2/getAllOrders",
			ReplicationKey: "last_update_date",
		},
		{
			Name:           "buy_orders",
			Path:           "/POs/V2/getAllPurchaseOrders",
			ReplicationKey: "last_update_date",
		},
		{
			Name:            "receipts",
			Path:            "/Grn/V2/getGrnDetails",
			ReplicationKey:  "created_at",
			DateFilterParam: "created_after",
		},
		{
			Name:            "returns",
			Path:            "/orders/getAllReturns",
			ReplicationKey:  "credit_note_date",
			DateFilterParam: "created_after",
		},
	}
}
