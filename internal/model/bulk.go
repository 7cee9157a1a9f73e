package model

// ItemResult is the outcome for one id of a bulk operation.
type ItemResult struct {
	ID  string `json:"id"`
	Err *Error `json:"error,omitempty"`
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

// BulkResult collects per-item outcomes in request order.
type BulkResult struct {
	Items []ItemResult `json:"items"`
}

func (b *BulkResult) Succeed(id string) {
	b.Items = append(b.Items, ItemResult{ID: id})
}

func (b *BulkResult) Fail(id string, err *Error) {
	b.Items = append(b.Items, ItemResult{ID: id, Err: err})
}

// Succeeded returns the ids that were applied.
func (b *BulkResult) Succeeded() []string {
	var ids []string
	for _, it := range b.Items {
		if it.OK() {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Failed returns the items that were not applied.
func (b *BulkResult) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range b.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// Mixed reports whether some but not all items succeeded.
func (b *BulkResult) Mixed() bool {
	n := len(b.Succeeded())
	return n > 0 && n < len(b.Items)
}
