package model

import "github.com/oklog/ulid/v2"

// NewColdStartID generates a synthetic identifier for callers that supplied
// no content binding while the Innertube visitor-data fetch is disabled.
func NewColdStartID() string {
	return ulid.Make().String()
}
