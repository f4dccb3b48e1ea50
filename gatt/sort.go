package gatt

import "github.com/bradfitz/slice"

// sortedStrings sorts an arbitrary []interface{} of strings (as
// returned by mapset.Set.ToSlice) using bradfitz/slice, the same
// sorter Krajiyah-ble-sdk's pkg/util uses for its packet reassembly
// order, and returns a plain []string.
func sortedStrings(items []interface{}) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = v.(string)
	}
	slice.Sort(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
