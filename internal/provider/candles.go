package provider

import "sort"

// CleanCandles drops bars without a timestamp or without any price and
// returns the rest sorted ascending by timestamp. Equal timestamps keep
// their input order.
func CleanCandles(in []Candle) []Candle {
	out := make([]Candle, 0, len(in))
	for _, c := range in {
		if c.Timestamp == 0 || c.Empty() {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
