package order

import "math"

// Fee is the gateway charge on the discounted subtotal:
// round(d * rate) + fixed. Pure function, recomputed at every
// total-affecting mutation and never cached past a state change.
func Fee(subtotal, discount int64, rate float64, fixed int64) int64 {
	d := subtotal - discount
	if d < 0 {
		d = 0
	}
	return int64(math.Round(float64(d)*rate)) + fixed
}

// Total is what the buyer owes: subtotal - discount + fee.
func Total(subtotal, discount, fee int64) int64 {
	return subtotal - discount + fee
}
