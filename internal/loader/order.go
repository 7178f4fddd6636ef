package loader

// PriorityOrder returns the load order for n pages: p first, then its
// neighbours alternating outward (p+1, p-1, p+2, p-2, ...) up to radius
// steps, then every remaining index in ascending order. A radius <= 0 walks
// outward until both ends are reached. An out-of-range p is clamped.
func PriorityOrder(p, n, radius int) []int {
	if n <= 0 {
		return nil
	}
	p = min(max(p, 0), n-1)
	if radius <= 0 {
		radius = n
	}
	order := make([]int, 0, n)
	seen := make([]bool, n)
	push := func(i int) {
		if i >= 0 && i < n && !seen[i] {
			seen[i] = true
			order = append(order, i)
		}
	}
	push(p)
	for d := 1; d <= radius && (p+d < n || p-d >= 0); d++ {
		push(p + d)
		push(p - d)
	}
	for i := range n {
		push(i)
	}
	return order
}
