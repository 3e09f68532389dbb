package orders

// Step is one entry of the customer-facing order tracker.
type Step struct {
	Status  Status `json:"status"`
	Label   string `json:"label"`
	Done    bool   `json:"done"`
	Current bool   `json:"current"`
}

var progression = []struct {
	status Status
	label  string
}{
	{StatusPending, "Order placed"},
	{StatusConfirmed, "Confirmed"},
	{StatusPreparing, "Being prepared"},
	{StatusOutForDelivery, "Out for delivery"},
	{StatusDelivered, "Delivered"},
}

// position maps a status onto the progression. PROCESSING shows as "Order
// placed" since the customer cannot tell it apart from PENDING.
func position(s Status) int {
	if s == StatusProcessing {
		s = StatusPending
	}
	for i, p := range progression {
		if p.status == s {
			return i
		}
	}
	return -1
}

// Timeline renders the tracker for an order in status s. Cancelled and failed
// orders show the placed step followed by the terminal status.
func Timeline(s Status) []Step {
	switch s {
	case StatusCancelled, StatusFailed:
		label := "Cancelled"
		if s == StatusFailed {
			label = "Payment failed"
		}
		return []Step{
			{Status: StatusPending, Label: progression[0].label, Done: true},
			{Status: s, Label: label, Done: true, Current: true},
		}
	}

	cur := position(s)
	steps := make([]Step, len(progression))
	for i, p := range progression {
		steps[i] = Step{
			Status:  p.status,
			Label:   p.label,
			Done:    i <= cur,
			Current: i == cur,
		}
	}
	return steps
}

// IsTerminal reports whether no further transitions are expected.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}
