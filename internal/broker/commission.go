package broker

// Commission computes the cost charged for a fill.
type Commission interface {
	Calculate(o *Order, price float64, quantity int) float64
}

// NoCommission charges nothing.
type NoCommission struct{}

func (NoCommission) Calculate(*Order, float64, int) float64 { return 0 }

// FixedCommission charges a flat amount per fill.
type FixedCommission struct {
	Cost float64
}

func (c FixedCommission) Calculate(*Order, float64, int) float64 { return c.Cost }

// FuturesCommission charges per contract.
type FuturesCommission struct {
	PerContract float64
}

func (c FuturesCommission) Calculate(_ *Order, _ float64, quantity int) float64 {
	return c.PerContract * float64(quantity)
}

// NewCommission maps a config model name to a Commission. Unknown names charge nothing.
func NewCommission(model string, amount float64) Commission {
	switch model {
	case "fixed":
		return FixedCommission{Cost: amount}
	case "per_contract":
		return FuturesCommission{PerContract: amount}
	default:
		return NoCommission{}
	}
}
