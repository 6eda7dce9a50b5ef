package domain

import "testing"

func TestTierPriceFor(t *testing.T) {
	tier := Tier{ID: "tier-pro", PriceMonthly: 50000, PriceYearly: 500000}

	tests := []struct {
		name  string
		cycle string
		want  int64
	}{
		{name: "monthly", cycle: BillingCycleMonthly, want: 50000},
		{name: "yearly", cycle: BillingCycleYearly, want: 500000},
		{name: "unknown cycle returns zero", cycle: "weekly", want: 0},
		{name: "empty cycle returns zero", cycle: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tier.PriceFor(tt.cycle); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
