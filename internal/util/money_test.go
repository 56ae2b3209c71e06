package util

import "testing"

func TestParseCents(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		want     int64
		currency string
	}{
		{name: "dollar sign", input: "$5.99", want: 599, currency: "USD"},
		{name: "thousands comma", input: "$1,042.50", want: 104250, currency: "USD"},
		{name: "no decimals", input: "Order Total: $30", want: 3000, currency: "USD"},
		{name: "one decimal", input: "12.5", want: 1250, currency: ""},
		{name: "currency code", input: "12.99 USD", want: 1299, currency: "USD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, currency, ok := ParseCents(tc.input)
			if !ok {
				t.Fatalf("parse failed")
			}
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
			if currency != tc.currency {
				t.Fatalf("currency %q want %q", currency, tc.currency)
			}
		})
	}

	if _, _, ok := ParseCents("no amount here"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestFormatCents(t *testing.T) {
	if got := FormatCents(499); got != "$4.99" {
		t.Fatalf("got %q", got)
	}
	if got := FormatCents(-1050); got != "-$10.50" {
		t.Fatalf("got %q", got)
	}
}
