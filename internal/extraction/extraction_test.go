package extraction_test

import (
	"testing"

	"apflow/internal/extraction"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"$1,234.56", 123456, false},
		{"1234.5", 123450, false},
		{"12", 1200, false},
		{" $99.99 ", 9999, false},
		{"-45.00", -4500, false},
		{"(45.00)", -4500, false},
		{"", 0, true},
		{"n/a", 0, true},
	}
	for _, tc := range cases {
		got, err := extraction.ParseMoney(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMoney(%q): expected error, got %d", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
