package genapi

import "testing"

func TestEvalFormula(t *testing.T) {
	vars := map[string]float64{"A": 6, "B": 2, "RAW": 0x10}
	lookup := func(name string) (float64, error) {
		return vars[name], nil
	}
	cases := []struct {
		formula string
		want    float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"A / B", 3},
		{"-A + 10", 4},
		{"A % 4", 2},
		{"0x10 + RAW", 32},
		{"A * B - 1", 11},
		{"2.5 * B", 5},
	}
	for _, c := range cases {
		got, err := evalFormula(c.formula, lookup)
		if err != nil {
			t.Fatalf("%s: %v", c.formula, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %v, want %v", c.formula, got, c.want)
		}
	}
}

func TestEvalFormulaErrors(t *testing.T) {
	lookup := func(string) (float64, error) { return 1, nil }
	for _, formula := range []string{"1 +", "(1 + 2", "1 / 0", "@bad", "1 2"} {
		if _, err := evalFormula(formula, lookup); err == nil {
			t.Fatalf("%s: expected error", formula)
		}
	}
}
