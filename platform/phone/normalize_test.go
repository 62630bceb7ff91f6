package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare national mobile", input: "3331234567", want: "+393331234567"},
		{name: "spoken with spaces", input: "333 123 45 67", want: "+393331234567"},
		{name: "already international", input: "+39 333 1234567", want: "+393331234567"},
		{name: "double zero prefix", input: "0039 333 1234567", want: "+393331234567"},
		{name: "bare country code", input: "393331234567", want: "+393331234567"},
		{name: "punctuation dropped", input: "(333) 123-4567", want: "+393331234567"},
		{name: "empty", input: "   ", want: ""},
		{name: "too short stays digits", input: "12345", want: "12345"},
		{name: "inner plus dropped", input: "33+31234567", want: "+393331234567"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input, "IT"); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"3331234567",
		"+393331234567",
		"0039 02 1234 5678",
		"0212345678",
		"39123",
		"0",
		"00",
		"+",
		"uno due tre",
		"12345",
		"+1 (415) 555-2671",
		"391",
	}

	for _, input := range inputs {
		once := Normalize(input, "IT")
		twice := Normalize(once, "IT")
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}

func TestNormalizeDefaultsRegion(t *testing.T) {
	if got := Normalize("3331234567", ""); got != "+393331234567" {
		t.Fatalf("expected default region IT, got %q", got)
	}
}

func TestIsPlausible(t *testing.T) {
	if !IsPlausible("+393331234567") {
		t.Fatal("expected mobile number to be plausible")
	}
	if IsPlausible("+3912345") {
		t.Fatal("expected 7-digit number to be rejected")
	}
	if DigitCount("+39 333-12") != 7 {
		t.Fatalf("DigitCount = %d, want 7", DigitCount("+39 333-12"))
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"+393331234567": "+39 *** 67",
		"3331234567":    "33 *** 67",
		"+123456":       "+1 *** 6",
		"12345":         "******",
		"":              "******",
	}
	for input, want := range cases {
		if got := Mask(input); got != want {
			t.Fatalf("Mask(%q) = %q, want %q", input, got, want)
		}
	}
}
