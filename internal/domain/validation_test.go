package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	valid := "0x" + strings.Repeat("aB", 20)

	t.Run("normalizes case", func(t *testing.T) {
		addr, err := ParseAddress(valid)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if string(addr) != strings.ToLower(valid) {
			t.Fatalf("expected lower case address, got %s", addr)
		}
		if err := addr.Validate(); err != nil {
			t.Fatalf("expected parsed address to validate, got %v", err)
		}
	})

	tests := []struct {
		name  string
		input string
	}{
		{name: "missing prefix", input: strings.Repeat("ab", 20)},
		{name: "too short", input: "0x1234"},
		{name: "not hex", input: "0x" + strings.Repeat("zz", 20)},
		{name: "empty", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAddress(tt.input); !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestAddressValidate(t *testing.T) {
	t.Parallel()

	canonical := "0x" + strings.Repeat("ab", 20)
	if err := Address(canonical).Validate(); err != nil {
		t.Fatalf("expected canonical address to validate, got %v", err)
	}

	for _, input := range []string{
		" " + canonical,
		canonical + "\n",
		"0X" + strings.Repeat("ab", 20),
		"0x" + strings.Repeat("AB", 20),
	} {
		if err := Address(input).Validate(); !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("expected ErrMalformedInput for %q, got %v", input, err)
		}
	}
}

func TestParseOptionalAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseOptionalAddress("  ")
	if err != nil || !addr.IsZero() {
		t.Fatalf("expected zero address, got %q err=%v", addr, err)
	}

	if _, err := ParseOptionalAddress("0xnope"); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	if id, err := ParseID("42"); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d err=%v", id, err)
	}

	for _, input := range []string{"0", "-1", "abc", "18446744073709551616"} {
		if _, err := ParseID(input); !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("expected ErrMalformedInput for %q, got %v", input, err)
		}
	}
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	if side, err := ParseSide("BUY"); err != nil || side != SideBuy {
		t.Fatalf("expected buy, got %q err=%v", side, err)
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("unexpected opposite sides")
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestValidateText(t *testing.T) {
	t.Parallel()

	if err := ValidateText("memo", "hello", MaxMemoLength); err != nil {
		t.Fatalf("expected valid memo, got %v", err)
	}
	if err := ValidateText("memo", strings.Repeat("x", MaxMemoLength+1), MaxMemoLength); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if err := ValidateText("memo", "caf\u00e9", MaxMemoLength); err != nil {
		t.Fatalf("expected multi-byte memo to validate, got %v", err)
	}
	if err := ValidateText("memo", "bad \xff byte", MaxMemoLength); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for invalid UTF-8, got %v", err)
	}
}

func TestWriterIDValidate(t *testing.T) {
	t.Parallel()

	if err := WriterID("exchange/v2").Validate(); err != nil {
		t.Fatalf("expected valid writer, got %v", err)
	}
	if err := WriterID("").Validate(); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for empty writer, got %v", err)
	}
	if err := WriterID("exchange v2").Validate(); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for spaced writer, got %v", err)
	}
}

func TestNewPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit, offset int
		want          Page
	}{
		{0, -5, Page{Limit: DefaultPageSize}},
		{5000, 0, Page{Limit: MaxPageSize}},
		{20, 40, Page{Limit: 20, Offset: 40}},
	}
	for _, tt := range tests {
		if got := NewPage(tt.limit, tt.offset); got != tt.want {
			t.Fatalf("NewPage(%d, %d) = %+v, want %+v", tt.limit, tt.offset, got, tt.want)
		}
	}
}
