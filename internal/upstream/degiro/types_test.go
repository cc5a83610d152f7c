package degiro

import (
	"testing"

	"github.com/sebmertens/broker-gateway/internal/entity"
)

func TestSubtypeFromID(t *testing.T) {
	cases := []struct {
		id   int
		want entity.Subtype
	}{
		{1, entity.SubtypeOptionLike},
		{2, entity.SubtypeKnockout},
		{3, entity.SubtypeUnlimitedFactor},
		{0, entity.SubtypeAll},
		{99, entity.SubtypeAll},
	}

	for _, tc := range cases {
		if got := subtypeFromID(tc.id); got != tc.want {
			t.Errorf("subtypeFromID(%d) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestDirectionFromShortLong(t *testing.T) {
	if direction, ok := directionFromShortLong(" l "); !ok || direction != entity.DirectionLong {
		t.Errorf("expected LONG, got %s ok=%v", direction, ok)
	}
	if direction, ok := directionFromShortLong("S"); !ok || direction != entity.DirectionShort {
		t.Errorf("expected SHORT, got %s ok=%v", direction, ok)
	}
	if _, ok := directionFromShortLong("X"); ok {
		t.Error("unknown marker must not map to a direction")
	}
}

func TestProductRowToLeveraged(t *testing.T) {
	row := productRow{
		ID:           " 123 ",
		Name:         "BNP Turbo Long",
		ISIN:         "de000aa1bb22",
		Symbol:       "tl5",
		Tradable:     true,
		Leverage:     5.2,
		ShortLong:    "L",
		IssuerName:   "BNP Paribas",
		SubtypeID:    2,
		Underlying:   "456",
		ExpirationAt: "2027-03-19",
	}

	leveraged, ok := row.toLeveraged()
	if !ok {
		t.Fatal("expected a mappable row")
	}
	if leveraged.ID != "123" || leveraged.ISIN != "DE000AA1BB22" || leveraged.Symbol != "TL5" {
		t.Errorf("identifier normalization failed: %+v", leveraged.Instrument)
	}
	if leveraged.Direction != entity.DirectionLong || leveraged.Subtype != entity.SubtypeKnockout {
		t.Errorf("structured field mapping failed: %+v", leveraged)
	}
	if leveraged.UnderlyingID != "456" {
		t.Errorf("expected underlying 456, got %s", leveraged.UnderlyingID)
	}
	if leveraged.Expiration.IsZero() {
		t.Error("expected a parsed expiration")
	}

	// missing shortlong marker means the row cannot be classified
	row.ShortLong = ""
	if _, ok := row.toLeveraged(); ok {
		t.Error("row without a direction marker must be rejected")
	}
}

func TestProductRowOpenEndedExpiration(t *testing.T) {
	row := productRow{ID: "1", ShortLong: "S", ExpirationAt: ""}

	leveraged, ok := row.toLeveraged()
	if !ok {
		t.Fatal("expected a mappable row")
	}
	if !leveraged.Expiration.IsZero() {
		t.Error("open-ended product must have a zero expiration")
	}
}
