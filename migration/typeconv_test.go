package migration

import "testing"

func TestConversionRuleTextToBoundedStringRequiresScan(t *testing.T) {
	rule := ConversionRule(Paragraph, ShortAnswer)
	if !rule.allowed || !rule.requiresScan {
		t.Fatalf("expected paragraph->short_answer to be allowed with a scan, got %+v", rule)
	}
	if !rule.validate("short value") {
		t.Error("expected a short value to pass validation")
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if rule.validate(string(long)) {
		t.Error("expected a 300-byte value to fail a 255-width validation")
	}
}

func TestConversionRuleShortAnswerToNumberValidatesDecimal(t *testing.T) {
	rule := ConversionRule(ShortAnswer, Number)
	if !rule.allowed || !rule.requiresScan {
		t.Fatalf("expected short_answer->number to require a scan, got %+v", rule)
	}
	if !rule.validate("42.5") || !rule.validate("-3") {
		t.Error("expected decimal strings to validate")
	}
	if rule.validate("not a number") {
		t.Error("expected non-numeric text to fail")
	}
}

func TestConversionRuleShortAnswerToDateValidatesFormat(t *testing.T) {
	rule := ConversionRule(ShortAnswer, Date)
	if !rule.allowed || !rule.requiresScan {
		t.Fatalf("expected short_answer->date to require a scan, got %+v", rule)
	}
	if !rule.validate("2026-07-31") {
		t.Error("expected a well-formed date to validate")
	}
	if rule.validate("31/07/2026") {
		t.Error("expected a non-ISO date to fail")
	}
}

func TestConversionRuleRatingSliderIsTriviallySafe(t *testing.T) {
	rule := ConversionRule(Rating, Slider)
	if !rule.allowed || rule.requiresScan {
		t.Fatalf("expected rating->slider to be allowed without a scan, got %+v", rule)
	}
}

func TestConversionRuleUnlistedPairIsRejected(t *testing.T) {
	rule := ConversionRule(Number, Date)
	if rule.allowed {
		t.Error("expected number->date to be rejected as an unlisted conversion")
	}
}

func TestConversionRuleSameTypeIsAlwaysAllowed(t *testing.T) {
	rule := ConversionRule(Email, Email)
	if !rule.allowed || rule.requiresScan {
		t.Fatalf("expected identical types to be trivially allowed, got %+v", rule)
	}
}

func TestConversionRuleBoundedStringNarrowingRequiresScan(t *testing.T) {
	rule := ConversionRule(URL, Phone)
	if !rule.allowed || !rule.requiresScan {
		t.Fatalf("expected narrowing bounded-string conversion to require a scan, got %+v", rule)
	}
	if !rule.validate("12345") {
		t.Error("expected a short value to pass the narrower width")
	}
}

func TestConversionRuleNumberToShortAnswerIsSafeNoScan(t *testing.T) {
	rule := ConversionRule(Number, ShortAnswer)
	if !rule.allowed || rule.requiresScan {
		t.Fatalf("expected number->short_answer to be allowed without a scan, got %+v", rule)
	}
}

func TestConversionRuleDateToShortAnswerIsSafeNoScan(t *testing.T) {
	rule := ConversionRule(Date, ShortAnswer)
	if !rule.allowed || rule.requiresScan {
		t.Fatalf("expected date->short_answer to be allowed without a scan, got %+v", rule)
	}
}

func TestConversionRuleDateTimeToShortAnswerIsSafeNoScan(t *testing.T) {
	rule := ConversionRule(DateTime, ShortAnswer)
	if !rule.allowed || rule.requiresScan {
		t.Fatalf("expected datetime->short_answer to be allowed without a scan, got %+v", rule)
	}
}
