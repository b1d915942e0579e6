package policy

import "testing"

func TestRedactPIIEmail(t *testing.T) {
	out, changed := RedactPII("write to jane.doe@example.com please")
	if !changed {
		t.Fatal("expected redaction")
	}
	if out != "write to [REDACTED_EMAIL] please" {
		t.Fatalf("out = %q", out)
	}
}

func TestRedactPIIPhone(t *testing.T) {
	out, changed := RedactPII("call me at +39 333 123 4567 tonight")
	if !changed {
		t.Fatal("expected redaction")
	}
	if out == "call me at +39 333 123 4567 tonight" {
		t.Fatalf("phone not redacted: %q", out)
	}
}

func TestRedactPIICardBeforePhone(t *testing.T) {
	out, _ := RedactPII("card 4111 1111 1111 1111 on file")
	if out != "card [REDACTED_CARD] on file" {
		t.Fatalf("out = %q", out)
	}
}

func TestRedactPIINoMatch(t *testing.T) {
	out, changed := RedactPII("nothing sensitive here")
	if changed || out != "nothing sensitive here" {
		t.Fatalf("out = %q changed = %v", out, changed)
	}
}

func TestNewRedactorDisabled(t *testing.T) {
	if NewRedactor(false) != nil {
		t.Fatal("disabled redactor should be nil")
	}
	r := NewRedactor(true)
	if r == nil {
		t.Fatal("enabled redactor should not be nil")
	}
	if got := r("mail me: a@b.io"); got != "mail me: [REDACTED_EMAIL]" {
		t.Fatalf("redactor output = %q", got)
	}
}
