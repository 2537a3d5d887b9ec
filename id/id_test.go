package id_test

import (
	"encoding/json"
	"testing"

	"github.com/courierhq/courier/id"
)

func TestNew_GeneratesPrefixedID(t *testing.T) {
	jobID := id.NewJobID()
	if jobID.IsNil() {
		t.Fatal("NewJobID returned nil ID")
	}
	if jobID.Prefix() != id.PrefixJob {
		t.Errorf("Prefix() = %q, want %q", jobID.Prefix(), id.PrefixJob)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewDeliveryID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParse_EmptyString(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("Parse(\"\") should fail")
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	subID := id.NewSubscriptionID()
	if _, err := id.ParseJobID(subID.String()); err == nil {
		t.Errorf("ParseJobID(%q) should reject subscription prefix", subID.String())
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	orig := id.NewJobID()

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("json round trip = %q, want %q", decoded.String(), orig.String())
	}
}

func TestID_ScanAndValue(t *testing.T) {
	orig := id.NewSubscriptionID()

	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("sql round trip = %q, want %q", scanned.String(), orig.String())
	}

	var nilID id.ID
	if err := nilID.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !nilID.IsNil() {
		t.Error("Scan(nil) should produce the Nil ID")
	}
}
