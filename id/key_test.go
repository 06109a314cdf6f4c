package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/finledger/id"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"full width", "0x" + strings.Repeat("ab", 32), "0x" + strings.Repeat("ab", 32), false},
		{"left padded", "0x01", "0x" + strings.Repeat("00", 31) + "01", false},
		{"missing prefix", "01", "", true},
		{"empty", "", "", true},
		{"odd length", "0x123", "", true},
		{"too long", "0x" + strings.Repeat("ff", 33), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := id.ParseKey(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) failed: %v", tt.input, err)
			}
			if k.String() != tt.want {
				t.Errorf("got %s, want %s", k.String(), tt.want)
			}
		})
	}
}

func TestKeyFromString(t *testing.T) {
	k := id.KeyFromString("INV-001")
	if k.IsZero() {
		t.Fatal("expected non-zero key")
	}
	if got := string(k.Bytes()[:7]); got != "INV-001" {
		t.Errorf("expected right-padded bytes, got %q", got)
	}
	if k.Bytes()[31] != 0 {
		t.Error("expected trailing zero padding")
	}

	if _, err := id.KeyFromBytes(make([]byte, 33)); err == nil {
		t.Error("expected error for 33 bytes")
	}
}

func TestKeyJSONAndScan(t *testing.T) {
	k := id.KeyFromString("INV-002")

	data, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded id.Key
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != k {
		t.Errorf("mismatch: %s != %s", decoded, k)
	}

	val, err := k.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.Key
	if err := scanned.Scan([]byte(val.(string))); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned != k {
		t.Errorf("mismatch: %s != %s", scanned, k)
	}
}
