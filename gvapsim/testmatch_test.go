package gvapsim

import (
	"testing"
)

func TestMatch(t *testing.T) {
	tm, err := parseTestPattern(`locked\/flags/bindings`)
	if err != nil {
		t.Fatal(err)
	}

	if !tm.match("network 7: locked/flags", "bindings/gasPrice") {
		t.Fatal("expected match")
	}
	if !tm.match("network 7: LOCKED/FLAGS", "Bindings/Mining") {
		t.Fatal("expected match")
	}
	if tm.match("network 10101: locked/persistent/flags", "") {
		t.Fatal("expected no match")
	}
	if tm.match("network 7: locked/flags", "listening") {
		t.Fatal("expected no match")
	}
}

func TestMatchEmpty(t *testing.T) {
	tm, err := parseTestPattern("")
	if err != nil {
		t.Fatal(err)
	}
	if !tm.match("network 7: locked", "version") {
		t.Fatal("empty pattern should match everything")
	}
}

func TestMatchScenarioOnly(t *testing.T) {
	tm, err := parseTestPattern("network 10101")
	if err != nil {
		t.Fatal(err)
	}
	if !tm.match("network 10101: unlocked", "bindings/sha3") {
		t.Fatal("expected match")
	}
	if tm.match("network 7: unlocked", "") {
		t.Fatal("expected no match")
	}
}
