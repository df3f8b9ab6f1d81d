package env

import (
	"reflect"
	"testing"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New()
	e.FromPairs([]string{"HOME=/home/u", "PORT=1"})
	e.Set("PORT", "4001")
	e.Set("URL", "http://127.0.0.1:${PORT}")
	got := e.Merge([]string{"MODE=dev", "DATA=${HOME}/w", "=skip", "broken"})
	want := []string{"DATA=/home/u/w", "HOME=/home/u", "MODE=dev", "PORT=4001", "URL=http://127.0.0.1:4001"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
}

func TestFromPairsEmptyDoesNotInheritOS(t *testing.T) {
	t.Setenv("SIDEKEEPER_ENV_TEST", "leak")
	e := New()
	e.FromPairs(nil)
	for _, kv := range e.Merge(nil) {
		if kv == "SIDEKEEPER_ENV_TEST=leak" {
			t.Fatalf("OS environment leaked into isolated base")
		}
	}
}

func TestMergeDefaultsToOS(t *testing.T) {
	t.Setenv("SIDEKEEPER_ENV_TEST", "os")
	found := false
	for _, kv := range New().Merge(nil) {
		if kv == "SIDEKEEPER_ENV_TEST=os" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected OS environment as base")
	}
}

func TestWithSetCopies(t *testing.T) {
	e := New()
	e.Set("A", "1")
	cp := e.WithSet("B", "2")
	if _, ok := e.Var["B"]; ok {
		t.Fatalf("WithSet mutated the receiver")
	}
	if cp.Var["A"] != "1" || cp.Var["B"] != "2" {
		t.Fatalf("unexpected copy: %v", cp.Var)
	}
	e.Unset("A")
	if cp.Var["A"] != "1" {
		t.Fatalf("copy shares state with receiver")
	}
}
