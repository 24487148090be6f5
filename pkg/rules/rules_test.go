package rules

import (
	"errors"
	"testing"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
)

var emptyTree = apex.TreeProviderFunc(func(src string) (*apex.Node, error) {
	return &apex.Node{Kind: apex.KindClass, End: len(src), Line: 1}, nil
})

func TestDefaultRegistersEveryRule(t *testing.T) {
	reg, err := Default(emptyTree, Options{})
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	got := reg.Kinds()
	want := antipattern.Kinds()
	if len(got) != len(want) {
		t.Fatalf("Kinds() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q; want %q", i, got[i], want[i])
		}
	}
	for _, m := range reg.Modules() {
		if !m.HasRecommender() {
			t.Errorf("%s: no recommender", m.Kind())
		}
	}
}

func TestDefaultScanAllReturnsRemediationForCleanFile(t *testing.T) {
	reg, err := Default(emptyTree, Options{})
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	results := reg.ScanAll("Clean", "class Clean {}")
	if len(results) != len(antipattern.Kinds()) {
		t.Fatalf("got %d results; want %d", len(results), len(antipattern.Kinds()))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s: unexpected error %v", r.Kind, r.Err)
		}
		if r.HasFindings() {
			t.Errorf("%s: got findings on an empty tree", r.Kind)
		}
		if r.Recommendation == "" {
			t.Errorf("%s: empty recommendation", r.Kind)
		}
	}
}

func TestDefaultDisabled(t *testing.T) {
	reg, err := Default(emptyTree, Options{
		Disabled: []antipattern.Kind{antipattern.KindSOQLUnusedFields, antipattern.KindDMLInLoop},
	})
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d; want 3", reg.Len())
	}
	if _, ok := reg.Get(antipattern.KindDMLInLoop); ok {
		t.Error("disabled rule dml-in-loop is registered")
	}
}

func TestDefaultErrors(t *testing.T) {
	if _, err := Default(nil, Options{}); err == nil {
		t.Error("Default(nil) succeeded")
	}

	_, err := Default(emptyTree, Options{Disabled: []antipattern.Kind{"soql-in-lopo"}})
	var unknown *UnknownKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v; want *UnknownKindError", err)
	}
	if unknown.Kind != "soql-in-lopo" {
		t.Errorf("Kind = %q; want %q", unknown.Kind, "soql-in-lopo")
	}
}

func TestAllAndDescribe(t *testing.T) {
	all := All()
	if len(all) != len(antipattern.Kinds()) {
		t.Fatalf("All() has %d rules; want %d", len(all), len(antipattern.Kinds()))
	}
	for _, info := range all {
		if info.Title == "" || info.Description == "" || len(info.Severities) == 0 {
			t.Errorf("%s: incomplete info %+v", info.Kind, info)
		}
		got, ok := Describe(info.Kind)
		if !ok || got.Title != info.Title {
			t.Errorf("Describe(%q) = %+v, %v", info.Kind, got, ok)
		}
	}
	if _, ok := Describe("nope"); ok {
		t.Error("Describe(nope) found a rule")
	}
}

func TestParseKinds(t *testing.T) {
	got, err := ParseKinds([]string{"soql-in-loop", "dml-in-loop"})
	if err != nil {
		t.Fatalf("ParseKinds: %v", err)
	}
	if len(got) != 2 || got[0] != antipattern.KindSOQLInLoop || got[1] != antipattern.KindDMLInLoop {
		t.Errorf("ParseKinds = %v", got)
	}
	if _, err := ParseKinds([]string{"bogus"}); err == nil {
		t.Error("ParseKinds(bogus) succeeded")
	}
}
