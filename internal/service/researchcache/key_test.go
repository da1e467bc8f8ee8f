package researchcache

import (
	"strings"
	"testing"
)

type keyInput struct {
	Company  string   `json:"company"`
	Location string   `json:"location"`
	Keywords []string `json:"keywords,omitempty"`
	Max      int      `json:"max"`
}

func TestKey_Stable(t *testing.T) {
	in := keyInput{Company: "Acme", Location: "Berlin", Keywords: []string{"CEO"}, Max: 25}
	k1, err := Key(NamespacePeople, in)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	k2, err := Key(NamespacePeople, in)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("same input produced different keys: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, "process_company:") {
		t.Fatalf("missing namespace prefix: %s", k1)
	}
	// prefix + 64 hex chars
	if len(k1) != len(NamespacePeople)+64 {
		t.Fatalf("unexpected key length: %d", len(k1))
	}
}

func TestKey_MapOrderIndependent(t *testing.T) {
	a := map[string]any{"company": "Acme", "location": "Berlin", "max": 25}
	b := map[string]any{"max": 25, "location": "Berlin", "company": "Acme"}
	ka, err := Key(NamespaceCompany, a)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	kb, err := Key(NamespaceCompany, b)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if ka != kb {
		t.Fatalf("map iteration order leaked into the key")
	}
}

func TestKey_NamespacesDisjoint(t *testing.T) {
	in := keyInput{Company: "Acme"}
	kp, _ := Key(NamespacePeople, in)
	kc, _ := Key(NamespaceCompany, in)
	if kp == kc {
		t.Fatalf("namespaces must not collide")
	}
	if kp[len(NamespacePeople):] != kc[len(NamespaceCompany):] {
		t.Fatalf("same input should share the hash across namespaces")
	}
}

func TestKey_DistinctInputs(t *testing.T) {
	k1, _ := Key(NamespacePeople, keyInput{Company: "Acme", Max: 25})
	k2, _ := Key(NamespacePeople, keyInput{Company: "Acme", Max: 26})
	if k1 == k2 {
		t.Fatalf("different inputs hashed identically")
	}
}

func TestCanonicalJSON_SortsNestedKeys(t *testing.T) {
	doc := map[string]any{
		"b": map[string]any{"z": 1, "a": 2},
		"a": []any{map[string]any{"y": true, "x": false}},
	}
	got, err := canonicalJSON(doc)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"a":[{"x":false,"y":true}],"b":{"a":2,"z":1}}`
	if string(got) != want {
		t.Fatalf("canonical form mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestCanonicalJSON_IntegersKeepShape(t *testing.T) {
	got, err := canonicalJSON(map[string]any{"n": 12345678901234})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(got) != `{"n":12345678901234}` {
		t.Fatalf("large integer mangled: %s", got)
	}
}
