package cookieset

import "testing"

func TestMatchesBareDomain(t *testing.T) {
	c := State{Name: "a", Value: "1", Domain: ".example.com"}
	if !Matches(c, "https://www.example.com/path") {
		t.Error("expected subdomain to match leading-dot domain")
	}
	if Matches(c, "https://other.com/") {
		t.Error("expected non-matching host to be rejected")
	}
}

func TestMatchesNoDomainMatchesEverything(t *testing.T) {
	c := State{Name: "a", Value: "1"}
	if !Matches(c, "https://anything.example/") {
		t.Error("expected cookie with no domain to match everything")
	}
}

func TestFilterDefaultsDomainToHost(t *testing.T) {
	cookies := []State{
		{Name: "a", Value: "1", Domain: ""},
		{Name: "b", Value: "2", Domain: "other.com"},
	}
	filtered := Filter(cookies, "https://example.com/")
	if len(filtered) != 1 || filtered[0].Name != "a" {
		t.Errorf("expected only domain-less cookie to survive, got %+v", filtered)
	}
}

func TestMergeReplacesByKeyPreservingOthers(t *testing.T) {
	existing := []State{
		{Name: "session", Value: "old", Domain: "example.com", Path: "/"},
		{Name: "theme", Value: "dark", Domain: "example.com", Path: "/"},
	}
	updates := []State{
		{Name: "session", Value: "new", Domain: "example.com", Path: "/"},
	}
	merged := Merge(existing, updates)
	if len(merged) != 2 {
		t.Fatalf("expected 2 cookies after merge, got %d", len(merged))
	}
	byName := map[string]State{}
	for _, c := range merged {
		byName[c.Name] = c
	}
	if byName["session"].Value != "new" {
		t.Errorf("expected session cookie updated to 'new', got %q", byName["session"].Value)
	}
	if byName["theme"].Value != "dark" {
		t.Errorf("expected theme cookie preserved, got %q", byName["theme"].Value)
	}
}

func TestToProtocolParamUsesURLWhenDomainAbsent(t *testing.T) {
	c := State{Name: "a", Value: "1"}
	param := ToProtocolParam(c, "https://example.com/")
	if param.URL != "https://example.com/" {
		t.Errorf("expected url fallback for domain-less cookie, got %q", param.URL)
	}
	if param.Path != "/" {
		t.Errorf("expected default path '/', got %q", param.Path)
	}
}

func TestToRequestJarDefaultsPath(t *testing.T) {
	jar := ToRequestJar([]State{{Name: "a", Value: "1"}})
	if len(jar) != 1 || jar[0].Path != "/" {
		t.Errorf("expected default path '/', got %+v", jar)
	}
}
