package episodic

import (
	"strings"
	"testing"

	"tandem/pkg/errmodel"
)

func TestValidQueryPasses(t *testing.T) {
	for _, q := range []string{
		"SELECT goal, outcome FROM episodes WHERE goal LIKE '%deploy%'",
		"select summary from episodes order by started_at desc limit 5;",
		"SELECT COUNT(*) FROM episodes",
	} {
		if err := ValidateQuery(q); err != nil {
			t.Fatalf("%q rejected: %v", q, err)
		}
	}
}

func TestMutatingKeywordNamedInRejection(t *testing.T) {
	err := ValidateQuery("SELECT * FROM episodes; DROP TABLE episodes")
	if err == nil {
		t.Fatal("expected rejection")
	}
	// the semicolon trips first; a single statement with the keyword names it
	err = ValidateQuery("SELECT * FROM episodes WHERE id IN (DELETE FROM episodes)")
	ce := errmodel.From(err)
	if ce == nil || ce.Code != "denied_keyword" {
		t.Fatalf("err=%v", err)
	}
	if kw, _ := ce.Context["keyword"].(string); kw != "delete" {
		t.Fatalf("keyword=%v", ce.Context)
	}
}

func TestRejectionsByShape(t *testing.T) {
	cases := map[string]string{
		"":                                       "empty_query",
		"SELECT 1; SELECT 2":                     "multi_statement",
		"UPDATE episodes SET goal='x'":           "not_select",
		"SELECT * FROM users":                    "denied_table",
		"SELECT * FROM episodes JOIN world ON 1": "denied_table",
		"SELECT * FROM episodes WHERE goal LIKE 'pragma%' AND pragma_check(1)": "denied_keyword",
	}
	for q, code := range cases {
		err := ValidateQuery(q)
		if err == nil {
			t.Fatalf("%q accepted", q)
		}
		if got := errmodel.From(err).Code; got != code {
			t.Fatalf("%q: code=%s want %s", q, got, code)
		}
	}
}

func TestKeywordMatchIsWordBounded(t *testing.T) {
	// "created_at"-style substrings must not trip the "create" rule
	q := "SELECT goal FROM episodes WHERE summary LIKE '%updated the dropdown%'"
	if err := ValidateQuery(q); err != nil {
		t.Fatalf("substring false positive: %v", err)
	}
	if !strings.Contains(q, "updated") {
		t.Fatal("test string changed")
	}
}
