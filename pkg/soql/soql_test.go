package soql

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// ExtractFields
// ---------------------------------------------------------------------------

func TestExtractFields(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"bracketed", "[SELECT Id, Name, Phone FROM Account]", []string{"Id", "Name", "Phone"}},
		{"mixed case", "select Id, name from Account where Name != null", []string{"Id", "name"}},
		{"no spaces after commas", "SELECT Id,Name,Phone FROM Account", []string{"Id", "Name", "Phone"}},
		{"newlines", "[SELECT\n\tId,\n\tName\nFROM\n\tAccount]", []string{"Id", "Name"}},
		{"relationship path", "SELECT Id, Account.Owner.Name FROM Contact", []string{"Id", "Account.Owner.Name"}},
		{"namespaced", "SELECT ns__Amount__c, ns__Parent__r.Name FROM ns__Deal__c", []string{"ns__Amount__c", "ns__Parent__r.Name"}},
		{"aggregates", "SELECT COUNT(Id), MAX(Amount), MIN(CloseDate) FROM Opportunity", []string{"COUNT(Id)", "MAX(Amount)", "MIN(CloseDate)"}},
		{"AS alias", "SELECT COUNT(Id) AS total, StageName FROM Opportunity GROUP BY StageName", []string{"COUNT(Id)", "StageName"}},
		{"bare alias", "SELECT SUM(Amount) amt FROM Opportunity", []string{"SUM(Amount)"}},
		{"function with commas", "SELECT FORMAT(convertCurrency(Amount)), Id FROM Opportunity", []string{"FORMAT(convertCurrency(Amount))", "Id"}},
		{"subquery stays whole", "[SELECT Id, (SELECT FirstName, LastName FROM Contacts) FROM Account]", []string{"Id", "(SELECT FirstName, LastName FROM Contacts)"}},
		{"typeof keeps END", "SELECT TYPEOF What WHEN Account THEN Phone END FROM Event", []string{"TYPEOF What WHEN Account THEN Phone END"}},
		{"count marker", "SELECT COUNT() FROM Contact", []string{"COUNT()"}},
		{"not a query", "Account a = new Account();", nil},
		{"missing from", "SELECT Id, Name", nil},
		{"missing object", "SELECT Id FROM", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFields(tt.query)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractFields(%q) = %q; want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestExtractFieldsWhitespaceInsensitive(t *testing.T) {
	queries := []string{
		"[SELECT Id, Name, Phone FROM Account]",
		"SELECT COUNT(Id) AS total, MAX(Amount) FROM Opportunity",
		"SELECT Id, (SELECT Subject FROM Tasks) FROM Contact LIMIT 5",
		"SELECT Account.Owner.Name, ns__Field__c FROM Contact",
	}
	spread := func(s string, n int) string {
		var b strings.Builder
		for _, r := range s {
			b.WriteRune(r)
			if r == ' ' {
				b.WriteString(strings.Repeat(" ", n-1))
			}
		}
		return b.String()
	}
	for _, q := range queries {
		want := ExtractFields(q)
		for _, n := range []int{2, 3} {
			if got := ExtractFields(spread(q, n)); !reflect.DeepEqual(got, want) {
				t.Errorf("ExtractFields with x%d whitespace = %q; want %q", n, got, want)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// HasNestedQueries
// ---------------------------------------------------------------------------

func TestHasNestedQueries(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT Id FROM Account", false},
		{"[SELECT Id, (SELECT FirstName FROM Contacts) FROM Account]", true},
		{"select Id, (select Id from Cases) from Contact", true},
		{"SELECT Id FROM Contact WHERE AccountId IN (SELECT Id FROM Account)", true},
		{"SELECT Id FROM Account WHERE Name = 'SELECT x FROM y'", false},
		{"SELECT Id", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasNestedQueries(tt.query); got != tt.want {
			t.Errorf("HasNestedQueries(%q) = %v; want %v", tt.query, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// RemoveUnusedFields
// ---------------------------------------------------------------------------

func TestRemoveUnusedFields(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		remove []string
		known  []string
		want   string
	}{
		{
			name:   "drops field and keeps clauses",
			query:  "[SELECT Id, Name, Phone FROM Account WHERE Name != null ORDER BY Name LIMIT 10]",
			remove: []string{"Phone"},
			want:   "[SELECT Id, Name FROM Account WHERE Name != null ORDER BY Name LIMIT 10]",
		},
		{
			name:   "case insensitive",
			query:  "SELECT Id, Name, Phone FROM Account",
			remove: []string{"phone", "NAME"},
			want:   "SELECT Id FROM Account",
		},
		{
			name:   "modifiers copied verbatim",
			query:  "SELECT Id, Name FROM Account WITH SECURITY_ENFORCED FOR UPDATE",
			remove: []string{"Name"},
			want:   "SELECT Id FROM Account WITH SECURITY_ENFORCED FOR UPDATE",
		},
		{
			name:   "known fields restrict removal",
			query:  "SELECT Id, Name, Phone FROM Account",
			remove: []string{"Name", "Phone"},
			known:  []string{"Id", "Name"},
			want:   "SELECT Id, Phone FROM Account",
		},
		{
			name:   "aliased aggregate matched by expression",
			query:  "SELECT StageName, COUNT(Id) total FROM Opportunity GROUP BY StageName",
			remove: []string{"count(id)"},
			want:   "SELECT StageName FROM Opportunity GROUP BY StageName",
		},
		{
			name:   "nested query fails",
			query:  "[SELECT Id, Name, (SELECT FirstName FROM Contacts) FROM Account]",
			remove: []string{"Name"},
			known:  []string{"Id", "Name"},
			want:   "",
		},
		{
			name:   "empty result fails",
			query:  "SELECT Id FROM Account",
			remove: []string{"Id"},
			want:   "",
		},
		{
			name:   "bad shape fails",
			query:  "UPDATE Account",
			remove: []string{"Id"},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemoveUnusedFields(tt.query, tt.remove, tt.known); got != tt.want {
				t.Errorf("RemoveUnusedFields = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveUnusedFieldsIdentityWhenNothingRemoved(t *testing.T) {
	q := "[SELECT Id,  Name FROM Account WHERE Name LIKE 'A%' LIMIT 5]"
	got := RemoveUnusedFields(q, nil, nil)
	if got != q {
		t.Errorf("RemoveUnusedFields(q, nil) = %q; want input unchanged", got)
	}
	if !reflect.DeepEqual(ExtractFields(got), ExtractFields(q)) {
		t.Error("field list changed")
	}
}

func TestRemoveUnusedFieldsNestedAlwaysFails(t *testing.T) {
	nested := []string{
		"SELECT Id, (SELECT Id FROM Contacts) FROM Account",
		"SELECT Id, Name FROM Contact WHERE AccountId IN (SELECT Id FROM Account)",
	}
	for _, q := range nested {
		if !HasNestedQueries(q) {
			t.Fatalf("HasNestedQueries(%q) = false", q)
		}
		for _, remove := range [][]string{{"Name"}, {"Id"}, {"Unknown"}} {
			if got := RemoveUnusedFields(q, remove, nil); got != "" {
				t.Errorf("RemoveUnusedFields(%q, %v) = %q; want empty", q, remove, got)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// ExcludeSystemFields
// ---------------------------------------------------------------------------

func TestExcludeSystemFields(t *testing.T) {
	set := map[string]struct{}{
		"Id": {}, "ID": {}, "Name": {}, "COUNT()": {}, "count( )": {}, "COUNT(Id)": {},
	}
	got := ExcludeSystemFields(set)

	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(set).Pointer() {
		t.Error("ExcludeSystemFields must return the same map")
	}
	want := map[string]struct{}{"Name": {}, "COUNT(Id)": {}}
	if !reflect.DeepEqual(set, want) {
		t.Errorf("set = %v; want %v", set, want)
	}
}

// ---------------------------------------------------------------------------
// Shape helpers
// ---------------------------------------------------------------------------

func TestIsValidSOQL(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT Id FROM Account", true},
		{"select id from account", true},
		{"FROM Account SELECT Id", false},
		{"SELECT Id", false},
		{"Selected FROM x", false},
	}
	for _, tt := range tests {
		if got := IsValidSOQL(tt.query); got != tt.want {
			t.Errorf("IsValidSOQL(%q) = %v; want %v", tt.query, got, tt.want)
		}
	}
}

func TestExtractObjectName(t *testing.T) {
	tests := []struct {
		query  string
		want   string
		wantOK bool
	}{
		{"[SELECT Id FROM Account WHERE Name = 'x']", "Account", true},
		{"select id from ns__Deal__c", "ns__Deal__c", true},
		// first FROM wins, which is the subquery's object
		{"SELECT Id, (SELECT Id FROM Contacts) FROM Account", "Contacts", true},
		{"SELECT Id", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractObjectName(tt.query)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ExtractObjectName(%q) = %q, %v; want %q, %v", tt.query, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestClauses(t *testing.T) {
	q := "SELECT Id, (SELECT Id FROM Contacts WHERE Email != null LIMIT 1) FROM Account ORDER BY Name"
	c := Clauses(q)
	if c.Where || c.Limit {
		t.Errorf("subquery clauses leaked to the outer query: %+v", c)
	}
	if !c.OrderBy {
		t.Error("OrderBy = false; want true")
	}

	if !HasWhereClause("[SELECT Id FROM Account WHERE Name != null LIMIT 10]") {
		t.Error("HasWhereClause = false; want true")
	}
	if !HasLimitClause("[select Id from Account limit 10]") {
		t.Error("HasLimitClause = false; want true")
	}
	if HasWhereClause("SELECT Id FROM Account WHERE_c__x") {
		t.Error("identifier prefix should not count as WHERE")
	}
	if HasWhereClause("SELECT Id FROM Account") || HasLimitClause("SELECT Id FROM Account") {
		t.Error("no clauses expected")
	}

	all := Clauses("SELECT StageName, COUNT(Id) FROM Opportunity WHERE Amount > 0 GROUP BY StageName HAVING COUNT(Id) > 1 LIMIT 5 OFFSET 5")
	if !all.Where || !all.GroupBy || !all.Having || !all.Limit || !all.Offset {
		t.Errorf("Clauses = %+v", all)
	}
}

// ---------------------------------------------------------------------------
// FormatQueryForDisplay
// ---------------------------------------------------------------------------

func TestFormatQueryForDisplay(t *testing.T) {
	q := "SELECT Id, Name, Phone FROM Account WHERE Name != null"

	got := FormatQueryForDisplay(q, 30)
	if utf8.RuneCountInString(got) != 30 {
		t.Errorf("len = %d; want 30 (%q)", utf8.RuneCountInString(got), got)
	}
	if !strings.HasSuffix(got, Ellipsis) || !strings.HasPrefix(got, "SELECT Id, Name") {
		t.Errorf("FormatQueryForDisplay = %q", got)
	}

	if got := FormatQueryForDisplay("  SELECT\n\tId\n  FROM   Account ", DefaultDisplayLength); got != "SELECT Id FROM Account" {
		t.Errorf("short query = %q", got)
	}

	long := strings.Repeat("a", 10) + strings.Repeat("b", 30) + strings.Repeat("c", 10)
	if got := FormatQueryForDisplay(long, 10); got != "aaaaaaaaaa...cccccccccc" {
		t.Errorf("head+tail = %q", got)
	}

	if got := FormatQueryForDisplay("abcdef", 2); got != Ellipsis {
		t.Errorf("tiny maxLength = %q; want %q", got, Ellipsis)
	}
}

func TestFormatQueryForDisplayHeadTailBoundary(t *testing.T) {
	const maxLength = 10
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "exactly twice maxLength is cut",
			in:   "abcdefghij" + "klmnopqrst",
			want: "abcdefg...",
		},
		{
			name: "one past twice maxLength keeps head and tail",
			in:   "abcdefghij" + "klmnopqrst" + "u",
			want: "abcdefghij...lmnopqrstu",
		},
		{
			name: "runes not bytes",
			in:   strings.Repeat("ä", 2*maxLength),
			want: strings.Repeat("ä", maxLength-3) + Ellipsis,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatQueryForDisplay(tt.in, maxLength); got != tt.want {
				t.Errorf("FormatQueryForDisplay(%q, %d) = %q; want %q", tt.in, maxLength, got, tt.want)
			}
		})
	}
}

func TestFormatQueryForDisplayBound(t *testing.T) {
	inputs := []string{
		"",
		"SELECT Id FROM Account",
		strings.Repeat("SELECT Name, ", 40) + "Id FROM Account",
		"SELECT Näme, Ünit FROM Ärea WHERE Größe > 1",
	}
	for _, in := range inputs {
		norm := strings.Join(strings.Fields(in), " ")
		for n := 3; n <= 60; n++ {
			got := FormatQueryForDisplay(in, n)
			if l := utf8.RuneCountInString(got); l > 2*n+3 {
				t.Fatalf("FormatQueryForDisplay(_, %d) length %d > %d", n, l, 2*n+3)
			}
			if utf8.RuneCountInString(norm) <= n && got != norm {
				t.Fatalf("FormatQueryForDisplay(_, %d) = %q; want %q", n, got, norm)
			}
		}
	}
}
