package catalog

import (
	"regexp"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// Analysis reports normal-form findings for a schema. The checks read
// names, keys and types only; they flag likely problems, not proven ones.
type Analysis struct {
	Tables           int        `json:"tables_count"`
	Relationships    int        `json:"relationships_count"`
	FirstNormalForm  NormalForm `json:"first_normal_form"`
	SecondNormalForm NormalForm `json:"second_normal_form"`
	ThirdNormalForm  NormalForm `json:"third_normal_form"`
	Recommendations  []string   `json:"recommendations"`
}

// NormalForm is the verdict for one normal form.
type NormalForm struct {
	Compliant  bool        `json:"compliant"`
	Violations []Violation `json:"violations"`
}

// Violation is one finding against a table.
type Violation struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns,omitempty"`
	Issue   string   `json:"issue"`
}

const (
	IssueNoPrimaryKey      = "no primary key"
	IssueNonAtomic         = "potential non-atomic values"
	IssueRepeatingGroup    = "repeating group"
	IssuePartialDependency = "partial dependency on composite key"
	IssueTransitive        = "potential transitive dependency"
)

var (
	// name parts that suggest a column packs several values
	nonAtomicWords = map[string]bool{"json": true, "array": true, "list": true, "multi": true, "csv": true}

	numbered = regexp.MustCompile(`^(.*?[a-z])_?([0-9]+)$`)
)

func (nf *NormalForm) add(v Violation) {
	nf.Violations = append(nf.Violations, v)
	nf.Compliant = false
}

// Analyze checks schema against the first three normal forms.
func Analyze(schema *model.Schema) *Analysis {
	a := &Analysis{
		FirstNormalForm:  NormalForm{Compliant: true, Violations: []Violation{}},
		SecondNormalForm: NormalForm{Compliant: true, Violations: []Violation{}},
		ThirdNormalForm:  NormalForm{Compliant: true, Violations: []Violation{}},
		Recommendations:  []string{},
	}
	if schema == nil {
		return a
	}

	missingKey := false
	for _, t := range schema.Tables {
		a.Tables++
		a.Relationships += len(t.ForeignKeys)

		var keys, rest []string
		for _, c := range t.Columns {
			if c.IsPrimaryKey {
				keys = append(keys, c.Name)
			} else {
				rest = append(rest, c.Name)
			}
		}

		// 1NF
		if len(keys) == 0 && !t.SchemaInferred {
			a.FirstNormalForm.add(Violation{Table: t.Name, Issue: IssueNoPrimaryKey})
			missingKey = true
		}
		for _, c := range t.Columns {
			if nonAtomic(c.Name) || nonAtomicType(c.NativeType) {
				a.FirstNormalForm.add(Violation{Table: t.Name, Columns: []string{c.Name}, Issue: IssueNonAtomic})
			}
		}
		for _, group := range repeatingGroups(rest) {
			a.FirstNormalForm.add(Violation{Table: t.Name, Columns: group, Issue: IssueRepeatingGroup})
		}

		// 2NF
		if len(keys) > 1 {
			for _, k := range keys {
				stem, ok := idStem(k)
				if !ok {
					continue
				}
				for _, c := range rest {
					if strings.HasPrefix(strings.ToLower(c), stem+"_") {
						a.SecondNormalForm.add(Violation{Table: t.Name, Columns: []string{k, c}, Issue: IssuePartialDependency})
					}
				}
			}
		}

		// 3NF
		for _, ref := range rest {
			stem, ok := idStem(ref)
			if !ok {
				continue
			}
			for _, c := range rest {
				lc := strings.ToLower(c)
				if c == ref || strings.HasSuffix(lc, "_id") {
					continue
				}
				if strings.HasPrefix(lc, stem+"_") {
					a.ThirdNormalForm.add(Violation{Table: t.Name, Columns: []string{ref, c}, Issue: IssueTransitive})
				}
			}
		}
	}

	if missingKey {
		a.Recommendations = append(a.Recommendations, "Declare a primary key on every table")
	}
	if !a.FirstNormalForm.Compliant {
		a.Recommendations = append(a.Recommendations, "Split non-atomic values into separate columns or tables")
	}
	if !a.SecondNormalForm.Compliant {
		a.Recommendations = append(a.Recommendations, "Move partially dependent columns to separate tables")
	}
	if !a.ThirdNormalForm.Compliant {
		a.Recommendations = append(a.Recommendations, "Remove transitive dependencies by creating lookup tables")
	}
	return a
}

// idStem returns "customer" for "customer_id".
func idStem(name string) (string, bool) {
	lower := strings.ToLower(name)
	stem, ok := strings.CutSuffix(lower, "_id")
	return stem, ok && stem != ""
}

func nonAtomic(name string) bool {
	for _, part := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}) {
		if nonAtomicWords[part] {
			return true
		}
	}
	return false
}

// nonAtomicType reports native types that hold documents or collections.
// Postgres array UDT names start with an underscore.
func nonAtomicType(native string) bool {
	t := strings.ToLower(native)
	switch {
	case t == "":
		return false
	case strings.HasPrefix(t, "_"), strings.HasSuffix(t, "[]"), strings.HasPrefix(t, "set("):
		return true
	}
	for _, kind := range []string{"json", "array", "variant", "object", "document"} {
		if strings.Contains(t, kind) {
			return true
		}
	}
	return false
}

// repeatingGroups finds columns like phone1, phone2 or tag_1, tag_2 that
// share a stem. Groups keep column order.
func repeatingGroups(cols []string) [][]string {
	var order []string
	groups := make(map[string][]string)
	for _, c := range cols {
		m := numbered.FindStringSubmatch(strings.ToLower(c))
		if m == nil {
			continue
		}
		stem := m[1]
		if _, ok := groups[stem]; !ok {
			order = append(order, stem)
		}
		groups[stem] = append(groups[stem], c)
	}
	var out [][]string
	for _, stem := range order {
		if len(groups[stem]) > 1 {
			out = append(out, groups[stem])
		}
	}
	return out
}
