package vault

import (
	"reflect"
	"testing"
)

func TestLookupFieldCategories(t *testing.T) {
	cases := []struct {
		name string
		want FieldCategory
	}{
		{"fullname", CategoryIdentity},
		{"email", CategoryIdentity},
		{"phone", CategoryIdentity},
		{"passport", CategoryDocument},
		{"nin_front", CategoryDocument},
		{"bvn", CategoryPersonal},
		{"dob", CategoryPersonal},
	}
	for _, tc := range cases {
		f, ok := LookupField(tc.name)
		if !ok {
			t.Errorf("LookupField(%q) not found", tc.name)
			continue
		}
		if f.Category != tc.want {
			t.Errorf("LookupField(%q).Category = %v, want %v", tc.name, f.Category, tc.want)
		}
	}
}

func TestLookupFieldIsCaseSensitive(t *testing.T) {
	for _, name := range []string{"BVN", "Passport", "ssn", ""} {
		if _, ok := LookupField(name); ok {
			t.Errorf("LookupField(%q) succeeded, want miss", name)
		}
	}
}

func TestParseFieldsSeparatesUnknown(t *testing.T) {
	fields, unknown := ParseFields([]string{"email", "ssn", "bvn", "shoe_size"})
	got := make([]string, len(fields))
	for i, f := range fields {
		got[i] = f.Name
	}
	if !reflect.DeepEqual(got, []string{"email", "bvn"}) {
		t.Errorf("fields = %v, want [email bvn]", got)
	}
	if !reflect.DeepEqual(unknown, []string{"ssn", "shoe_size"}) {
		t.Errorf("unknown = %v, want [ssn shoe_size]", unknown)
	}
}

func TestCategoryPredicates(t *testing.T) {
	if !IsDocumentType("driver_license") || IsDocumentType("bvn") || IsDocumentType("nope") {
		t.Error("IsDocumentType misclassified")
	}
	if !IsPersonalField("address") || IsPersonalField("passport") || IsPersonalField("nope") {
		t.Error("IsPersonalField misclassified")
	}
}
