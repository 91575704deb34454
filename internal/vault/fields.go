package vault

// FieldCategory classifies a requestable field.
type FieldCategory int

const (
	// CategoryIdentity fields live on the User record, unencrypted.
	CategoryIdentity FieldCategory = iota
	// CategoryDocument fields are blob locators in VaultRecord.Documents.
	CategoryDocument
	// CategoryPersonal fields are string envelopes in
	// VaultRecord.PersonalData.
	CategoryPersonal
)

// Field is a validated member of the closed request vocabulary.
type Field struct {
	Name     string
	Category FieldCategory
}

var fieldVocabulary = map[string]FieldCategory{
	"fullname": CategoryIdentity,
	"email":    CategoryIdentity,
	"phone":    CategoryIdentity,

	"nin_front":      CategoryDocument,
	"nin_back":       CategoryDocument,
	"passport":       CategoryDocument,
	"driver_license": CategoryDocument,
	"utility_bill":   CategoryDocument,

	"bvn":     CategoryPersonal,
	"nin":     CategoryPersonal,
	"dob":     CategoryPersonal,
	"address": CategoryPersonal,
}

// LookupField resolves a raw field name against the vocabulary.
func LookupField(name string) (Field, bool) {
	cat, ok := fieldVocabulary[name]
	if !ok {
		return Field{}, false
	}
	return Field{Name: name, Category: cat}, true
}

// ParseFields validates raw names against the vocabulary and returns
// the typed form, preserving order. Duplicates are allowed. The second
// return value lists the names that failed validation.
func ParseFields(names []string) ([]Field, []string) {
	fields := make([]Field, 0, len(names))
	var unknown []string
	for _, n := range names {
		f, ok := LookupField(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		fields = append(fields, f)
	}
	return fields, unknown
}

// IsDocumentType reports whether name is a known document type.
func IsDocumentType(name string) bool {
	cat, ok := fieldVocabulary[name]
	return ok && cat == CategoryDocument
}

// IsPersonalField reports whether name is a known personal-data field.
func IsPersonalField(name string) bool {
	cat, ok := fieldVocabulary[name]
	return ok && cat == CategoryPersonal
}
