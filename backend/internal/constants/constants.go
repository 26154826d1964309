package constants

// Session constants
const (
	// SessionCookieName carries the session token
	SessionCookieName = "session"
)

// Traversal defaults
const (
	// DefaultRelationHops is used by the relations endpoint when no hops are given
	DefaultRelationHops = 1
	// DefaultTreeHops matches the depth the tree view draws
	DefaultTreeHops = 2
)

// Listing defaults
const (
	DefaultPeoplePageSize = 50
	MinSearchQueryLength  = 2
)

// Username limits
const (
	UsernameMinLength = 2
	UsernameMaxLength = 32
	PasswordMinLength = 8
	PasswordMaxLength = 72
)

// Language codes
const (
	LanguageCodeEnglish = "en"
	LanguageCodeRussian = "ru"

	DefaultLanguage = LanguageCodeEnglish
)

// LanguageNames maps supported language codes to display names
var LanguageNames = map[string]string{
	LanguageCodeEnglish: "English",
	LanguageCodeRussian: "Русский",
}

// IsSupportedLanguage reports whether code is a selectable user language
func IsSupportedLanguage(code string) bool {
	_, ok := LanguageNames[code]
	return ok
}
