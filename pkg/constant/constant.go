package constants

// gin context keys
const (
	DbField     = "_sos_db"
	UserField   = "_sos_user"
	UserIDField = "user_id"
	RoleField   = "user_rol"
	LangField   = "lang"
	I18nField   = "_sos_i18n"
)

const (
	RoleAdmin = "admin"

	DefaultLang = "es"
)
