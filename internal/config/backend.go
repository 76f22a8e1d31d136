package config

// Backend is the platform store for non-secret keys: UserDefaults on macOS,
// a JSON file under XDG_CONFIG_HOME elsewhere. ok is false when the key has
// never been written.
type Backend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetFloat(key string) (val float64, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetFloat(key string, val float64) error
	Delete(key string) error
}
