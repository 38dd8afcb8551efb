package domain

type AuthMode string

const (
	AuthKey   AuthMode = "key"
	AuthEntra AuthMode = "entra"
)

// Credentials are resolved once per invocation and never persisted by the
// client itself. Endpoint always ends with a single "/".
type Credentials struct {
	Key      string
	Endpoint string
	AuthMode AuthMode
}

func (c Credentials) Mode() AuthMode {
	if c.AuthMode == "" {
		return AuthKey
	}
	return c.AuthMode
}
