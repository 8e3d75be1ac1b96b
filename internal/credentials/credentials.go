// Package credentials models the per-execution authentication material
// passed to the HTTP effect gateway, as a Go tagged union.
package credentials

// Kind identifies which credential variant is populated.
type Kind string

const (
	KindBearer Kind = "bearer"
	KindAPIKey Kind = "api_key"
	KindBasic  Kind = "basic"
)

// Credential is a single set of auth material for one API.
type Credential struct {
	Kind Kind

	// Bearer
	Token string

	// APIKey
	HeaderName string
	KeyValue   string

	// Basic
	Username string
	Password string
}

func Bearer(token string) Credential {
	return Credential{Kind: KindBearer, Token: token}
}

func APIKey(headerName, value string) Credential {
	return Credential{Kind: KindAPIKey, HeaderName: headerName, KeyValue: value}
}

func Basic(username, password string) Credential {
	return Credential{Kind: KindBasic, Username: username, Password: password}
}

// Map is keyed by API name, one optional Credential per API, passed into
// a single execution.
type Map map[string]Credential

// Clone returns a shallow copy safe to hand to a concurrent execution.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
