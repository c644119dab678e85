package stdio

import "os/user"

// UserProvider supplies a string identifier for the local stdio peer. Stdio
// never carries a bearer token, so this is the only identity a tool handler
// can rely on via InvocationContext.Extra.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the identifier from the operating system's current
// user, preferring the username and falling back to the numeric uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}
