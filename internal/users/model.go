package users

import "strings"

type User struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Password     string   `json:"password"`
	PrimaryEmail string   `json:"primary_email"`
	Emails       []string `json:"emails"`
}

// Addresses returns the primary address followed by every alias that is not
// a duplicate of it.
func (u *User) Addresses() []string {
	addrs := []string{u.PrimaryEmail}
	for _, e := range u.Emails {
		if !strings.EqualFold(e, u.PrimaryEmail) {
			addrs = append(addrs, e)
		}
	}
	return addrs
}

// Owns reports whether addr is one of the user's addresses. The comparison
// ignores case.
func (u *User) Owns(addr string) bool {
	if addr == "" {
		return false
	}
	for _, a := range u.Addresses() {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}
