package domain

import "strings"

// Privilege names a capability an actor may hold.
type Privilege string

const (
	PrivilegeEditEntity     Privilege = "EDIT_ENTITY"
	PrivilegeDeleteEntity   Privilege = "DELETE_ENTITY"
	PrivilegeManageGlossary Privilege = "MANAGE_GLOSSARIES"
	PrivilegeManageTests    Privilege = "MANAGE_TESTS"
	PrivilegeAdmin          Privilege = "ADMIN"
)

// ActorContext is the authenticated identity submitting a proposal.
type ActorContext struct {
	Actor      string
	Privileges []Privilege
}

// Has reports whether the actor holds p. ADMIN implies every privilege.
func (a ActorContext) Has(p Privilege) bool {
	for _, held := range a.Privileges {
		if strings.EqualFold(string(held), string(p)) || strings.EqualFold(string(held), string(PrivilegeAdmin)) {
			return true
		}
	}
	return false
}

// Anonymous reports whether no actor was authenticated.
func (a ActorContext) Anonymous() bool {
	return strings.TrimSpace(a.Actor) == ""
}
