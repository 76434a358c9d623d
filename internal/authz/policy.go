package authz

import (
	"fmt"
	"slices"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

type Capability int

const (
	CreateTask Capability = iota + 1
	ViewTask
	UpdateStatusOrComment
	UpdateAnyField
	Reopen
	DeleteTask
	DeleteUser
	RunMaintenance
)

func (c Capability) String() string {
	switch c {
	case CreateTask:
		return "create_task"
	case ViewTask:
		return "view_task"
	case UpdateStatusOrComment:
		return "update_status_or_comment"
	case UpdateAnyField:
		return "update_any_field"
	case Reopen:
		return "reopen"
	case DeleteTask:
		return "delete_task"
	case DeleteUser:
		return "delete_user"
	case RunMaintenance:
		return "run_maintenance"
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

// Resource is what a capability is checked against. Zero fields are ignored.
type Resource struct {
	OwnerUserID  string
	TargetUserID string
}

// Policy decides capabilities from claims alone, so a decision can be
// re-evaluated after every fresh read of the resource.
type Policy struct {
	AdminGroup string
}

func NewPolicy(adminGroup string) *Policy {
	if adminGroup == "" {
		adminGroup = "admin"
	}
	return &Policy{AdminGroup: adminGroup}
}

func (p *Policy) IsAdmin(c *Claims) bool {
	return c != nil && c.InGroup(p.AdminGroup)
}

// IsOwner matches the owner against both the subject and the username form.
func (p *Policy) IsOwner(c *Claims, ownerUserID string) bool {
	if c == nil || ownerUserID == "" {
		return false
	}
	return slices.Contains(c.Identities(), ownerUserID)
}

func (p *Policy) Decide(capability Capability, c *Claims, res Resource) Decision {
	if c == nil || c.Subject == "" {
		return Deny
	}
	admin := p.IsAdmin(c)
	switch capability {
	case CreateTask, UpdateAnyField, Reopen, DeleteTask, RunMaintenance:
		return Decision(admin)
	case ViewTask, UpdateStatusOrComment:
		return Decision(admin || p.IsOwner(c, res.OwnerUserID))
	case DeleteUser:
		return Decision(admin && !slices.Contains(c.Identities(), res.TargetUserID))
	}
	return Deny
}

// Require returns a PermissionDenied error unless the capability is allowed.
func (p *Policy) Require(capability Capability, c *Claims, res Resource) error {
	if p.Decide(capability, c, res) == Allow {
		return nil
	}
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("not allowed to %s", capability), nil)
}
