package account

import (
    "errors"
    "time"
)

const (
    // RoleProspect is the role of an owner never promoted.
    RoleProspect = "prospect"
    // RoleTenant is granted when a lease the owner signed as tenant activates.
    RoleTenant = "tenant"
    // RoleManager marks property managers.
    RoleManager = "manager"
)

var (
    // ErrNotFound is returned for owners without an account row.
    ErrNotFound = errors.New("account not found")
    // ErrInvalidRole rejects unknown roles.
    ErrInvalidRole = errors.New("invalid account role")
)

// Account is the role record of one owner.
type Account struct {
    OwnerID   string
    Role      string
    UpdatedAt time.Time
}

func validRole(role string) bool {
    switch role {
    case RoleProspect, RoleTenant, RoleManager:
        return true
    }
    return false
}
