package lifecycle

import (
	"strings"

	"classwatch/pkg/types"
)

// JoinCommand is a join request narrowed by role at the transport boundary.
// The only implementations are LecturerJoin and StudentJoin.
type JoinCommand interface {
	code() string
	role() types.Role
}

type LecturerJoin struct {
	SessionCode string
}

type StudentJoin struct {
	SessionCode string
	DisplayName string
}

func (j LecturerJoin) code() string     { return j.SessionCode }
func (j LecturerJoin) role() types.Role { return types.RoleLecturer }
func (j StudentJoin) code() string      { return j.SessionCode }
func (j StudentJoin) role() types.Role  { return types.RoleStudent }

// ParseJoinRequest decides the variant from the wire role.
// An absent role means student, as older clients never send it.
func ParseJoinRequest(req types.JoinSessionRequest) (JoinCommand, error) {
	switch types.Role(strings.ToLower(strings.TrimSpace(req.Role))) {
	case types.RoleLecturer:
		return LecturerJoin{SessionCode: req.SessionCode}, nil
	case types.RoleStudent, "":
		return StudentJoin{SessionCode: req.SessionCode, DisplayName: req.DisplayName}, nil
	default:
		return nil, types.ErrInvalidRole
	}
}
