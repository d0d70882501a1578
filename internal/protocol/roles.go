package protocol

import (
	"fmt"
	"strings"
)

// Role classifies an authenticated channel.
type Role uint8

const (
	RoleNone Role = iota
	RoleClient
	RoleAudioServer
	RolePiServer
	RoleBackgroundApp
)

var roleNames = map[Role]string{
	RoleNone:          "none",
	RoleClient:        "client",
	RoleAudioServer:   "audio_server",
	RolePiServer:      "pi_server",
	RoleBackgroundApp: "background_app",
}

// Roles lists every assignable role.
func Roles() []Role {
	return []Role{RoleClient, RoleAudioServer, RolePiServer, RoleBackgroundApp}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Assignable reports whether a handshake may request r.
func (r Role) Assignable() bool {
	return r >= RoleClient && r <= RoleBackgroundApp
}

// Interactive reports whether r is a browser-facing role.
func (r Role) Interactive() bool {
	return r == RoleClient
}

// ParseRole accepts the names produced by Role.String.
func ParseRole(raw string) (Role, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for role, name := range roleNames {
		if role != RoleNone && name == v {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}
