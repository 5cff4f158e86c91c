package realtime

import (
	"regexp"
	"strings"

	"beacon/cmd/identity"
)

// RoomMonitoring receives presence transitions and is reserved for
// elevated roles.
const RoomMonitoring = "monitoring"

const (
	prefixUser         = "user:"
	prefixRole         = "role:"
	prefixConversation = "conversation:"
	prefixIncident     = "incident:"
	prefixTracking     = "tracking:"
)

// RoomKind classifies a room name by its prefix.
type RoomKind uint8

const (
	RoomInvalid RoomKind = iota
	RoomUser
	RoomRole
	RoomMonitor
	RoomConversation
	RoomIncident
	RoomTracking
)

func (k RoomKind) String() string {
	switch k {
	case RoomUser:
		return "user"
	case RoomRole:
		return "role"
	case RoomMonitor:
		return "monitoring"
	case RoomConversation:
		return "conversation"
	case RoomIncident:
		return "incident"
	case RoomTracking:
		return "tracking"
	default:
		return "invalid"
	}
}

var roomIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// ParseRoom splits a room name into its kind and id. Names outside the
// fixed grammar yield RoomInvalid.
func ParseRoom(name string) (RoomKind, string) {
	if name == RoomMonitoring {
		return RoomMonitor, ""
	}

	var (
		kind RoomKind
		id   string
	)
	switch {
	case strings.HasPrefix(name, prefixUser):
		kind, id = RoomUser, name[len(prefixUser):]
	case strings.HasPrefix(name, prefixRole):
		if !identity.Role(name[len(prefixRole):]).Valid() {
			return RoomInvalid, ""
		}
		return RoomRole, name[len(prefixRole):]
	case strings.HasPrefix(name, prefixConversation):
		kind, id = RoomConversation, name[len(prefixConversation):]
	case strings.HasPrefix(name, prefixIncident):
		kind, id = RoomIncident, name[len(prefixIncident):]
	case strings.HasPrefix(name, prefixTracking):
		kind, id = RoomTracking, name[len(prefixTracking):]
	default:
		return RoomInvalid, ""
	}
	if !roomIDRe.MatchString(id) {
		return RoomInvalid, ""
	}
	return kind, id
}

func UserRoom(userID string) string { return prefixUser + userID }
func RoleRoom(r identity.Role) string { return prefixRole + string(r) }
func ConversationRoom(id string) string { return prefixConversation + id }
func IncidentRoom(id string) string { return prefixIncident + id }
func TrackingRoom(id string) string { return prefixTracking + id }
