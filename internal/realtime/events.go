package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// Event names a realtime message kind understood by clients.
type Event string

const (
	EventWalletUpdated       Event = "WalletUpdated"
	EventOrderCreated        Event = "OrderCreated"
	EventOrderStatusChanged  Event = "OrderStatusChanged"
	EventOrderUpdatedByStaff Event = "OrderUpdatedByStaff"
	EventVehicleUpdated      Event = "VehicleUpdated"
	EventStationUpdated      Event = "StationUpdated"
	EventAccountChanged      Event = "AccountChanged"
)

// Group is a fan-out target.
type Group string

const (
	GroupStaff Group = "staff"
	GroupAdmin Group = "admin"

	accountGroupPrefix = "account:"
)

// AccountGroup is the private channel of one account.
func AccountGroup(accountID uuid.UUID) Group {
	return Group(accountGroupPrefix + accountID.String())
}

// IsAccount reports whether g is a per-account group.
func (g Group) IsAccount() bool {
	return strings.HasPrefix(string(g), accountGroupPrefix)
}

// GroupsFor returns the groups a connection authenticated as accountID/role may join.
func GroupsFor(accountID uuid.UUID, role enums.Role) []Group {
	groups := []Group{AccountGroup(accountID)}
	switch role {
	case enums.RoleStaff:
		groups = append(groups, GroupStaff)
	case enums.RoleAdmin:
		groups = append(groups, GroupStaff, GroupAdmin)
	}
	return groups
}

// Message is one delivery unit. Payload is a full snapshot, never a diff.
type Message struct {
	Event   Event           `json:"event"`
	Group   Group           `json:"group"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}
