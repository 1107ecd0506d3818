// Package account holds identity entities: accounts, profiles, and the
// game servers they play on.
package account

import "time"

// Role gates access to the admin surface.
type Role string

const (
	RoleMember        Role = "MEMBER"
	RoleSupport       Role = "SUPPORT"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Account is a login identity. PasswordHash is bcrypt.
type Account struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	AuthToken    string    `db:"auth_token" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Profile is the 1:1 public identity for an account.
type Profile struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"accountId"`
	Username  string    `db:"username" json:"username"`
	Avatar    string    `db:"avatar" json:"avatar"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ServerStatus is the lifecycle of a game server record.
type ServerStatus string

const (
	ServerOffline     ServerStatus = "OFFLINE"
	ServerMaintenance ServerStatus = "MAINTENANCE"
	ServerOnline      ServerStatus = "ONLINE"
)

// Server is a registered game server; each owns many worlds.
// (Hostname, Port) is unique.
type Server struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Hostname  string       `db:"hostname" json:"hostname"`
	Port      int          `db:"port" json:"port"`
	Status    ServerStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}
