// Account, profile, and server records. Entity functions take sqlx.Ext so
// they run either on the store connection or inside a WithTx transaction.
package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/havenworlds/haven-server/internal/account"
	"github.com/havenworlds/haven-server/internal/apperr"
)

// Conn exposes the raw connection for read paths.
func (s *Store) Conn() *sqlx.DB { return s.conn }

// CreateAccount inserts an account and its 1:1 profile.
func CreateAccount(q sqlx.Ext, email, passwordHash, username string) (*account.Account, *account.Profile, error) {
	now := time.Now().UTC()
	acc := &account.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         account.RoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := q.Exec(`INSERT INTO accounts (id, email, password_hash, auth_token, role, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?)`,
		acc.ID, acc.Email, acc.PasswordHash, acc.Role, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	prof := &account.Profile{
		ID:        uuid.NewString(),
		AccountID: acc.ID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = q.Exec(`INSERT INTO profiles (id, account_id, username, avatar, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)`,
		prof.ID, prof.AccountID, prof.Username, prof.CreatedAt, prof.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}
	return acc, prof, nil
}

// AccountByEmail looks up an account, or nil when absent.
func AccountByEmail(q sqlx.Queryer, email string) (*account.Account, error) {
	var acc account.Account
	err := sqlx.Get(q, &acc, `SELECT * FROM accounts WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &acc, err
}

// AccountByID fetches an account by id.
func AccountByID(q sqlx.Queryer, id string) (*account.Account, error) {
	var acc account.Account
	err := sqlx.Get(q, &acc, `SELECT * FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &acc, err
}

// ProfileByAccount fetches the 1:1 profile.
func ProfileByAccount(q sqlx.Queryer, accountID string) (*account.Profile, error) {
	var p account.Profile
	err := sqlx.Get(q, &p, `SELECT * FROM profiles WHERE account_id = ?`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

// ProfileByID fetches a profile by id.
func ProfileByID(q sqlx.Queryer, id string) (*account.Profile, error) {
	var p account.Profile
	err := sqlx.Get(q, &p, `SELECT * FROM profiles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

// SetRole updates an account's role.
func SetRole(q sqlx.Ext, email string, role account.Role) error {
	res, err := q.Exec(`UPDATE accounts SET role = ?, updated_at = ? WHERE email = ?`,
		role, time.Now().UTC(), email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("ACCOUNT_NOT_FOUND", "no account with that email")
	}
	return nil
}

// CreateServer registers a game server.
func CreateServer(q sqlx.Ext, name, hostname string, port int) (*account.Server, error) {
	now := time.Now().UTC()
	srv := &account.Server{
		ID:        uuid.NewString(),
		Name:      name,
		Hostname:  hostname,
		Port:      port,
		Status:    account.ServerOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := q.Exec(`INSERT INTO servers (id, name, hostname, port, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.Hostname, srv.Port, srv.Status, srv.CreatedAt, srv.UpdatedAt)
	return srv, err
}

// ServerByID fetches a server, or nil when absent.
func ServerByID(q sqlx.Queryer, id string) (*account.Server, error) {
	var srv account.Server
	err := sqlx.Get(q, &srv, `SELECT * FROM servers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &srv, err
}

// ListServers returns all servers ordered by name.
func ListServers(q sqlx.Queryer) ([]*account.Server, error) {
	var out []*account.Server
	err := sqlx.Select(q, &out, `SELECT * FROM servers ORDER BY name`)
	return out, err
}

// UpdateServer patches mutable server fields.
func UpdateServer(q sqlx.Ext, srv *account.Server) error {
	srv.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`UPDATE servers SET name = ?, hostname = ?, port = ?, status = ?, updated_at = ? WHERE id = ?`,
		srv.Name, srv.Hostname, srv.Port, srv.Status, srv.UpdatedAt, srv.ID)
	return err
}

// DeleteServer removes a server; worlds cascade.
func DeleteServer(q sqlx.Ext, id string) error {
	_, err := q.Exec(`DELETE FROM servers WHERE id = ?`, id)
	return err
}

// Counts holds dashboard aggregates.
type Counts struct {
	Accounts    int `json:"accounts"`
	Servers     int `json:"servers"`
	Worlds      int `json:"worlds"`
	Settlements int `json:"settlements"`
	Disasters   int `json:"disasters"`
}

// DashboardCounts returns row counts for the admin dashboard.
func DashboardCounts(q sqlx.Queryer) (Counts, error) {
	var c Counts
	for _, pair := range []struct {
		dst   *int
		query string
	}{
		{&c.Accounts, `SELECT COUNT(*) FROM accounts`},
		{&c.Servers, `SELECT COUNT(*) FROM servers`},
		{&c.Worlds, `SELECT COUNT(*) FROM worlds`},
		{&c.Settlements, `SELECT COUNT(*) FROM settlements`},
		{&c.Disasters, `SELECT COUNT(*) FROM disaster_events WHERE status != 'RESOLVED'`},
	} {
		if err := sqlx.Get(q, pair.dst, pair.query); err != nil {
			return c, err
		}
	}
	return c, nil
}
