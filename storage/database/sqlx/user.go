package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/user"
)

const userColumns = "id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login"

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		Roles:        row.Roles,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastLogin:    row.LastLogin.Time,
	}
	usr.SetActive(row.IsActive)
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sql.DB, conf *core.Config) user.Repository {
	return &userRepository{db: sqlx.NewDb(db, conf.Database.Engine)}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	qb := psql.Select("username", "email").
		From("users").
		Where(sq.Or{sq.Eq{"username": username}, sq.Eq{"email": email}})
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		qb = qb.Where(sq.NotEq{"id": ids})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	for _, row := range rows {
		if row.Username == username {
			return user.ErrUsernameExists
		}
		if row.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()

	query, args, err := psql.Insert("users").
		Columns("id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at").
		Values(usr.ID, usr.Name, usr.Username, usr.Email, usr.Active(), pq.Array(usr.Roles), usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}

	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case violatesUnique(err, "users_username_key"):
			return user.User{}, user.ErrUsernameExists
		case violatesUnique(err, "users_email_key"):
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	qb := psql.Select(userColumns).From("users")
	if filter != nil {
		if filter.Search != "" {
			search := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"name": search},
				sq.ILike{"username": search},
				sq.ILike{"email": search},
			})
		}
		if len(filter.Roles) > 0 {
			prefixed := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixed = append(prefixed, sq.Expr("EXISTS (SELECT 1 FROM unnest(roles) AS role WHERE role LIKE ?)", role+"%"))
			}
			qb = qb.Where(prefixed)
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	if len(ordering) > 0 {
		qb = qb.OrderBy(orderClauses(ordering)...)
	} else {
		qb = qb.OrderBy("created_at ASC")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	qb := psql.Select(userColumns).From("users")
	switch {
	case filter.ID != "":
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		qb = qb.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		qb = qb.Where(sq.Eq{"email": filter.Email})
	case len(filter.UsernameOrEmail) == 2:
		qb = qb.Where(sq.Or{
			sq.Eq{"username": filter.UsernameOrEmail[0]},
			sq.Eq{"email": filter.UsernameOrEmail[1]},
		})
	default:
		return user.User{}, user.ErrNotFound
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}

	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

// UpdateUser only saves set fields.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	qb := psql.Update("users").Where(sq.Eq{"id": usr.ID}).Set("updated_at", usr.UpdatedAt)
	if usr.Name != "" {
		qb = qb.Set("name", usr.Name)
	}
	if usr.Username != "" {
		qb = qb.Set("username", usr.Username)
	}
	if usr.Email != "" {
		qb = qb.Set("email", usr.Email)
	}
	if usr.Roles != nil {
		qb = qb.Set("roles", pq.Array(usr.Roles))
	}
	if usr.PasswordHash != nil {
		qb = qb.Set("password_hash", usr.PasswordHash)
	}
	if usr.IsActive != nil {
		qb = qb.Set("is_active", *usr.IsActive)
	}
	if !usr.LastLogin.IsZero() {
		qb = qb.Set("last_login", null.TimeFrom(usr.LastLogin))
	}
	query, args, err := qb.Suffix("RETURNING " + userColumns).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building query")
	}

	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		switch {
		case violatesUnique(err, "users_username_key"):
			return user.User{}, user.ErrUsernameExists
		case violatesUnique(err, "users_email_key"):
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID != "" {
		updated, err := repo.UpdateUser(ctx, usr)
		if err == nil {
			return updated, nil
		}
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
	}
	return repo.CreateUser(ctx, usr)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	query, args, err := psql.Delete("users").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(n), nil
}
