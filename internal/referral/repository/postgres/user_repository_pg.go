package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/referkit/referkit/internal/referral/domain"
)

const userColumns = "id, telegram_id, username, name, profile_url, referrer_id, created_at"

type PgUserRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgUserRepository(db *pgxpool.Pool, logger *slog.Logger) *PgUserRepository {
	return &PgUserRepository{db: db, logger: logger}
}

func (r *PgUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ReferrerID != nil {
		if err := r.checkReferrerChain(ctx, user.ID, *user.ReferrerID); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO users (telegram_id, username, name, profile_url, referrer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		user.TelegramID, user.Username, user.Name, user.ProfileURL, user.ReferrerID, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation on telegram_id
				return domain.ErrDuplicateUser
			case "23503": // foreign_key_violation on referrer_id
				return domain.ErrUserNotFound
			}
		}
		r.logger.ErrorContext(ctx, "Error creating user", "error", err, "telegram_id", user.TelegramID)
		return err
	}
	return nil
}

// checkReferrerChain walks up the referrer chain starting at
// referrerID and fails if it passes through newUserID. Insertion order
// normally makes a cycle impossible (the new user cannot already be
// someone's referrer), so this is a defensive check; it also rejects
// the direct self-referral case where referrerID == newUserID.
func (r *PgUserRepository) checkReferrerChain(ctx context.Context, newUserID, referrerID int64) error {
	seen := map[int64]bool{}
	current := referrerID
	for {
		if newUserID != 0 && current == newUserID {
			return domain.ErrCyclicReferral
		}
		if seen[current] {
			// A pre-existing cycle in stored data; refuse to extend it.
			return domain.ErrCyclicReferral
		}
		seen[current] = true

		var parent *int64
		err := r.db.QueryRow(ctx, `SELECT referrer_id FROM users WHERE id = $1`, current).Scan(&parent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if current == referrerID {
					return domain.ErrUserNotFound
				}
				return nil // dangling parent, chain ends
			}
			return err
		}
		if parent == nil {
			return nil // reached a root
		}
		current = *parent
	}
}

func (r *PgUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting user by id", "error", err, "user_id", id)
		return nil, err
	}
	return user, nil
}

func (r *PgUserRepository) GetReferrer(ctx context.Context, id int64) (*domain.User, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ReferrerID == nil {
		return nil, nil
	}
	return r.GetByID(ctx, *user.ReferrerID)
}

func (r *PgUserRepository) ListDirectReferrals(ctx context.Context, id int64) ([]*domain.User, error) {
	// Existence check first so an unknown id is an error rather than an
	// empty result.
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE referrer_id = $1 ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing direct referrals", "error", err, "user_id", id)
		return nil, err
	}
	defer rows.Close()
	return r.collectUsers(rows)
}

func (r *PgUserRepository) CountDirectReferrals(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referrer_id = $1`, id).Scan(&count)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting direct referrals", "error", err, "user_id", id)
		return 0, err
	}
	return count, nil
}

func (r *PgUserRepository) ListReferralsTransitive(ctx context.Context, id int64) ([]*domain.User, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	var all []*domain.User
	frontier := []int64{id}
	visited := map[int64]bool{id: true}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		children, err := r.ListDirectReferrals(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			all = append(all, child)
			frontier = append(frontier, child.ID)
		}
	}
	return all, nil
}

func (r *PgUserRepository) scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(&user.ID, &user.TelegramID, &user.Username, &user.Name, &user.ProfileURL, &user.ReferrerID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PgUserRepository) collectUsers(rows pgx.Rows) ([]*domain.User, error) {
	var users []*domain.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

var _ domain.UserRepository = (*PgUserRepository)(nil)
