package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gift-orders/internal/domain/member"
)

const (
	getMemberByEmailSQL = `SELECT id, email, points, notify_token
		FROM members WHERE lower(email) = lower($1)`
)

var _ member.Repository = (*MemberRepository)(nil)

// MemberRepository implements member.Repository backed by PostgreSQL.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a MemberRepository that uses the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// GetByEmail returns a member by email, compared case-insensitively.
func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*member.Member, error) {
	return r.getOne(ctx, getMemberByEmailSQL, email)
}

func (r *MemberRepository) getOne(ctx context.Context, query string, arg any) (*member.Member, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting member %v: %w", arg, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, member.ErrNotFound
		}
		return nil, fmt.Errorf("getting member %v: %w", arg, err)
	}
	return &m, nil
}

func scanMember(row pgx.CollectableRow) (member.Member, error) {
	var m member.Member
	err := row.Scan(&m.ID, &m.Email, &m.Points, &m.NotifyToken)
	return m, err
}
