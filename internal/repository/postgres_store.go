package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/driftledger/internal/model"
)

// pqForeignKeyViolation は外部キー制約違反のPostgreSQLエラーコード。
const pqForeignKeyViolation = "23503"

// PostgresStore はPostgreSQLを使用した台帳ストア。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStoreUnavailableError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return model.NewStoreUnavailableError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	return nil
}

// DeleteNotificationsBefore はcutoffより前の通知試行を削除し、削除件数を返す。
// 台帳の整合性に関わらない保守処理のため、トランザクションを使わずに実行する。
func (s *PostgresStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notification_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notification log: %w", err)
	}
	return result.RowsAffected()
}

// postgresTx は*sql.Txに台帳操作を実装する。
type postgresTx struct {
	tx *sql.Tx
}

const playerColumns = `id, username, first_name, last_name, points, tokens, registered_at, last_active_at`

func scanPlayer(row interface{ Scan(...any) error }) (*model.Player, error) {
	p := &model.Player{}
	var id int64
	err := row.Scan(&id, &p.Username, &p.FirstName, &p.LastName,
		&p.Points, &p.Tokens, &p.RegisteredAt, &p.LastActiveAt)
	if err != nil {
		return nil, err
	}
	p.ID = model.PlayerID(id)
	return p, nil
}

func (t *postgresTx) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	p, err := scanPlayer(t.tx.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, int64(id)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (t *postgresTx) LockPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	p, err := scanPlayer(t.tx.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, int64(id)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock player: %w", err)
	}
	return p, nil
}

func (t *postgresTx) InsertPlayerIfAbsent(ctx context.Context, p *model.Player) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		int64(p.ID), p.Username, p.FirstName, p.LastName,
		p.Points, p.Tokens, p.RegisteredAt, p.LastActiveAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert player: %w", err)
	}
	return affected(result)
}

func (t *postgresTx) TouchPlayer(ctx context.Context, id model.PlayerID, name model.DisplayName, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE players
		 SET username = COALESCE(NULLIF($2, ''), username),
		     first_name = COALESCE(NULLIF($3, ''), first_name),
		     last_name = COALESCE(NULLIF($4, ''), last_name),
		     last_active_at = $5
		 WHERE id = $1`,
		int64(id), name.Username, name.FirstName, name.LastName, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch player: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewPlayerNotFoundError(id)
	}
	return nil
}

func (t *postgresTx) AddPoints(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	return t.addCounter(ctx, "points", id, delta)
}

func (t *postgresTx) AddTokens(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	return t.addCounter(ctx, "tokens", id, delta)
}

// addCounter はpoints/tokensの加算を行う。columnは呼び出し元で固定された列名のみ受け付ける。
func (t *postgresTx) addCounter(ctx context.Context, column string, id model.PlayerID, delta int64) (int64, error) {
	var total int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE players SET `+column+` = `+column+` + $2 WHERE id = $1 RETURNING `+column,
		int64(id), delta,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, model.NewPlayerNotFoundError(id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add %s: %w", column, err)
	}
	return total, nil
}

func (t *postgresTx) CountPlayersAbove(ctx context.Context, points int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE points > $1`, points,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count players above: %w", err)
	}
	return n, nil
}

func (t *postgresTx) TopPlayers(ctx context.Context, limit int) ([]*model.Player, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players
		 ORDER BY points DESC, registered_at ASC, id ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top players: %w", err)
	}
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return players, nil
}

func (t *postgresTx) InsertCheckIn(ctx context.Context, c *model.CheckIn) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO daily_check_ins (player_id, check_date, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (player_id, check_date) DO NOTHING`,
		int64(c.PlayerID), c.CheckDate.String(), c.CreatedAt,
	)
	if err != nil {
		if isPQError(err, pqForeignKeyViolation) {
			return false, model.NewPlayerNotFoundError(c.PlayerID)
		}
		return false, fmt.Errorf("failed to insert check-in: %w", err)
	}
	return affected(result)
}

func (t *postgresTx) HasCheckIn(ctx context.Context, id model.PlayerID, date model.Date) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM daily_check_ins WHERE player_id = $1 AND check_date = $2)`,
		int64(id), date.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check check-in: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertSession(ctx context.Context, s *model.GameSession) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO game_sessions (player_id, score, recorded_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		int64(s.PlayerID), s.Score, s.RecordedAt,
	).Scan(&id)
	if err != nil {
		if isPQError(err, pqForeignKeyViolation) {
			return 0, model.NewPlayerNotFoundError(s.PlayerID)
		}
		return 0, fmt.Errorf("failed to insert game session: %w", err)
	}
	return id, nil
}

func (t *postgresTx) MaxScore(ctx context.Context, id model.PlayerID) (int64, error) {
	var best int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(score), 0) FROM game_sessions WHERE player_id = $1`,
		int64(id),
	).Scan(&best)
	if err != nil {
		return 0, fmt.Errorf("failed to get max score: %w", err)
	}
	return best, nil
}

func (t *postgresTx) StartDistribution(ctx context.Context, d *model.Distribution) (*model.Distribution, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reward_distributions (period, run_id, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (period) DO NOTHING`,
		d.Period.String(), d.RunID, d.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start distribution: %w", err)
	}

	current, err := t.GetDistribution(ctx, d.Period)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("distribution %s not found after insert", d.Period)
	}
	return current, nil
}

func (t *postgresTx) GetDistribution(ctx context.Context, period model.Date) (*model.Distribution, error) {
	d := &model.Distribution{}
	var p time.Time
	var completedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx,
		`SELECT period, run_id, started_at, completed_at
		 FROM reward_distributions WHERE period = $1`,
		period.String(),
	).Scan(&p, &d.RunID, &d.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}
	d.Period = model.DateOf(p, time.UTC)
	if completedAt.Valid {
		at := completedAt.Time
		d.CompletedAt = &at
	}
	return d, nil
}

func (t *postgresTx) CompleteDistribution(ctx context.Context, period model.Date, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE reward_distributions SET completed_at = $2
		 WHERE period = $1 AND completed_at IS NULL`,
		period.String(), at,
	)
	if err != nil {
		return fmt.Errorf("failed to complete distribution: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertPayoutIfAbsent(ctx context.Context, p *model.Payout) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO reward_payouts (period, position, player_id, tokens, credited_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING`,
		p.Period.String(), p.Position, int64(p.PlayerID), p.Tokens, p.CreditedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payout: %w", err)
	}
	return affected(result)
}

func (t *postgresTx) MarkPayoutNotified(ctx context.Context, period model.Date, id model.PlayerID, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE reward_payouts SET notified_at = $3
		 WHERE period = $1 AND player_id = $2`,
		period.String(), int64(id), at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payout notified: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertNotificationAttempt(ctx context.Context, a *model.NotificationAttempt) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO notification_log (id, player_id, kind, success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, int64(a.PlayerID), string(a.Kind), a.Success, a.ErrorMessage, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification attempt: %w", err)
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// isPQError はerrが指定コードのPostgreSQLエラーかを返す。
func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// compile-time interface check
var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
