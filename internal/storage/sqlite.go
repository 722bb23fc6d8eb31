package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"castbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) EnsureUser(ctx context.Context, userID int64, languageCode string) error {
	// An empty code only guarantees the row exists; it never clears a
	// language the user already picked.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, language_code) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET language_code=excluded.language_code
		 WHERE excluded.language_code <> ''`,
		userID, languageCode,
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, userID int64) (User, bool, error) {
	var u User
	var lang, footer, created sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, language_code, footer_text, created_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&u.ID, &lang, &footer, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u.LanguageCode = lang.String
	u.FooterText = footer.String
	if created.Valid {
		if t, perr := time.Parse("2006-01-02 15:04:05", created.String); perr == nil {
			u.CreatedAt = t
		}
	}
	return u, true, nil
}

func (s *sqliteStore) SetLanguage(ctx context.Context, userID int64, code string) error {
	return s.updateUserField(ctx, userID, "language_code", code)
}

func (s *sqliteStore) SetFooter(ctx context.Context, userID int64, text string) error {
	return s.updateUserField(ctx, userID, "footer_text", text)
}

func (s *sqliteStore) updateUserField(ctx context.Context, userID int64, col, val string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+col+` = ? WHERE user_id = ?`, val, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- channels ----

func (s *sqliteStore) AddChannel(ctx context.Context, channelID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(channel_id, user_id) VALUES(?,?)
		 ON CONFLICT(channel_id, user_id) DO NOTHING`,
		channelID, userID,
	)
	return err
}

func (s *sqliteStore) IsChannelRegistered(ctx context.Context, channelID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channels WHERE channel_id = ? AND user_id = ?`,
		channelID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) UserChannels(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id FROM channels WHERE user_id = ? ORDER BY created_at, channel_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) RemoveChannel(ctx context.Context, channelID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE channel_id = ? AND user_id = ?`,
		channelID, userID,
	)
	return err
}

// ---- premium ----

func (s *sqliteStore) UserPremium(ctx context.Context, userID int64) (PremiumStatus, error) {
	var flagged int
	var until sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT is_premium, premium_until FROM users WHERE user_id = ?`, userID,
	).Scan(&flagged, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return PremiumStatus{}, nil
	}
	if err != nil {
		return PremiumStatus{}, err
	}
	return PremiumStatus{Flagged: flagged != 0, Until: until.String}, nil
}

func (s *sqliteStore) SetUserPremium(ctx context.Context, userID int64, st PremiumStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_premium = ?, premium_until = ? WHERE user_id = ?`,
		boolInt(st.Flagged), nullStr(st.Until), userID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ChannelPremium(ctx context.Context, channelID int64) (PremiumStatus, error) {
	var flagged int
	var until sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT is_premium, premium_until FROM channel_premium WHERE channel_id = ?`, channelID,
	).Scan(&flagged, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return PremiumStatus{}, nil
	}
	if err != nil {
		return PremiumStatus{}, err
	}
	return PremiumStatus{Flagged: flagged != 0, Until: until.String}, nil
}

func (s *sqliteStore) SetChannelPremium(ctx context.Context, channelID int64, st PremiumStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_premium(channel_id, is_premium, premium_until) VALUES(?,?,?)
		 ON CONFLICT(channel_id) DO UPDATE SET is_premium=excluded.is_premium, premium_until=excluded.premium_until`,
		channelID, boolInt(st.Flagged), nullStr(st.Until),
	)
	return err
}

// ---- quota counters ----

func (s *sqliteStore) QuotaState(ctx context.Context, subjectID int64) (QuotaState, error) {
	var st QuotaState
	var reset sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT posts_sent_this_month, last_reset_date, total_posts_sent
		 FROM subject_stats WHERE subject_id = ?`, subjectID,
	).Scan(&st.PostsThisMonth, &reset, &st.TotalPosts)
	if errors.Is(err, sql.ErrNoRows) {
		// First sighting: create the row so the reset marker is durable.
		now := time.Now().UTC()
		_, ierr := s.db.ExecContext(ctx,
			`INSERT INTO subject_stats(subject_id, posts_sent_this_month, last_reset_date, total_posts_sent)
			 VALUES(?,0,?,0) ON CONFLICT(subject_id) DO NOTHING`,
			subjectID, now.Format(time.RFC3339),
		)
		if ierr != nil {
			return QuotaState{}, ierr
		}
		return QuotaState{LastReset: now}, nil
	}
	if err != nil {
		return QuotaState{}, err
	}
	if reset.Valid {
		if t, perr := time.Parse(time.RFC3339, reset.String); perr == nil {
			st.LastReset = t
		}
	}
	return st, nil
}

func (s *sqliteStore) ResetQuota(ctx context.Context, subjectID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subject_stats SET posts_sent_this_month = 0, last_reset_date = ?
		 WHERE subject_id = ?`,
		now.UTC().Format(time.RFC3339), subjectID,
	)
	return err
}

func (s *sqliteStore) IncrementQuota(ctx context.Context, subjectID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subject_stats
		 SET posts_sent_this_month = posts_sent_this_month + 1,
		     total_posts_sent = total_posts_sent + 1
		 WHERE subject_id = ?`,
		subjectID,
	)
	return err
}

// ---- scheduled jobs ----

func (s *sqliteStore) CreateJob(ctx context.Context, j Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_posts(job_id, user_id, source_chat_id, source_message_id, channel_id, caption, run_at)
		 VALUES(?,?,?,?,?,?,?)`,
		j.ID, j.SubjectID, j.SourceChatID, j.SourceMessageID, j.ChannelID,
		nullStr(j.Caption), j.DueAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (Job, bool, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT job_id, user_id, source_chat_id, source_message_id, channel_id, caption, run_at
		 FROM scheduled_posts WHERE job_id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE job_id = ?`, id)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, user_id, source_chat_id, source_message_id, channel_id, caption, run_at
		 FROM scheduled_posts ORDER BY run_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var caption sql.NullString
	var runAt string
	if err := r.Scan(&j.ID, &j.SubjectID, &j.SourceChatID, &j.SourceMessageID, &j.ChannelID, &caption, &runAt); err != nil {
		return Job{}, err
	}
	j.Caption = caption.String
	t, err := time.Parse(time.RFC3339, runAt)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: bad run_at %q: %w", j.ID, runAt, err)
	}
	j.DueAt = t.UTC()
	return j, nil
}

// ---- maintenance sweeps ----

// ResetStaleQuotas zeroes every monthly counter whose reset marker is
// older than monthStart. RFC 3339 UTC strings compare correctly as text.
func (s *sqliteStore) ResetStaleQuotas(ctx context.Context, monthStart time.Time) (int, error) {
	marker := monthStart.UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE subject_stats SET posts_sent_this_month = 0, last_reset_date = ?
		 WHERE last_reset_date IS NULL OR last_reset_date < ?`,
		marker, marker,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExpirePremium clears the premium flag on users and channels whose expiry
// has passed. Rows with no expiry (permanent premium) are untouched.
func (s *sqliteStore) ExpirePremium(ctx context.Context, now time.Time) (int, error) {
	marker := now.UTC().Format(time.RFC3339)
	total := 0
	for _, q := range []string{
		`UPDATE users SET is_premium = 0, premium_until = NULL
		 WHERE is_premium = 1 AND premium_until IS NOT NULL AND premium_until <> '' AND premium_until < ?`,
		`UPDATE channel_premium SET is_premium = 0, premium_until = NULL
		 WHERE is_premium = 1 AND premium_until IS NOT NULL AND premium_until <> '' AND premium_until < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, marker)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// ---- operator reports ----

func (s *sqliteStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) TopUsers(ctx context.Context, limit int) ([]UserUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id, COALESCE(u.language_code, ''),
		       st.posts_sent_this_month, st.total_posts_sent
		  FROM users u
		  JOIN subject_stats st ON st.subject_id = u.user_id
		 WHERE st.total_posts_sent > 0
		 ORDER BY st.total_posts_sent DESC, u.user_id
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserUsage
	for rows.Next() {
		var r UserUsage
		if err := rows.Scan(&r.UserID, &r.LanguageCode, &r.PostsThisMonth, &r.TotalPosts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveUsers lists users that either joined after since or posted this
// month. created_at is compared as the CURRENT_TIMESTAMP text SQLite wrote.
func (s *sqliteStore) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]UserUsage, error) {
	marker := since.UTC().Format("2006-01-02 15:04:05")
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id, COALESCE(u.language_code, ''), COALESCE(u.created_at, ''),
		       COALESCE(st.posts_sent_this_month, 0), COALESCE(st.total_posts_sent, 0)
		  FROM users u
		  LEFT JOIN subject_stats st ON st.subject_id = u.user_id
		 WHERE u.created_at > ? OR COALESCE(st.posts_sent_this_month, 0) > 0
		 ORDER BY u.created_at DESC, u.user_id
		 LIMIT ?`, marker, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserUsage
	for rows.Next() {
		var r UserUsage
		var created string
		if err := rows.Scan(&r.UserID, &r.LanguageCode, &created, &r.PostsThisMonth, &r.TotalPosts); err != nil {
			return nil, err
		}
		if t, perr := time.Parse("2006-01-02 15:04:05", created); perr == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PremiumChannels lists channels whose premium is still in effect at now,
// soonest expiry first, permanent entries last.
func (s *sqliteStore) PremiumChannels(ctx context.Context, now time.Time) ([]PremiumChannel, error) {
	marker := now.UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, COALESCE(premium_until, '')
		  FROM channel_premium
		 WHERE is_premium = 1
		   AND (premium_until IS NULL OR premium_until = '' OR premium_until > ?)
		 ORDER BY premium_until IS NULL OR premium_until = '', premium_until, channel_id`, marker,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PremiumChannel
	for rows.Next() {
		var r PremiumChannel
		if err := rows.Scan(&r.ChannelID, &r.Until); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- stats ----

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM users),
		  (SELECT COUNT(*) FROM users WHERE is_premium = 1),
		  (SELECT COUNT(*) FROM channels),
		  (SELECT COALESCE(SUM(total_posts_sent), 0) FROM subject_stats),
		  (SELECT COALESCE(SUM(posts_sent_this_month), 0) FROM subject_stats),
		  (SELECT COUNT(*) FROM scheduled_posts)`,
	)
	if err := row.Scan(&st.Users, &st.PremiumUsers, &st.Channels, &st.TotalPosts, &st.PostsThisMonth, &st.PendingJobs); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
