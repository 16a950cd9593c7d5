package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository persists attendance data in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo over an open pool. The schema is
// expected to be migrated already (see store.Migrate).
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// pgErr translates driver errors into the package sentinels.
func pgErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return ErrConflict
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return pgErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, document, first_name, last_name, email, phone, schedule_id, establishment_id,
	face_trained, photo_url, push_token, active, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Document, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.ScheduleID,
		&u.EstablishmentID, &u.FaceTrained, &u.PhotoURL, &u.PushToken, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, pgErr(err)
	}
	return u, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	var w where
	if f.EstablishmentID != "" {
		w.add("establishment_id = ", f.EstablishmentID)
	}
	if f.ScheduleID != "" {
		w.add("schedule_id = ", f.ScheduleID)
	}
	if f.ActiveOnly {
		w.add("active = ", true)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+w.sql()+` ORDER BY last_name, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, document, first_name, last_name, email, phone, schedule_id, establishment_id,
			face_trained, photo_url, push_token, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at
	`, u.ID, u.Document, u.FirstName, u.LastName, u.Email, u.Phone, u.ScheduleID, u.EstablishmentID,
		u.FaceTrained, u.PhotoURL, u.PushToken, u.Active)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, pgErr(err)
	}
	return u, nil
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET document = $2, first_name = $3, last_name = $4, email = $5, phone = $6,
			schedule_id = $7, establishment_id = $8, face_trained = $9, photo_url = $10,
			push_token = $11, active = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, u.ID, u.Document, u.FirstName, u.LastName, u.Email, u.Phone, u.ScheduleID, u.EstablishmentID,
		u.FaceTrained, u.PhotoURL, u.PushToken, u.Active)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, pgErr(err)
	}
	return u, nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) SetFaceTrained(ctx context.Context, id string, trained bool, photoURL string) error {
	return affected(r.db.ExecContext(ctx, `
		UPDATE users
		SET face_trained = $2, photo_url = COALESCE(NULLIF($3, ''), photo_url), updated_at = NOW()
		WHERE id = $1
	`, id, trained, photoURL))
}

const scheduleColumns = `id, name, entry_time, exit_time, tolerance_minutes, work_days, active, created_at, updated_at`

func scanSchedule(row rowScanner) (Schedule, error) {
	var s Schedule
	var days string
	if err := row.Scan(&s.ID, &s.Name, &s.EntryTime, &s.ExitTime, &s.ToleranceMinutes, &days, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Schedule{}, err
	}
	s.WorkDays = decodeWorkDays(days)
	return s, nil
}

func (r *PostgresRepository) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return Schedule{}, pgErr(err)
	}
	return s, nil
}

func (r *PostgresRepository) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO schedules (id, name, entry_time, exit_time, tolerance_minutes, work_days, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`, s.ID, s.Name, s.EntryTime, s.ExitTime, s.ToleranceMinutes, encodeWorkDays(s.WorkDays), s.Active)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return Schedule{}, pgErr(err)
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE schedules SET name = $2, entry_time = $3, exit_time = $4, tolerance_minutes = $5,
			work_days = $6, active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, s.ID, s.Name, s.EntryTime, s.ExitTime, s.ToleranceMinutes, encodeWorkDays(s.WorkDays), s.Active)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return Schedule{}, pgErr(err)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteSchedule(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id))
}

const establishmentColumns = `id, name, address, timezone, active, created_at, updated_at`

func scanEstablishment(row rowScanner) (Establishment, error) {
	var e Establishment
	err := row.Scan(&e.ID, &e.Name, &e.Address, &e.Timezone, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *PostgresRepository) GetEstablishment(ctx context.Context, id string) (Establishment, error) {
	e, err := scanEstablishment(r.db.QueryRowContext(ctx, `SELECT `+establishmentColumns+` FROM establishments WHERE id = $1`, id))
	if err != nil {
		return Establishment{}, pgErr(err)
	}
	return e, nil
}

func (r *PostgresRepository) ListEstablishments(ctx context.Context) ([]Establishment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+establishmentColumns+` FROM establishments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Establishment{}
	for rows.Next() {
		e, err := scanEstablishment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO establishments (id, name, address, timezone, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at
	`, e.ID, e.Name, e.Address, e.Timezone, e.Active)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return Establishment{}, pgErr(err)
	}
	return e, nil
}

func (r *PostgresRepository) UpdateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE establishments SET name = $2, address = $3, timezone = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, e.ID, e.Name, e.Address, e.Timezone, e.Active)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return Establishment{}, pgErr(err)
	}
	return e, nil
}

func (r *PostgresRepository) DeleteEstablishment(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, `DELETE FROM establishments WHERE id = $1`, id))
}

const eventColumns = `id, user_id, establishment_id, device_id, type, date, time, status, minutes_late,
	confidence, notification_sent, occurred_at, created_at`

func scanEvent(row rowScanner) (Event, error) {
	var evt Event
	err := row.Scan(&evt.ID, &evt.UserID, &evt.EstablishmentID, &evt.DeviceID, &evt.Type, &evt.Date, &evt.Time,
		&evt.Status, &evt.MinutesLate, &evt.Confidence, &evt.NotificationSent, &evt.OccurredAt, &evt.CreatedAt)
	return evt, err
}

// InsertEvent writes a new event.
func (r *PostgresRepository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO marcajes (id, user_id, establishment_id, device_id, type, date, time, status, minutes_late,
			confidence, notification_sent, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`, evt.ID, evt.UserID, evt.EstablishmentID, evt.DeviceID, evt.Type, evt.Date, evt.Time, evt.Status,
		evt.MinutesLate, evt.Confidence, evt.NotificationSent, evt.OccurredAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, pgErr(err)
	}
	return evt, nil
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id string) (Event, error) {
	evt, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM marcajes WHERE id = $1`, id))
	if err != nil {
		return Event{}, pgErr(err)
	}
	return evt, nil
}

func (r *PostgresRepository) RecentEvent(ctx context.Context, userID string, typ EventType, since time.Time) (*Event, error) {
	evt, err := scanEvent(r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM marcajes
		WHERE user_id = $1 AND type = $2 AND occurred_at >= $3
		ORDER BY occurred_at DESC
		LIMIT 1
	`, userID, typ, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// ListEvents returns events matching f, newest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = ", f.UserID)
	}
	if f.EstablishmentID != "" {
		w.add("establishment_id = ", f.EstablishmentID)
	}
	if f.DeviceID != "" {
		w.add("device_id = ", f.DeviceID)
	}
	if f.Type != "" {
		w.add("type = ", f.Type)
	}
	if f.Status != "" {
		w.add("status = ", f.Status)
	}
	if f.From != "" {
		w.add("date >= ", f.From)
	}
	if f.To != "" {
		w.add("date <= ", f.To)
	}
	query := `SELECT ` + eventColumns + ` FROM marcajes` + w.sql() + ` ORDER BY occurred_at DESC`
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Event{}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) MarkNotified(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, `UPDATE marcajes SET notification_sent = TRUE WHERE id = $1`, id))
}

func (r *PostgresRepository) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at FROM admins WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return Admin{}, pgErr(err)
	}
	return a, nil
}

func (r *PostgresRepository) UpsertAdmin(ctx context.Context, a Admin) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, email, name, password_hash)
		VALUES ($1, lower($2), $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash
	`, a.ID, a.Email, a.Name, a.PasswordHash)
	return err
}

// UpsertDevice ensures a device record exists.
func (r *PostgresRepository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return err
}

func (r *PostgresRepository) RefreshTokenActive(ctx context.Context, token string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token = $1 AND NOT revoked AND expires_at > NOW())
	`, token).Scan(&ok)
	return ok, err
}

// RevokeRefreshToken marks a token revoked.
func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// where accumulates AND-ed predicates with positional placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, expr+"$"+strconv.Itoa(len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
