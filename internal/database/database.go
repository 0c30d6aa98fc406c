package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/migrations"
	"whatslog/internal/models"
	"whatslog/internal/processor"
	"whatslog/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrInstanceNameTaken is returned when another account already owns the
	// instance name.
	ErrInstanceNameTaken = errors.New("instance name already taken")
	// ErrUsernameTaken is returned when creating an account with a used username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrAccountNotFound is returned by updates addressing a missing account.
	ErrAccountNotFound = errors.New("account not found")
)

type Database struct {
	db     *sql.DB
	cipher *columnCipher
}

func New(ctx context.Context, cfg models.DatabaseConfig) (*Database, error) {
	dbPath := cfg.Path
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	busyTimeout := cfg.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = constants.DefaultDatabaseBusyMs
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", dbPath, busyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConnections
	if maxOpen <= 0 {
		maxOpen = constants.DefaultMaxOpenConnections
	}
	maxIdle := cfg.MaxIdleConnections
	if maxIdle <= 0 {
		maxIdle = constants.DefaultMaxIdleConnections
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	closeWith := func(err error, format string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf(format+": %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf(format+": %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, closeWith(err, "failed to ping database")
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		return nil, closeWith(err, "failed to initialize schema")
	}

	enc, err := newColumnCipher(cipherSettingsFromEnv())
	if err != nil {
		return nil, closeWith(err, "failed to initialize column encryption")
	}

	return &Database{db: db, cipher: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Account operations

func (d *Database) CreateAccount(ctx context.Context, username, name string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	id := uuid.NewString()
	err := withBusyRetry(ctx, "create account", func() error {
		_, err := d.db.ExecContext(ctx, InsertAccountQuery, id, username, name)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return d.GetAccount(ctx, id)
}

// GetAccount returns nil, nil when the account does not exist.
func (d *Database) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return d.queryAccount(ctx, SelectAccountByIDQuery, id)
}

func (d *Database) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return d.queryAccount(ctx, SelectAccountByUsernameQuery, username)
}

// FindAccountByInstance resolves the account owning instanceName by exact
// match. It returns nil, nil when no account owns it.
func (d *Database) FindAccountByInstance(ctx context.Context, instanceName string) (*models.Account, error) {
	if instanceName == "" {
		return nil, nil
	}
	return d.queryAccount(ctx, SelectAccountByInstanceQuery, instanceName)
}

func (d *Database) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return d.queryAccounts(ctx, SelectAccountsQuery)
}

// ListAccountsPendingInstance returns accounts whose instance exists but is
// not connected.
func (d *Database) ListAccountsPendingInstance(ctx context.Context) ([]*models.Account, error) {
	return d.queryAccounts(ctx, SelectAccountsPendingInstanceQuery)
}

func (d *Database) DeleteAccount(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, DeleteAccountQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return expectAffected(res)
}

// SetInstanceState replaces the account's instance state. OPEN states are
// stored without pairing artifacts.
func (d *Database) SetInstanceState(ctx context.Context, accountID string, state models.InstanceState) error {
	state = state.Normalized()

	qr, err := d.cipher.sealNullable(state.QRImage)
	if err != nil {
		return fmt.Errorf("failed to encrypt QR image: %w", err)
	}
	code, err := d.cipher.sealNullable(state.PairingCode)
	if err != nil {
		return fmt.Errorf("failed to encrypt pairing code: %w", err)
	}

	var res sql.Result
	err = withBusyRetry(ctx, "set instance state", func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, UpdateInstanceStateQuery,
			state.InstanceName, string(state.Status), qr, code, accountID)
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrInstanceNameTaken
		}
		return fmt.Errorf("failed to set instance state: %w", err)
	}
	return expectAffected(res)
}

// UpdateInstanceStatus changes only the status, leaving the QR image and
// pairing code as they are unless the new status is OPEN.
func (d *Database) UpdateInstanceStatus(ctx context.Context, accountID string, status models.InstanceStatus) error {
	var res sql.Result
	err := withBusyRetry(ctx, "update instance status", func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, UpdateInstanceStatusQuery, string(status), accountID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	return expectAffected(res)
}

func (d *Database) ClearInstanceState(ctx context.Context, accountID string) error {
	var res sql.Result
	err := withBusyRetry(ctx, "clear instance state", func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, ClearInstanceStateQuery, accountID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to clear instance state: %w", err)
	}
	return expectAffected(res)
}

func (d *Database) queryAccount(ctx context.Context, query string, arg interface{}) (*models.Account, error) {
	account, err := d.scanAccount(d.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (d *Database) queryAccounts(ctx context.Context, query string) ([]*models.Account, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := d.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account      models.Account
		instanceName sql.NullString
		status       string
		qr, code     sql.NullString
	)

	if err := row.Scan(&account.ID, &account.Username, &account.Name, &instanceName,
		&status, &qr, &code, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err
	}

	if instanceName.Valid {
		name := instanceName.String
		account.Instance.InstanceName = &name
	}
	account.Instance.Status = models.InstanceStatus(status)

	var err error
	if account.Instance.QRImage, err = d.cipher.openNullable(qr); err != nil {
		return nil, fmt.Errorf("failed to decrypt QR image: %w", err)
	}
	if account.Instance.PairingCode, err = d.cipher.openNullable(code); err != nil {
		return nil, fmt.Errorf("failed to decrypt pairing code: %w", err)
	}
	return &account, nil
}

// Message operations

// MessageExists is the fast-path duplicate check.
func (d *Database) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, MessageExistsQuery, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return true, nil
}

// InsertMessageIfAbsent stores msg unless a message with the same external id
// exists. inserted is false when the row already existed; that is not an error.
func (d *Database) InsertMessageIfAbsent(ctx context.Context, msg *models.CanonicalMessage) (stored *models.StoredMessage, inserted bool, err error) {
	if msg == nil || msg.ExternalID == "" {
		return nil, false, fmt.Errorf("message external id is required")
	}
	if msg.OwnerID == "" {
		return nil, false, fmt.Errorf("message owner is required")
	}

	now := time.Now().UTC()
	createdAt := now
	if msg.CreatedAt != nil {
		createdAt = msg.CreatedAt.UTC()
	}

	stored = &models.StoredMessage{
		ID:           uuid.NewString(),
		ExternalID:   msg.ExternalID,
		Content:      msg.Content,
		SenderName:   msg.SenderName,
		SenderNumber: msg.SenderNumber,
		InstanceName: msg.InstanceName,
		Type:         msg.Type,
		Direction:    msg.Direction,
		OwnerID:      msg.OwnerID,
		CreatedAt:    createdAt,
		ReceivedAt:   now,
	}

	content, err := d.cipher.sealNullable(msg.Content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt content: %w", err)
	}
	senderName, err := d.cipher.sealNullable(msg.SenderName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt sender name: %w", err)
	}
	senderNumber, err := d.cipher.sealLookup(msg.SenderNumber)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt sender number: %w", err)
	}

	var res sql.Result
	err = withBusyRetry(ctx, "insert message", func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, InsertMessageIfAbsentQuery,
			stored.ID, stored.ExternalID, content, senderName, senderNumber, stored.InstanceName,
			string(stored.Type), string(stored.Direction), stored.OwnerID,
			createdAt.UnixMilli(), now.UnixMilli())
		return execErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	return stored, true, nil
}

// GetMessageByExternalID returns nil, nil when no message matches.
func (d *Database) GetMessageByExternalID(ctx context.Context, externalID string) (*models.StoredMessage, error) {
	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, SelectMessageByExternalIDQuery, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListConversation returns one contact's messages for the day starting at
// day (UTC), oldest first.
func (d *Database) ListConversation(ctx context.Context, ownerID, senderNumber string, day time.Time, limit int) ([]*models.StoredMessage, error) {
	if limit <= 0 || limit > constants.MaxMessagesPerQuery {
		limit = constants.MaxMessagesPerQuery
	}
	from, to := dayBounds(day)

	lookup, err := d.cipher.sealLookup(senderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt sender number: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, SelectConversationQuery, ownerID, lookup, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.StoredMessage
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// ListContacts summarizes the senders of the owner's messages on day (UTC),
// most recent first.
func (d *Database) ListContacts(ctx context.Context, ownerID string, day time.Time) ([]models.ContactSummary, error) {
	from, to := dayBounds(day)

	rows, err := d.db.QueryContext(ctx, SelectContactsForDayQuery, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.ContactSummary
	for rows.Next() {
		var (
			summary      models.ContactSummary
			senderNumber string
			senderName   sql.NullString
			lastMs       int64
		)
		if err := rows.Scan(&senderNumber, &senderName, &summary.MessageCount, &lastMs); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if summary.SenderNumber, err = d.cipher.open(senderNumber); err != nil {
			return nil, fmt.Errorf("failed to decrypt sender number: %w", err)
		}
		if summary.SenderName, err = d.cipher.openNullable(senderName); err != nil {
			return nil, fmt.Errorf("failed to decrypt sender name: %w", err)
		}
		summary.DisplayName = processor.FormatDisplayName(summary.SenderName, summary.SenderNumber)
		summary.LastMessageAt = time.UnixMilli(lastMs).UTC()
		contacts = append(contacts, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}

// ListMessageDates returns the UTC days with stored messages, newest first.
func (d *Database) ListMessageDates(ctx context.Context, ownerID string) ([]models.DaySummary, error) {
	rows, err := d.db.QueryContext(ctx, SelectMessageDatesQuery, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message dates: %w", err)
	}
	defer rows.Close()

	var days []models.DaySummary
	for rows.Next() {
		var day models.DaySummary
		if err := rows.Scan(&day.Date, &day.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan message date: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message dates: %w", err)
	}
	return days, nil
}

// CleanupOldRecords deletes messages created more than retentionDays ago.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	res, err := d.db.ExecContext(ctx, DeleteMessagesBeforeQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}
	return deleted, nil
}

func (d *Database) scanMessage(row rowScanner) (*models.StoredMessage, error) {
	var (
		msg                 models.StoredMessage
		content, senderName sql.NullString
		senderNumber        string
		msgType, direction  string
		createdMs, recvMs   int64
	)

	if err := row.Scan(&msg.ID, &msg.ExternalID, &content, &senderName, &senderNumber,
		&msg.InstanceName, &msgType, &direction, &msg.OwnerID, &createdMs, &recvMs); err != nil {
		return nil, err
	}

	var err error
	if msg.Content, err = d.cipher.openNullable(content); err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}
	if msg.SenderName, err = d.cipher.openNullable(senderName); err != nil {
		return nil, fmt.Errorf("failed to decrypt sender name: %w", err)
	}
	if msg.SenderNumber, err = d.cipher.open(senderNumber); err != nil {
		return nil, fmt.Errorf("failed to decrypt sender number: %w", err)
	}

	msg.Type = models.MessageType(msgType)
	msg.Direction = models.Direction(direction)
	msg.CreatedAt = time.UnixMilli(createdMs).UTC()
	msg.ReceivedAt = time.UnixMilli(recvMs).UTC()
	return &msg, nil
}

func dayBounds(day time.Time) (int64, int64) {
	y, m, dd := day.UTC().Date()
	start := time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
	return start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
