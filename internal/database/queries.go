package database

// Account queries
const (
	accountColumns = `id, username, name, instance_name, instance_status, instance_qr, pairing_code, created_at, updated_at`

	InsertAccountQuery = `
		INSERT INTO accounts (id, username, name, instance_status)
		VALUES (?, ?, ?, '')
	`

	SelectAccountByIDQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	SelectAccountByUsernameQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`

	SelectAccountByInstanceQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE instance_name = ?`

	SelectAccountsQuery = `SELECT ` + accountColumns + ` FROM accounts ORDER BY username`

	SelectAccountsPendingInstanceQuery = `
		SELECT ` + accountColumns + ` FROM accounts
		WHERE instance_name IS NOT NULL AND instance_status != 'OPEN'
		ORDER BY updated_at
	`

	DeleteAccountQuery = `DELETE FROM accounts WHERE id = ?`

	UpdateInstanceStateQuery = `
		UPDATE accounts
		SET instance_name = ?, instance_status = ?, instance_qr = ?, pairing_code = ?
		WHERE id = ?
	`

	// Recording OPEN also drops the pairing artifacts.
	UpdateInstanceStatusQuery = `
		UPDATE accounts
		SET instance_status = ?1,
			instance_qr = CASE WHEN ?1 = 'OPEN' THEN NULL ELSE instance_qr END,
			pairing_code = CASE WHEN ?1 = 'OPEN' THEN NULL ELSE pairing_code END
		WHERE id = ?2 AND instance_name IS NOT NULL
	`

	ClearInstanceStateQuery = `
		UPDATE accounts
		SET instance_name = NULL, instance_status = '', instance_qr = NULL, pairing_code = NULL
		WHERE id = ?
	`
)

// Message queries
const (
	messageColumns = `id, external_id, content, sender_name, sender_number, instance_name,
		message_type, direction, owner_id, created_at, received_at`

	MessageExistsQuery = `SELECT 1 FROM messages WHERE external_id = ? LIMIT 1`

	// The UNIQUE constraint on external_id decides races between concurrent
	// deliveries; the loser inserts nothing.
	InsertMessageIfAbsentQuery = `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING
	`

	SelectMessageByExternalIDQuery = `SELECT ` + messageColumns + ` FROM messages WHERE external_id = ?`

	SelectConversationQuery = `
		SELECT ` + messageColumns + ` FROM messages
		WHERE owner_id = ? AND sender_number = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	SelectContactsForDayQuery = `
		SELECT m.sender_number,
			(SELECT s.sender_name FROM messages s
				WHERE s.owner_id = m.owner_id AND s.sender_number = m.sender_number
					AND s.sender_name IS NOT NULL
				ORDER BY s.created_at DESC LIMIT 1) AS sender_name,
			COUNT(*) AS message_count,
			MAX(m.created_at) AS last_message_at
		FROM messages m
		WHERE m.owner_id = ? AND m.created_at >= ? AND m.created_at < ?
		GROUP BY m.sender_number
		ORDER BY last_message_at DESC
	`

	SelectMessageDatesQuery = `
		SELECT date(created_at / 1000, 'unixepoch') AS day, COUNT(*) AS message_count
		FROM messages
		WHERE owner_id = ?
		GROUP BY day
		ORDER BY day DESC
	`

	DeleteMessagesBeforeQuery = `DELETE FROM messages WHERE created_at < ?`
)
