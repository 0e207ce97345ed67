/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Order queries
	queryInsertOrder = `
		INSERT INTO orders (
			order_hash, maker, src_ledger, dst_ledger, hashlock, order_json,
			status, reason, resolver, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOrder = `
		SELECT order_hash, order_json, status, reason, resolver, disclosed_at, version, created_at, updated_at
		FROM orders
		WHERE order_hash = ?`

	queryListOrders = `
		SELECT order_hash, order_json, status, reason, resolver, disclosed_at, version, created_at, updated_at
		FROM orders
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryActiveOrders = `
		SELECT order_hash, order_json, status, reason, resolver, disclosed_at, version, created_at, updated_at
		FROM orders
		WHERE status NOT IN ('completed', 'expired', 'cancelled', 'failed')
		ORDER BY created_at`

	queryTakeOrder = `
		UPDATE orders
		SET resolver = ?, version = version + 1, updated_at = ?
		WHERE order_hash = ? AND (resolver = '' OR resolver = ?)`

	queryUpdateOrderStatus = `
		UPDATE orders
		SET status = ?, reason = ?, version = version + 1, updated_at = ?
		WHERE order_hash = ? AND version = ?`

	queryMarkDisclosed = `
		UPDATE orders
		SET disclosed_at = COALESCE(disclosed_at, ?), updated_at = ?
		WHERE order_hash = ?`

	queryPurgeEscrows = `
		DELETE FROM escrows
		WHERE order_hash IN (
			SELECT order_hash FROM orders
			WHERE status IN ('completed', 'expired', 'cancelled', 'failed') AND updated_at < ?
		)`

	queryPurgeOrders = `
		DELETE FROM orders
		WHERE status IN ('completed', 'expired', 'cancelled', 'failed') AND updated_at < ?`

	// Escrow queries
	queryUpsertEscrow = `
		INSERT INTO escrows (ledger, id, order_hash, side, hashlock, state, record_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ledger, id) DO UPDATE SET
			state = excluded.state,
			record_json = excluded.record_json,
			updated_at = excluded.updated_at`

	queryGetEscrows = `
		SELECT record_json
		FROM escrows
		WHERE order_hash = ?
		ORDER BY side`

	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE account = ? AND asset = ?`

	queryGetAllAccountBalances = `
		SELECT id, account, asset, balance, last_transaction_id, version, updated_at
		FROM account_balances
		WHERE account = ? AND balance != '0'
		ORDER BY asset`

	queryReconcileAmounts = `
		SELECT amount
		FROM transactions
		WHERE account = ? AND asset = ?`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE reference = ? LIMIT 1`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE account = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, account, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, account, asset, entry_type, amount, balance_before, balance_after,
			reference, escrow_id, order_hash, memo, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, account, asset, entry_type, amount, balance_before, balance_after,
		          reference, escrow_id, order_hash, memo, created_at`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE account = ? AND asset = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetEscrowTransactions = `
		SELECT id, account, asset, entry_type, amount, balance_before, balance_after,
		       reference, escrow_id, order_hash, memo, created_at
		FROM transactions
		WHERE escrow_id = ?
		ORDER BY created_at, rowid`
)
