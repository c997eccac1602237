package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	trailing_pct REAL NOT NULL,
	trailing_stop REAL NOT NULL,
	highest_price REAL NOT NULL,
	max_hold INTEGER NOT NULL,
	current_price REAL NOT NULL,
	realized_pl REAL NOT NULL,
	fees REAL NOT NULL,
	signal_id TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	broker_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	kind TEXT NOT NULL,
	qty REAL NOT NULL,
	status TEXT NOT NULL,
	limit_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	filled_qty REAL NOT NULL,
	filled_price REAL NOT NULL,
	commission REAL NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	signal_id TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	fees REAL NOT NULL,
	reason TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	meta TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	realized_pl REAL NOT NULL,
	unrealized_pl REAL NOT NULL,
	drawdown_pct REAL NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS risk_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	day TEXT NOT NULL,
	session_start_equity REAL NOT NULL,
	day_start_equity REAL NOT NULL,
	peak_equity REAL NOT NULL,
	realized_pl REAL NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	halted INTEGER NOT NULL,
	halt_reason TEXT NOT NULL,
	halted_at DATETIME,
	cooldown TEXT NOT NULL,
	pending_exits TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`
