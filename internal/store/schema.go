package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id    UUID PRIMARY KEY,
	balance    NUMERIC(28, 8) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
	id             UUID PRIMARY KEY,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	is_bankrupt    BOOLEAN NOT NULL DEFAULT FALSE,
	bankrupt_count INT NOT NULL DEFAULT 0,
	dividend_rate  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tickers (
	id          VARCHAR(32) PRIMARY KEY,
	symbol      VARCHAR(32) NOT NULL,
	name        TEXT NOT NULL,
	market_type VARCHAR(16) NOT NULL CHECK (market_type IN ('KRX','US','CRYPTO','HUMAN')),
	currency    VARCHAR(8) NOT NULL CHECK (currency IN ('KRW','USD')),
	is_active   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS portfolios (
	user_id       UUID NOT NULL,
	ticker_id     VARCHAR(32) NOT NULL,
	quantity      NUMERIC(28, 8) NOT NULL,
	average_price NUMERIC(28, 8) NOT NULL,
	PRIMARY KEY (user_id, ticker_id)
);
CREATE INDEX IF NOT EXISTS idx_portfolios_ticker ON portfolios(ticker_id);

CREATE TABLE IF NOT EXISTS orders (
	id                  UUID PRIMARY KEY,
	user_id             UUID NOT NULL,
	ticker_id           VARCHAR(32) NOT NULL,
	side                VARCHAR(4) NOT NULL CHECK (side IN ('BUY','SELL')),
	type                VARCHAR(16) NOT NULL,
	quantity            NUMERIC(28, 8) NOT NULL,
	status              VARCHAR(16) NOT NULL,
	unfilled_quantity   NUMERIC(28, 8) NOT NULL,
	target_price        NUMERIC(28, 8) NOT NULL DEFAULT 0,
	stop_price          NUMERIC(28, 8) NOT NULL DEFAULT 0,
	trailing_gap        NUMERIC(28, 8) NOT NULL DEFAULT 0,
	high_water_mark     NUMERIC(28, 8) NOT NULL DEFAULT 0,
	realized_pnl        NUMERIC(28, 8),
	price               NUMERIC(28, 8) NOT NULL DEFAULT 0,
	fee                 NUMERIC(28, 8) NOT NULL DEFAULT 0,
	fail_reason         TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	filled_at           TIMESTAMPTZ,
	cancelled_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_orders_ticker_status ON orders(ticker_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

-- outbox: every wallet/portfolio/order mutation stages one row here in the
-- same transaction, so AuditSink's drain loop never reads a partially
-- committed state (I1/I2).
CREATE TABLE IF NOT EXISTS audit_outbox (
	id               BIGSERIAL PRIMARY KEY,
	event_type       VARCHAR(32) NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	user_id          UUID,
	ticker_id        VARCHAR(32),
	order_id         UUID,
	prev_balance     NUMERIC(28, 8),
	new_balance      NUMERIC(28, 8),
	wallet_reason    VARCHAR(32),
	portfolio_action VARCHAR(16),
	prev_quantity    NUMERIC(28, 8),
	new_quantity     NUMERIC(28, 8),
	prev_avg_price   NUMERIC(28, 8),
	new_avg_price    NUMERIC(28, 8),
	portfolio_reason TEXT,
	prev_status      VARCHAR(16),
	new_status       VARCHAR(16),
	status_reason    TEXT,
	drained          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending ON audit_outbox(id) WHERE NOT drained;

-- trade_queue: durable FIFO for accepted MARKET orders, consumed with
-- SELECT ... FOR UPDATE SKIP LOCKED to give one worker at a time a row
-- (see DESIGN.md for why this replaces a broker client).
CREATE TABLE IF NOT EXISTS trade_queue (
	id          BIGSERIAL PRIMARY KEY,
	order_id    UUID NOT NULL,
	user_id     UUID NOT NULL,
	ticker_id   VARCHAR(32) NOT NULL,
	side        VARCHAR(4) NOT NULL,
	quantity    NUMERIC(28, 8) NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	locked_by   TEXT,
	locked_at   TIMESTAMPTZ,
	attempts    INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trade_queue_unlocked ON trade_queue(id) WHERE locked_by IS NULL;

CREATE TABLE IF NOT EXISTS runtime_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- candles: 1m/1d OHLCV buckets upserted by HumanMatcher after every
-- settled P2P cross (§4.4 step 4).
CREATE TABLE IF NOT EXISTS candles (
	ticker_id    VARCHAR(32) NOT NULL,
	interval     VARCHAR(4) NOT NULL CHECK (interval IN ('1m','1d')),
	bucket_start TIMESTAMPTZ NOT NULL,
	open         NUMERIC(28, 8) NOT NULL,
	high         NUMERIC(28, 8) NOT NULL,
	low          NUMERIC(28, 8) NOT NULL,
	close        NUMERIC(28, 8) NOT NULL,
	volume       NUMERIC(28, 8) NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker_id, interval, bucket_start)
);
`
