package eav

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Options — настройки движка; нулевые поля заменяются значениями DefaultOptions.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// OpTimeout применяется, если у контекста вызова нет дедлайна.
	OpTimeout time.Duration
	// CacheSize — ёмкость кэша эффективных атрибутов; 0 — из DefaultOptions, <0 — без кэша.
	CacheSize int
	MaxDepth  int
}

func DefaultOptions() Options {
	return Options{
		DefaultLimit: 50,
		MaxLimit:     1000,
		OpTimeout:    10 * time.Second,
		CacheSize:    256,
		MaxDepth:     DefaultMaxDepth,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = d.MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.OpTimeout == 0 {
		o.OpTimeout = d.OpTimeout
	}
	if o.CacheSize == 0 {
		o.CacheSize = d.CacheSize
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	return o
}

// Engine — фасад EAV: единственная точка входа для внешних вызовов.
// Каждая операция выполняется в своей транзакции; безопасен для горутин.
type Engine struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	opts   Options
	cache  *schemaCache
}

// New создаёт движок поверх открытого пула. logger == nil — без логов.
func New(db *sql.DB, logger *zap.SugaredLogger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts = opts.withDefaults()
	return &Engine{
		db:     db,
		logger: logger,
		opts:   opts,
		cache:  newSchemaCache(opts.CacheSize),
	}
}

// Ping проверяет доступность хранилища.
func (e *Engine) Ping(ctx context.Context) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return dbError(ctx, e.db.PingContext(ctx), "ping")
}

var (
	writeTxOptions  = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	readTxOptions   = &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}
	searchTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
)

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.opts.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.OpTimeout)
}

// Версия каталога. Схемная транзакция первым оператором поднимает версию и держит
// блокировку строки до коммита; пишущая берёт FOR SHARE и с ней не пересекается;
// читающая просто читает.
const (
	readVersionSQL = `select "version" from schema_version where "id" = 1`
	lockVersionSQL = readVersionSQL + ` for share`
	bumpVersionSQL = `update schema_version set "version" = "version" + 1 where "id" = 1 returning "version"`
)

// session — компоненты движка поверх одной транзакции.
type session struct {
	tx      *sql.Tx
	schema  *schemaStore
	values  *valueStore
	cache   *schemaCache
	gen     uint64
	version int64
}

// begin открывает сессию: читает версию каталога и решает, можно ли брать схему из кэша.
func (e *Engine) begin(ctx context.Context, tx *sql.Tx, opts *sql.TxOptions, schemaChange bool) (*session, error) {
	s := &session{
		tx:     tx,
		schema: &schemaStore{q: tx, maxDepth: e.opts.MaxDepth},
		values: &valueStore{q: tx},
	}
	stmt := lockVersionSQL
	switch {
	case schemaChange:
		stmt = bumpVersionSQL
	case opts.ReadOnly:
		stmt = readVersionSQL
	}
	if err := tx.QueryRowContext(ctx, stmt).Scan(&s.version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithHint(errors.Mark(errors.New("schema_version row is missing"), ErrInternal),
				"run `eavkit migrate`")
		}
		return nil, errors.Wrap(err, "read schema version")
	}
	if !schemaChange {
		if gen, ok := e.cache.observe(s.version); ok {
			s.cache = e.cache
			s.gen = gen
		}
	}
	return s, nil
}

// run выполняет fn в транзакции с таймаутом операции и приводит ошибку к видам движка.
// schemaChange — поднять версию каталога и после коммита сбросить кэш схемы.
func (e *Engine) run(ctx context.Context, op string, opts *sql.TxOptions, schemaChange bool, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var version int64
	err := inTx(ctx, e.db, opts, func(tx *sql.Tx) error {
		s, err := e.begin(ctx, tx, opts, schemaChange)
		if err != nil {
			return err
		}
		version = s.version
		return fn(ctx, s)
	})
	if err != nil {
		err = dbError(ctx, err, op)
		if !opts.ReadOnly {
			e.logger.Warnw("Transaction rolled back", "op", op, "error", err)
		}
		return err
	}
	if schemaChange {
		e.cache.purge(version)
		e.logger.Debugw("Schema version advanced", "op", op, "schema_version", version)
	}
	return nil
}

func (s *session) index(ctx context.Context) (typeIndex, error) {
	if ix, ok := s.cache.index(); ok {
		return ix, nil
	}
	ix, err := s.schema.index(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.putIndex(s.gen, ix)
	return ix, nil
}

// effective — эффективные атрибуты типа через кэш. Возвращаемые указатели общие,
// менять их нельзя.
func (s *session) effective(ctx context.Context, typeID string) ([]*Attribute, error) {
	if attrs, ok := s.cache.attributes(typeID); ok {
		return attrs, nil
	}
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := ix.chain(typeID, s.schema.maxDepth)
	if err != nil {
		return nil, err
	}
	own, err := s.schema.ownAttributesOf(ctx, typeIDs(chain))
	if err != nil {
		return nil, err
	}
	attrs := mergeEffective(chain, own)
	s.cache.putAttributes(s.gen, typeID, attrs)
	return attrs, nil
}

func (s *session) validator(ctx context.Context) (*validator, error) {
	ix, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	return &validator{q: s.tx, ix: ix}, nil
}

// normalizePage: limit 0 — по умолчанию, больше максимума — обрезаем до максимума.
func (e *Engine) normalizePage(limit, offset int) (int, int, error) {
	if limit < 0 {
		return 0, 0, invalidf("limit must be non-negative, got %d", limit)
	}
	if offset < 0 {
		return 0, 0, invalidf("offset must be non-negative, got %d", offset)
	}
	if limit == 0 {
		limit = e.opts.DefaultLimit
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}
	return limit, offset, nil
}

func ensureID(kind, id string) error {
	if id == "" {
		return errors.Wrapf(ErrInvalidArgument, "%s id is empty", kind)
	}
	return nil
}
