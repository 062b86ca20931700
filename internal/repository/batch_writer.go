package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/reconcile"

	"go.uber.org/zap"
)

// WriterOptions batch persistence tuning
type WriterOptions struct {
	InsertBatchSize     int
	UpdateBatchSize     int
	LargeTableThreshold int
	StaleThreshold      time.Duration
	MaxRetries          int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
}

// DefaultWriterOptions returns the production defaults
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		InsertBatchSize:     100,
		UpdateBatchSize:     100,
		LargeTableThreshold: 100000,
		StaleThreshold:      time.Hour,
		MaxRetries:          3,
		BackoffBase:         200 * time.Millisecond,
		BackoffMax:          5 * time.Second,
	}
}

// PersistenceResult outcome of applying one plan. Rows in FailedIDs (identity
// key strings) were logged and skipped.
type PersistenceResult struct {
	InsertedCount int
	UpdatedCount  int
	ClosedCount   int
	FailedIDs     []string
}

type counts struct {
	inserted, updated, closed int
}

func (r *PersistenceResult) add(c counts) {
	r.InsertedCount += c.inserted
	r.UpdatedCount += c.updated
	r.ClosedCount += c.closed
}

// BatchWriter applies reconciliation plans with multi-row statements
type BatchWriter struct {
	db      DBTX
	inmates *InmateRepository
	opts    WriterOptions
	logger  *zap.Logger
}

// NewBatchWriter creates a writer bound to one session
func NewBatchWriter(db DBTX, opts WriterOptions, logger *zap.Logger) *BatchWriter {
	def := DefaultWriterOptions()
	if opts.InsertBatchSize <= 0 {
		opts.InsertBatchSize = def.InsertBatchSize
	}
	if opts.UpdateBatchSize <= 0 {
		opts.UpdateBatchSize = def.UpdateBatchSize
	}
	if opts.LargeTableThreshold <= 0 {
		opts.LargeTableThreshold = def.LargeTableThreshold
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &BatchWriter{
		db:      db,
		inmates: NewInmateRepository(db, logger),
		opts:    opts,
		logger:  logger,
	}
}

// Apply writes inserts, then updates, then closures. Statement failures fall
// back to row-by-row writes; only context cancellation and failures of the
// pre-filter reads are returned as errors.
func (w *BatchWriter) Apply(ctx context.Context, plan *reconcile.Plan) (*PersistenceResult, error) {
	res := &PersistenceResult{}
	if plan == nil || plan.Empty() {
		return res, nil
	}

	inserts := plan.Inserts
	updates := plan.Updates
	upsert := true

	if len(inserts) > 0 {
		var total int
		err := w.withRetry(ctx, "count", func() error {
			var err error
			total, err = w.inmates.CountForJail(ctx, plan.JailID)
			return err
		})
		if err != nil {
			return res, err
		}
		if total > w.opts.LargeTableThreshold {
			upsert = false
			var existing []reconcile.Update
			inserts, existing, err = w.prefilter(ctx, plan.JailID, inserts)
			if err != nil {
				return res, err
			}
			updates = append(append([]reconcile.Update(nil), updates...), existing...)
		}
	}

	insertExec := w.execInsert
	if upsert {
		insertExec = w.execUpsert
	}
	if err := applyChunks(ctx, w, "insert", inserts, w.opts.InsertBatchSize, recordKey, insertExec, res); err != nil {
		return res, err
	}

	var touch, display []reconcile.Update
	for _, u := range updates {
		if u.TouchLastSeen {
			touch = append(touch, u)
		} else {
			display = append(display, u)
		}
	}
	if err := applyChunks(ctx, w, "update", touch, w.opts.UpdateBatchSize, updateKey, w.execUpdateSeen, res); err != nil {
		return res, err
	}
	if err := applyChunks(ctx, w, "update", display, w.opts.UpdateBatchSize, updateKey, w.execUpdateDisplay, res); err != nil {
		return res, err
	}

	if err := applyChunks(ctx, w, "close", plan.Closures, w.opts.UpdateBatchSize, closureKey, w.execClose, res); err != nil {
		return res, err
	}

	w.logger.Debug("Plan applied",
		zap.String("jail_id", plan.JailID),
		zap.Bool("upsert", upsert),
		zap.Int("inserted", res.InsertedCount),
		zap.Int("updated", res.UpdatedCount),
		zap.Int("closed", res.ClosedCount),
		zap.Int("failed", len(res.FailedIDs)),
	)
	return res, nil
}

// prefilter splits inserts into identities the table does not hold yet and
// updates of stored rows. A stored identity reappearing here is either a
// closed episode seen again, which reopens it, or a row written concurrently.
func (w *BatchWriter) prefilter(ctx context.Context, jailID string, inserts []models.InmateRecord) ([]models.InmateRecord, []reconcile.Update, error) {
	from, to := inserts[0].ArrestDate, inserts[0].ArrestDate
	for _, rec := range inserts[1:] {
		if rec.ArrestDate.Before(from) {
			from = rec.ArrestDate
		}
		if rec.ArrestDate.After(to) {
			to = rec.ArrestDate
		}
	}

	var existing map[models.IdentityKey]ExistingEpisode
	err := w.withRetry(ctx, "load keys", func() error {
		var err error
		existing, err = w.inmates.LoadExistingKeys(ctx, jailID, from, to)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var fresh []models.InmateRecord
	var updates []reconcile.Update
	for _, rec := range inserts {
		ep, ok := existing[rec.Key()]
		if !ok {
			fresh = append(fresh, rec)
			continue
		}
		rec.ID = ep.ID
		stale := ep.LastSeen == nil || (rec.LastSeen != nil && rec.LastSeen.Sub(*ep.LastSeen) > w.opts.StaleThreshold)
		if !stale {
			rec.LastSeen = ep.LastSeen
		}
		updates = append(updates, reconcile.Update{Record: rec, TouchLastSeen: stale, DisplayChanged: true})
	}
	return fresh, updates, nil
}

var insertColumns = []string{
	"jail_id", "name", "race", "sex", "dob", "cell_block", "arrest_date", "held_for_agency",
	"booking_charges", "is_juvenile", "release_date", "in_custody_date", "last_seen", "hidden", "mugshot",
}

func insertArgs(rec models.InmateRecord) []interface{} {
	return []interface{}{
		rec.JailID, rec.Name, rec.Race, rec.Sex, rec.DateOfBirth, rec.CellBlock, rec.ArrestDate,
		rec.HeldForAgency, rec.BookingCharges, rec.IsJuvenile, rec.ReleaseDate, rec.InCustodyDate,
		nullTime(rec.LastSeen), rec.Hidden, rec.Mugshot,
	}
}

func buildInsert(rows []models.InmateRecord, offset int) (string, []interface{}) {
	args := make([]interface{}, 0, offset+len(rows)*len(insertColumns))
	tuples := make([]string, 0, len(rows))
	for _, rec := range rows {
		tuples = append(tuples, placeholders(offset+len(args)+1, len(insertColumns), nil))
		args = append(args, insertArgs(rec)...)
	}
	query := fmt.Sprintf("INSERT INTO inmates (%s) VALUES %s",
		strings.Join(insertColumns, ", "), strings.Join(tuples, ", "))
	return query, args
}

// execUpsert resolves identity conflicts in the statement itself. The
// conflict branch reopens a closed episode and only moves last_seen forward
// once the stored value is older than the threshold.
func (w *BatchWriter) execUpsert(ctx context.Context, rows []models.InmateRecord) (counts, error) {
	query, args := buildInsert(rows, 1)
	query += `
		ON CONFLICT ON CONSTRAINT inmates_identity DO UPDATE SET
			cell_block = EXCLUDED.cell_block,
			held_for_agency = EXCLUDED.held_for_agency,
			booking_charges = EXCLUDED.booking_charges,
			is_juvenile = EXCLUDED.is_juvenile,
			release_date = EXCLUDED.release_date,
			mugshot = CASE WHEN EXCLUDED.mugshot <> '' THEN EXCLUDED.mugshot ELSE inmates.mugshot END,
			last_seen = CASE
				WHEN inmates.last_seen IS NULL OR inmates.last_seen < EXCLUDED.last_seen - make_interval(secs => $1)
				THEN EXCLUDED.last_seen
				ELSE inmates.last_seen
			END
		RETURNING (xmax = 0) AS inserted`
	args = append([]interface{}{w.opts.StaleThreshold.Seconds()}, args...)

	rs, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return counts{}, err
	}
	defer rs.Close()

	var c counts
	for rs.Next() {
		var inserted bool
		if err := rs.Scan(&inserted); err != nil {
			return counts{}, err
		}
		if inserted {
			c.inserted++
		} else {
			c.updated++
		}
	}
	return c, rs.Err()
}

func (w *BatchWriter) execInsert(ctx context.Context, rows []models.InmateRecord) (counts, error) {
	query, args := buildInsert(rows, 0)
	result, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return counts{}, err
	}
	n, err := result.RowsAffected()
	return counts{inserted: int(n)}, err
}

var updateCasts = []string{"bigint", "text", "text", "text", "boolean", "text", "text"}

func updateArgs(u reconcile.Update) []interface{} {
	rec := u.Record
	return []interface{}{rec.ID, rec.CellBlock, rec.HeldForAgency, rec.BookingCharges, rec.IsJuvenile, rec.Mugshot, rec.ReleaseDate}
}

const updateSet = `
		cell_block = v.cell_block,
		held_for_agency = v.held_for_agency,
		booking_charges = v.booking_charges,
		is_juvenile = v.is_juvenile,
		mugshot = CASE WHEN v.mugshot <> '' THEN v.mugshot ELSE i.mugshot END,
		release_date = v.release_date`

const updateValueColumns = "id, cell_block, held_for_agency, booking_charges, is_juvenile, mugshot, release_date"

func (w *BatchWriter) execUpdateSeen(ctx context.Context, rows []reconcile.Update) (counts, error) {
	casts := append(append([]string(nil), updateCasts...), "timestamptz")
	tuples := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(casts))
	for _, u := range rows {
		tuples = append(tuples, placeholders(len(args)+1, len(casts), casts))
		args = append(append(args, updateArgs(u)...), nullTime(u.Record.LastSeen))
	}
	query := `UPDATE inmates AS i SET` + updateSet + `,
		last_seen = v.last_seen
		FROM (VALUES ` + strings.Join(tuples, ", ") + `) AS v(` + updateValueColumns + `, last_seen)
		WHERE i.id = v.id`
	return w.execUpdate(ctx, query, args)
}

func (w *BatchWriter) execUpdateDisplay(ctx context.Context, rows []reconcile.Update) (counts, error) {
	tuples := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(updateCasts))
	for _, u := range rows {
		tuples = append(tuples, placeholders(len(args)+1, len(updateCasts), updateCasts))
		args = append(args, updateArgs(u)...)
	}
	query := `UPDATE inmates AS i SET` + updateSet + `
		FROM (VALUES ` + strings.Join(tuples, ", ") + `) AS v(` + updateValueColumns + `)
		WHERE i.id = v.id`
	return w.execUpdate(ctx, query, args)
}

func (w *BatchWriter) execUpdate(ctx context.Context, query string, args []interface{}) (counts, error) {
	result, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return counts{}, err
	}
	n, err := result.RowsAffected()
	return counts{updated: int(n)}, err
}

func (w *BatchWriter) execClose(ctx context.Context, rows []reconcile.Closure) (counts, error) {
	casts := []string{"bigint", "text"}
	tuples := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*2)
	for _, c := range rows {
		tuples = append(tuples, placeholders(len(args)+1, 2, casts))
		args = append(args, c.ID, c.ReleaseDate)
	}
	query := `UPDATE inmates AS i SET release_date = v.release_date
		FROM (VALUES ` + strings.Join(tuples, ", ") + `) AS v(id, release_date)
		WHERE i.id = v.id AND i.release_date = ''`

	result, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return counts{}, err
	}
	n, err := result.RowsAffected()
	return counts{closed: int(n)}, err
}

// placeholders renders "($start, $start+1, ...)", casting each when casts is set
func placeholders(start, n int, casts []string) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
		if casts != nil {
			b.WriteString("::" + casts[i])
		}
	}
	b.WriteByte(')')
	return b.String()
}

func recordKey(r models.InmateRecord) models.IdentityKey { return r.Key() }
func updateKey(u reconcile.Update) models.IdentityKey { return u.Record.Key() }
func closureKey(c reconcile.Closure) models.IdentityKey { return c.Key }

// applyChunks runs exec over size-bounded chunks. A chunk that still fails
// after retries is replayed one row at a time so a single bad row only costs
// itself.
func applyChunks[T any](
	ctx context.Context,
	w *BatchWriter,
	op string,
	items []T,
	size int,
	keyOf func(T) models.IdentityKey,
	exec func(context.Context, []T) (counts, error),
	res *PersistenceResult,
) error {
	for start := 0; start < len(items); start += size {
		chunk := items[start:min(start+size, len(items))]

		var got counts
		err := w.withRetry(ctx, op, func() error {
			var err error
			got, err = exec(ctx, chunk)
			return err
		})
		if err == nil {
			res.add(got)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		w.logger.Warn("Batch statement failed, writing rows individually",
			zap.String("op", op),
			zap.Int("rows", len(chunk)),
			zap.Error(err),
		)

		for _, item := range chunk {
			err := w.withRetry(ctx, op, func() error {
				var err error
				got, err = exec(ctx, []T{item})
				return err
			})
			if err == nil {
				res.add(got)
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			key := keyOf(item)
			if isUniqueViolation(err) {
				err = &models.PersistenceConflictError{Key: key, Err: err}
			}
			w.logger.Error("Row write failed",
				zap.String("op", op),
				zap.String("key", key.String()),
				zap.Error(err),
			)
			res.FailedIDs = append(res.FailedIDs, key.String())
		}
	}
	return nil
}

// withRetry retries transient failures with capped exponential backoff. A
// transient failure that outlives the retries comes back as
// *models.TransientPersistenceError.
func (w *BatchWriter) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := w.opts.BackoffBase
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= w.opts.MaxRetries {
			return &models.TransientPersistenceError{Op: op, Err: err}
		}

		w.logger.Warn("Transient persistence error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.opts.BackoffMax {
			backoff = w.opts.BackoffMax
		}
	}
}
