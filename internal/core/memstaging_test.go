package core

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// sliceRows is a RowSource over fixed records numbered from line 2.
type sliceRows struct {
	rows [][]string
	err  error
}

func rowsOf(rows ...[]string) sliceRows { return sliceRows{rows: rows} }

func (r sliceRows) All() iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for i, rec := range r.rows {
			if !yield(i+2, rec) {
				return
			}
		}
	}
}

func (r sliceRows) Err() error { return r.err }

// memStaging stands in for one session's staging pair. Batched inserts
// become visible in source on commit, the projection statement copies the
// corresponding columns into target and the unique check is answered from
// target.
type memStaging struct {
	header        []string
	corresponding []string
	uniqueField   string

	source [][]pgtype.Text
	target []map[string]pgtype.Text

	execs   []string
	batches [][]*pgx.QueuedQuery
	txs     []*memTx

	batchErr  error
	failBatch int
}

func newMemStaging(s *Session) *memStaging {
	m := &memStaging{}
	m.bind(s)
	return m
}

func (m *memStaging) bind(s *Session) {
	m.header = s.Structure.Header
	m.corresponding = s.Structure.Corresponding
	m.uniqueField = s.Config.UniqueIDField
}

func (m *memStaging) lastTx() *memTx {
	if len(m.txs) == 0 {
		return nil
	}
	return m.txs[len(m.txs)-1]
}

// queued returns the arguments of every queued insert in order.
func (m *memStaging) queued() [][]any {
	var out [][]any
	for _, b := range m.batches {
		for _, q := range b {
			out = append(out, q.Arguments)
		}
	}
	return out
}

func (m *memStaging) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	if !strings.Contains(sql, "SELECT") || !strings.HasPrefix(sql, "INSERT INTO") {
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}

	pos := make(map[string]int, len(m.header))
	for i, c := range m.header {
		pos[c] = i
	}
	for _, rec := range m.source {
		row := make(map[string]pgtype.Text, len(m.corresponding))
		for _, c := range m.corresponding {
			row[c] = rec[pos[c]]
		}
		m.target = append(m.target, row)
	}
	return pgconn.NewCommandTag("INSERT 0 " + strconv.Itoa(len(m.source))), nil
}

func (m *memStaging) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("memStaging: Query not supported")
}

func (m *memStaging) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if !strings.Contains(sql, "count(DISTINCT") {
		return errRow{errors.New("memStaging: unexpected query " + sql)}
	}
	seen := make(map[string]bool)
	unique := true
	for _, row := range m.target {
		v := row[m.uniqueField]
		if !v.Valid {
			continue
		}
		if seen[v.String] {
			unique = false
		}
		seen[v.String] = true
	}
	return boolRow(unique)
}

func (m *memStaging) Begin(context.Context) (pgx.Tx, error) {
	tx := &memTx{db: m}
	m.txs = append(m.txs, tx)
	return tx, nil
}

type boolRow bool

func (r boolRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("boolRow: expected one destination")
	}
	p, ok := dest[0].(*bool)
	if !ok {
		return errors.New("boolRow: destination is not *bool")
	}
	*p = bool(r)
	return nil
}

// memTx holds sent rows until Commit.
type memTx struct {
	pgx.Tx
	db         *memStaging
	pending    [][]pgtype.Text
	committed  bool
	rolledBack bool
}

func (t *memTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.db.batches = append(t.db.batches, b.QueuedQueries)
	if t.db.batchErr != nil && len(t.db.batches) == t.db.failBatch {
		return memResults{err: t.db.batchErr}
	}
	for _, q := range b.QueuedQueries {
		rec := make([]pgtype.Text, len(q.Arguments))
		for i, a := range q.Arguments {
			rec[i] = a.(pgtype.Text)
		}
		t.pending = append(t.pending, rec)
	}
	return memResults{}
}

func (t *memTx) Commit(context.Context) error {
	t.committed = true
	t.db.source = append(t.db.source, t.pending...)
	t.pending = nil
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
		t.pending = nil
	}
	return nil
}

type memResults struct {
	pgx.BatchResults
	err error
}

func (r memResults) Close() error { return r.err }
