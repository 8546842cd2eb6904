package database

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate appends an upsert clause understood by both PostgreSQL and SQLite.
func (b *InsertBuilder) OnConflictUpdate(conflict []string, update ...string) *InsertBuilder {
	sets := make([]string, 0, len(update))
	for _, col := range update {
		sets = append(sets, fmt.Sprintf("%s = %s", col, Excluded(col)))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

// IDs converts typed ids into builder arguments for In clauses.
func IDs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Strings converts strings into builder arguments for In clauses.
func Strings(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// Chunk splits ids so In clauses stay under driver parameter limits.
func Chunk(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]uuid.UUID
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
