package catalog

import (
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
)

const (
	dialectPostgres = "postgres"
	searchLimit     = 100
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildSearchQuery matches text as a case-insensitive substring of the title or of any
// author name. LIKE metacharacters in text match literally.
func buildSearchQuery(text string, limit uint) (string, []any, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(text)) + "%"

	ds := goqu.Dialect(dialectPostgres).
		From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("book_authors").As("ba"), goqu.On(goqu.I("ba.book_id").Eq(goqu.I("b.id")))).
		LeftJoin(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("ba.author_id")))).
		Select(
			goqu.I("b.id"),
			goqu.I("b.title"),
			goqu.L(`COALESCE(array_agg(a.name ORDER BY ba.position, a.name) FILTER (WHERE a.name IS NOT NULL), '{}')`).As("authors"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title")).
		Having(goqu.Or(
			goqu.L("b.title ILIKE ?", pattern),
			goqu.L("bool_or(a.name ILIKE ?)", pattern),
		)).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc()).
		Limit(limit).
		Prepared(true)

	return ds.ToSQL()
}
