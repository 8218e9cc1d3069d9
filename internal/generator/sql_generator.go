package generator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/sqltext"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// Column names the templates look for in the discovered schema
const (
	PartitionDateColumn = "data_particao"
	OpenedAtColumn      = "data_inicio"
	RegionKeyColumn     = "id_bairro"
	RegionNameColumn    = "nome"
	UnitNameColumn      = "nome_unidade_organizacional"
	UnitIDColumn        = "id_unidade_organizacional"
)

const (
	// RecencyWindowDays bounds scans when the question names no period
	RecencyWindowDays = 365
	// TopNJoinedLimit is the row count of the region ranking
	TopNJoinedLimit = 3
	// unknownGroupValue stands in for a grouping column the schema lacks
	unknownGroupValue = "nao_informado"
)

// FallbackDate is the fixed day counted when no shape matches
var FallbackDate = time.Date(2024, time.November, 28, 0, 0, 0, 0, time.UTC)

var (
	// Ordered from most to least specific
	categoryColumns = []string{"subtipo", "tipo", "categoria"}
	// Free-text candidates for term matching
	textColumns = []string{
		"subtipo", "tipo", "categoria", "descricao", "titulo",
		"motivo", "detalhe", "classificacao", "assunto",
	}

	dateTokenRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	yearTokenRe  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	countIntent  = regexp.MustCompile(`\b(quantos|quantas|quantidade|numero de|total de)\b`)
	columnNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// SchemaProvider lends the synthesizer the discovered schema of a table
type SchemaProvider interface {
	GetSchema(ctx context.Context, dataset, table string) (models.Schema, error)
}

// Target names the tables the templates query
type Target struct {
	// Dataset and Table locate the fact table in the catalog
	Dataset string
	Table   string
	// DimensionTable is the fully qualified region dimension
	DimensionTable string
}

// FactTable returns the fully qualified fact table name
func (t Target) FactTable() string {
	return t.Dataset + "." + t.Table
}

// question is a normalized question plus the tokens the rules look at
type question struct {
	text   string
	folded string
	date   *time.Time
	year   int
}

type rule struct {
	shape models.Shape
	match func(q question) bool
	build func(g *QueryGenerator, q question, s models.Schema) string
}

// QueryGenerator maps a question and the live schema to one of a fixed set
// of query shapes
type QueryGenerator struct {
	Catalog SchemaProvider
	Target  Target
	Dialect Dialect
	Logger  *logrus.Logger
	rules   []rule
}

// NewQueryGenerator creates a new query generator. Table names are validated
// once here because they are interpolated into every query.
func NewQueryGenerator(catalog SchemaProvider, target Target, dialect Dialect, logger *logrus.Logger) (*QueryGenerator, error) {
	var err error
	if target.Dataset, err = cleanName("dataset", target.Dataset); err != nil {
		return nil, err
	}
	if target.Table, err = cleanName("table", target.Table); err != nil {
		return nil, err
	}
	if target.DimensionTable, err = cleanName("dimension table", target.DimensionTable); err != nil {
		return nil, err
	}
	if dialect == nil {
		dialect = BigQueryDialect{}
	}

	return &QueryGenerator{
		Catalog: catalog,
		Target:  target,
		Dialect: dialect,
		Logger:  logger,
		rules:   defaultRules(),
	}, nil
}

func cleanName(kind, name string) (string, error) {
	clean, err := sqltext.CleanIdentifier(name)
	if err != nil {
		return "", fmt.Errorf("invalid %s name: %w", kind, err)
	}
	return clean, nil
}

// defaultRules is evaluated top to bottom and the first match wins. Trigger
// sets overlap, so the order is part of the contract.
func defaultRules() []rule {
	return []rule{
		{
			shape: models.ShapeCountByDate,
			match: func(q question) bool {
				return q.date != nil && countIntent.MatchString(q.folded) && strings.Contains(q.folded, "chamado")
			},
			build: (*QueryGenerator).countByDate,
		},
		{
			shape: models.ShapeTopCategory,
			match: func(q question) bool {
				return strings.Contains(q.folded, "iluminacao")
			},
			build: (*QueryGenerator).topCategory,
		},
		{
			shape: models.ShapeTopNJoined,
			match: func(q question) bool {
				return strings.Contains(q.folded, "reparo") && strings.Contains(q.folded, "buraco") && q.year > 0
			},
			build: (*QueryGenerator).topNJoined,
		},
		{
			shape: models.ShapeLeaderByGroup,
			match: func(q question) bool {
				return strings.Contains(q.folded, "fiscalizacao") &&
					strings.Contains(q.folded, "estacionamento") &&
					strings.Contains(q.folded, "irregular")
			},
			build: (*QueryGenerator).leaderByGroup,
		},
	}
}

// Shapes returns the shapes in evaluation order, fallback last
func (g *QueryGenerator) Shapes() []models.Shape {
	shapes := make([]models.Shape, 0, len(g.rules)+1)
	for _, r := range g.rules {
		shapes = append(shapes, r.shape)
	}
	return append(shapes, models.ShapeFallbackCount)
}

// Generate fetches the fact table schema and synthesizes a query for the question
func (g *QueryGenerator) Generate(ctx context.Context, text string) (models.QuerySpec, error) {
	s, err := g.Catalog.GetSchema(ctx, g.Target.Dataset, g.Target.Table)
	if err != nil {
		return models.QuerySpec{}, err
	}
	return g.Synthesize(text, s), nil
}

// Synthesize renders a query for the question against the given schema.
// It never fails; with no matching rule it returns the fallback count.
func (g *QueryGenerator) Synthesize(text string, s models.Schema) models.QuerySpec {
	q := parseQuestion(text)

	spec := models.QuerySpec{Shape: models.ShapeFallbackCount}
	matched := false
	for _, r := range g.rules {
		if r.match(q) {
			spec = models.QuerySpec{Shape: r.shape, Text: sqltext.OneLine(r.build(g, q, s))}
			matched = true
			break
		}
	}
	if !matched {
		spec.Text = sqltext.OneLine(g.fallbackCount(q, s))
	}

	g.Logger.WithFields(logrus.Fields{
		"shape":   spec.Shape.String(),
		"dialect": g.Dialect.Name(),
	}).Debugf("Synthesized query: %s", spec.Text)
	return spec
}

func parseQuestion(text string) question {
	lower := sqltext.OneLine(strings.ToLower(text))
	q := question{text: lower, folded: sqltext.FoldAccents(lower)}

	if m := dateTokenRe.FindStringSubmatch(lower); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		day := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		// time.Date normalizes 31/02 into March; such tokens are not dates
		if day.Day() == d && int(day.Month()) == mo && day.Year() == y {
			q.date = &day
		}
	}
	if m := yearTokenRe.FindStringSubmatch(lower); m != nil {
		q.year, _ = strconv.Atoi(m[1])
	}
	return q
}

func (g *QueryGenerator) factRef() string {
	return g.Dialect.TableRef(g.Target.FactTable()) + " AS c"
}

func (g *QueryGenerator) countByDate(q question, s models.Schema) string {
	return fmt.Sprintf(`
		SELECT COUNT(1) AS n
		FROM %s
		WHERE %s
	`, g.factRef(), g.dayFilter(s, *q.date))
}

func (g *QueryGenerator) topCategory(q question, s models.Schema) string {
	groupExpr, alias := g.categoryColumn(s)
	return fmt.Sprintf(`
		SELECT %s AS %s, COUNT(1) AS total
		FROM %s
		WHERE %s
		  AND (%s)
		GROUP BY %s
		ORDER BY total DESC, %s ASC
		LIMIT 1
	`, groupExpr, alias, g.factRef(), g.windowFilter(s, q), g.textFilter(s, []string{"iluminação", "pública"}), alias, alias)
}

func (g *QueryGenerator) topNJoined(q question, s models.Schema) string {
	return fmt.Sprintf(`
		SELECT b.%s AS bairro, COUNT(1) AS total
		FROM %s
		JOIN %s AS b
		  ON %s
		WHERE %s
		  AND (%s)
		GROUP BY bairro
		ORDER BY total DESC, bairro ASC
		LIMIT %d
	`, RegionNameColumn, g.factRef(), g.Dialect.TableRef(g.Target.DimensionTable), g.regionJoinCondition(s),
		g.yearFilter(s, q.year), g.textFilter(s, []string{"reparo", "buraco"}), TopNJoinedLimit)
}

func (g *QueryGenerator) leaderByGroup(q question, s models.Schema) string {
	unitExpr := sqltext.QuoteLiteral(unknownGroupValue)
	switch {
	case s.Has(UnitNameColumn):
		unitExpr = "c." + UnitNameColumn
	case s.Has(UnitIDColumn):
		unitExpr = "c." + UnitIDColumn
	}
	return fmt.Sprintf(`
		SELECT %s AS unidade, COUNT(1) AS total
		FROM %s
		WHERE %s
		  AND (%s)
		GROUP BY unidade
		ORDER BY total DESC, unidade ASC
		LIMIT 1
	`, unitExpr, g.factRef(), g.windowFilter(s, q), g.textFilter(s, []string{"fiscalização", "estacionamento", "irregular"}))
}

func (g *QueryGenerator) fallbackCount(_ question, s models.Schema) string {
	return fmt.Sprintf(`
		SELECT COUNT(1) AS n
		FROM %s
		WHERE %s
	`, g.factRef(), g.dayFilter(s, FallbackDate))
}

// categoryColumn picks the most specific textual grouping column. Without
// any candidate it uses another textual column, then a constant.
func (g *QueryGenerator) categoryColumn(s models.Schema) (expr, alias string) {
	for _, c := range categoryColumns {
		if s.IsString(c) {
			return "c." + c, c
		}
	}
	for _, c := range s.Names() {
		if s.IsString(c) && columnNameRe.MatchString(c) {
			return "c." + c, c
		}
	}
	return sqltext.QuoteLiteral(unknownGroupValue), "categoria"
}

// dateColumn returns the best date expression for filtering and whether it
// is the partition column. Only DATE and TIMESTAMP columns qualify; a column
// of any other type cannot be compared to a DATE literal.
func (g *QueryGenerator) dateColumn(s models.Schema) (expr string, partition bool, ok bool) {
	if expr, ok := g.dateExpr(s, PartitionDateColumn); ok {
		return expr, true, true
	}
	if expr, ok := g.dateExpr(s, OpenedAtColumn); ok {
		return expr, false, true
	}
	return "", false, false
}

func (g *QueryGenerator) dateExpr(s models.Schema, column string) (string, bool) {
	t, exists := s.TypeOf(column)
	if !exists {
		return "", false
	}
	switch t {
	case models.TypeDate:
		return "c." + column, true
	case models.TypeTimestamp:
		return g.Dialect.DateOf("c." + column), true
	default:
		return "", false
	}
}

func (g *QueryGenerator) dayFilter(s models.Schema, day time.Time) string {
	expr, _, ok := g.dateColumn(s)
	if !ok {
		return "TRUE"
	}
	return fmt.Sprintf("%s = %s", expr, g.Dialect.DateLiteral(day))
}

// yearFilter prefers a half-open range on the partition column so the
// engine can prune partitions
func (g *QueryGenerator) yearFilter(s models.Schema, year int) string {
	expr, partition, ok := g.dateColumn(s)
	switch {
	case !ok:
		return "TRUE"
	case partition:
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("%s >= %s AND %s < %s",
			expr, g.Dialect.DateLiteral(from), expr, g.Dialect.DateLiteral(from.AddDate(1, 0, 0)))
	default:
		return fmt.Sprintf("EXTRACT(YEAR FROM c.%s) = %d", OpenedAtColumn, year)
	}
}

func (g *QueryGenerator) recencyFilter(s models.Schema) string {
	expr, _, ok := g.dateColumn(s)
	if !ok {
		return "TRUE"
	}
	return fmt.Sprintf("%s >= %s", expr, g.Dialect.DaysAgo(RecencyWindowDays))
}

// windowFilter applies an explicit year when the question names one and the
// trailing recency window otherwise
func (g *QueryGenerator) windowFilter(s models.Schema, q question) string {
	if q.year > 0 {
		return g.yearFilter(s, q.year)
	}
	return g.recencyFilter(s)
}

// textFilter matches rows where any candidate text column contains every term
func (g *QueryGenerator) textFilter(s models.Schema, terms []string) string {
	var perColumn []string
	for _, c := range textColumns {
		if !s.IsString(c) {
			continue
		}
		conj := make([]string, 0, len(terms))
		for _, t := range terms {
			conj = append(conj, fmt.Sprintf("LOWER(c.%s) LIKE %s", c, sqltext.LikeContains(strings.ToLower(t))))
		}
		perColumn = append(perColumn, "("+strings.Join(conj, " AND ")+")")
	}
	if len(perColumn) == 0 {
		return "TRUE"
	}
	return strings.Join(perColumn, " OR ")
}

// regionJoinCondition casts whichever side avoids a type mismatch: a textual
// fact key is compared to the dimension key cast to text, otherwise the fact
// key is cast to the dimension's integer type
func (g *QueryGenerator) regionJoinCondition(s models.Schema) string {
	t, ok := s.TypeOf(RegionKeyColumn)
	if !ok || t == models.TypeString {
		return fmt.Sprintf("c.%s = %s", RegionKeyColumn, g.Dialect.CastToString("b."+RegionKeyColumn))
	}
	return fmt.Sprintf("%s = b.%s", g.Dialect.CastToInt("c."+RegionKeyColumn), RegionKeyColumn)
}
