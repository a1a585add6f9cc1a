package mapping

import (
	"sort"
	"strings"
	"time"

	"intake/internal/model"
)

// FieldName is the mandatory canonical field: no mapping can be confirmed
// without a source column assigned to it.
const FieldName = "name"

// Config configures the resolver. The canonical field set is deliberately
// configuration, not a fixed enum: tenants import different domains.
type Config struct {
	Fields          []string
	Synonyms        map[string]string
	AutoAcceptDelay time.Duration
	PreviewRows     int
}

// DefaultConfig returns the stock field set and synonym table.
func DefaultConfig() Config {
	return Config{
		Fields: []string{
			FieldName, "price", "cantidad", "category", "code", "cost", "supplier", "unit",
		},
		Synonyms: map[string]string{
			"nombre":      FieldName,
			"producto":    FieldName,
			"titulo":      FieldName,
			"precio":      "price",
			"pvp":         "price",
			"stock":       "cantidad",
			"quantity":    "cantidad",
			"qty":         "cantidad",
			"existencias": "cantidad",
			"categoria":   "category",
			"familia":     "category",
			"grupo":       "category",
			"codigo":      "code",
			"sku":         "code",
			"referencia":  "code",
			"ean":         "code",
			"barcode":     "code",
			"coste":       "cost",
			"costo":       "cost",
			"proveedor":   "supplier",
			"vendor":      "supplier",
			"unidad":      "unit",
			"medida":      "unit",
			"uom":         "unit",
		},
		AutoAcceptDelay: 1500 * time.Millisecond,
		PreviewRows:     5,
	}
}

// Resolver proposes mappings from arbitrary source column headers to the
// configured canonical fields.
type Resolver struct {
	cfg    Config
	fields map[string]bool
}

func NewResolver(cfg Config) *Resolver {
	if len(cfg.Fields) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.AutoAcceptDelay <= 0 {
		cfg.AutoAcceptDelay = 1500 * time.Millisecond
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 5
	}
	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[f] = true
	}
	return &Resolver{cfg: cfg, fields: fields}
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	"ä", "a", "ë", "e", "ï", "i", "ö", "o", "ü", "u",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u",
	"ñ", "n", "ç", "c",
)

// normalize folds a header for comparison: lowercase, trimmed, accents
// stripped, separators removed.
func normalize(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = accentFolder.Replace(h)
	h = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
	return h
}

// score rates how well a source column header matches a canonical field.
// Tiers: exact match, synonym, prefix, containment.
func (r *Resolver) score(column, field string) float64 {
	col := normalize(column)
	if col == "" {
		return 0
	}
	if col == field {
		return 1.0
	}
	if r.cfg.Synonyms[col] == field {
		return 0.9
	}
	if strings.HasPrefix(col, field) || strings.HasPrefix(field, col) {
		return 0.75
	}
	if strings.Contains(col, field) {
		return 0.6
	}
	return 0
}

// minScore is the floor below which a column stays unmapped.
const minScore = 0.5

type candidate struct {
	column string
	field  string
	score  float64
}

// Suggest proposes a mapping from source columns to canonical fields. Each
// field is claimed by at most one column; assignments are picked by
// descending score. Unmatched columns map to the ignore sentinel.
func (r *Resolver) Suggest(columns []string) map[string]string {
	var candidates []candidate
	for _, col := range columns {
		for _, field := range r.cfg.Fields {
			if s := r.score(col, field); s >= minScore {
				candidates = append(candidates, candidate{column: col, field: field, score: s})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	suggestion := make(map[string]string, len(columns))
	claimedField := make(map[string]bool)
	for _, c := range candidates {
		if _, done := suggestion[c.column]; done {
			continue
		}
		if claimedField[c.field] {
			continue
		}
		suggestion[c.column] = c.field
		claimedField[c.field] = true
	}

	for _, col := range columns {
		if _, ok := suggestion[col]; !ok {
			suggestion[col] = model.IgnoreField
		}
	}
	return suggestion
}

// AutoAcceptable reports whether a mapping is high-confidence: name plus
// at least one other non-ignored field.
func AutoAcceptable(mapping map[string]string) bool {
	mapped := 0
	hasName := false
	for _, field := range mapping {
		if field == model.IgnoreField || field == "" {
			continue
		}
		mapped++
		if field == FieldName {
			hasName = true
		}
	}
	return hasName && mapped >= 2
}

// Preview projects up to PreviewRows sample rows through the mapping,
// producing field-labeled rows for user verification. Ignored columns are
// dropped.
func (r *Resolver) Preview(mapping map[string]string, samples []map[string]string) []map[string]string {
	limit := r.cfg.PreviewRows
	if len(samples) < limit {
		limit = len(samples)
	}

	out := make([]map[string]string, 0, limit)
	for _, row := range samples[:limit] {
		projected := make(map[string]string)
		for column, field := range mapping {
			if field == model.IgnoreField || field == "" {
				continue
			}
			if value, ok := row[column]; ok {
				projected[field] = value
			}
		}
		out = append(out, projected)
	}
	return out
}

// KnownField reports whether a field belongs to the configured canonical
// set or is the ignore sentinel.
func (r *Resolver) KnownField(field string) bool {
	return field == model.IgnoreField || r.fields[field]
}

// AutoAcceptDelay exposes the configured auto-confirm delay.
func (r *Resolver) AutoAcceptDelay() time.Duration {
	return r.cfg.AutoAcceptDelay
}
