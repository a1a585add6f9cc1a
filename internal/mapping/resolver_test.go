package mapping

import (
	"testing"

	"intake/internal/model"
)

func TestSuggestSpanishHeaders(t *testing.T) {
	r := NewResolver(DefaultConfig())

	got := r.Suggest([]string{"Nombre", "Precio", "Stock"})

	want := map[string]string{
		"Nombre": "name",
		"Precio": "price",
		"Stock":  "cantidad",
	}
	for column, field := range want {
		if got[column] != field {
			t.Errorf("Suggest()[%q] = %q, want %q", column, got[column], field)
		}
	}
	if !AutoAcceptable(got) {
		t.Error("Spanish header suggestion should be auto-acceptable")
	}
}

func TestSuggest(t *testing.T) {
	r := NewResolver(DefaultConfig())

	tests := []struct {
		name    string
		columns []string
		want    map[string]string
	}{
		{
			name:    "exact english headers",
			columns: []string{"name", "price", "category"},
			want:    map[string]string{"name": "name", "price": "price", "category": "category"},
		},
		{
			name:    "accents and separators folded",
			columns: []string{"Categoría", "Código de barras", "PRECIO "},
			want:    map[string]string{"Categoría": "category", "PRECIO ": "price"},
		},
		{
			name:    "unrecognized columns ignored",
			columns: []string{"nombre", "notas internas", "xyz"},
			want: map[string]string{
				"nombre":         "name",
				"notas internas": model.IgnoreField,
				"xyz":            model.IgnoreField,
			},
		},
		{
			name:    "each field claimed once",
			columns: []string{"price", "precio"},
			want:    map[string]string{"price": "price", "precio": model.IgnoreField},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Suggest(tt.columns)
			for column, field := range tt.want {
				if got[column] != field {
					t.Errorf("Suggest()[%q] = %q, want %q", column, got[column], field)
				}
			}
		})
	}
}

func TestSuggestCoversEveryColumn(t *testing.T) {
	r := NewResolver(DefaultConfig())
	columns := []string{"nombre", "???", "precio", ""}

	got := r.Suggest(columns)
	for _, column := range columns {
		if _, ok := got[column]; !ok {
			t.Errorf("column %q missing from suggestion", column)
		}
	}
}

func TestAutoAcceptable(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]string
		want    bool
	}{
		{
			name:    "name plus one more field",
			mapping: map[string]string{"a": "name", "b": "price"},
			want:    true,
		},
		{
			name:    "name only",
			mapping: map[string]string{"a": "name", "b": model.IgnoreField},
			want:    false,
		},
		{
			name:    "two fields but no name",
			mapping: map[string]string{"a": "price", "b": "cantidad"},
			want:    false,
		},
		{
			name:    "empty mapping",
			mapping: map[string]string{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoAcceptable(tt.mapping); got != tt.want {
				t.Errorf("AutoAcceptable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreviewRows = 2
	r := NewResolver(cfg)

	mapping := map[string]string{
		"Nombre": "name",
		"Precio": "price",
		"Notas":  model.IgnoreField,
	}
	samples := []map[string]string{
		{"Nombre": "Agua", "Precio": "1.20", "Notas": "x"},
		{"Nombre": "Pan", "Precio": "0.80", "Notas": "y"},
		{"Nombre": "Leche", "Precio": "1.05", "Notas": "z"},
	}

	got := r.Preview(mapping, samples)
	if len(got) != 2 {
		t.Fatalf("preview rows = %d, want 2", len(got))
	}
	if got[0]["name"] != "Agua" || got[0]["price"] != "1.20" {
		t.Errorf("row 0 = %v", got[0])
	}
	if _, ok := got[0]["Notas"]; ok {
		t.Error("ignored column leaked into preview")
	}
}

func TestKnownField(t *testing.T) {
	r := NewResolver(DefaultConfig())

	if !r.KnownField("name") {
		t.Error("name should be a known field")
	}
	if !r.KnownField(model.IgnoreField) {
		t.Error("ignore sentinel should be accepted")
	}
	if r.KnownField("whatever") {
		t.Error("unknown field accepted")
	}
}
