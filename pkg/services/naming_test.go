package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestLLMNamer(client llm.LLMClient, mode NamingMode) *LLMNamer {
	n := NewLLMNamer(client, mode, 0.2, nil, zap.NewNop())
	n.caller.retry = fastRetry()
	return n
}

func replyWith(content string) func(context.Context, string, string, float64, bool) (*llm.GenerateResponseResult, error) {
	return func(context.Context, string, string, float64, bool) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: content}, nil
	}
}

func namingInput(name, dataType string, tag models.SemanticTag) NamingInput {
	return NamingInput{
		Column:       &models.ColumnRecord{TableID: "cat.sch.stores", ColumnName: name, DataType: dataType, SemanticTag: tag},
		TableContext: "contains 1200 rows of stores",
	}
}

func TestLLMNamer_Combined(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = replyWith("```json\n" + `{"aliases": ["Store Country", "Nation", "Nation", "x"], "description": "this column holds the country where the store is located"}` + "\n```")

	result, err := newTestLLMNamer(client, NamingModeCombined).Name(context.Background(), namingInput("country", "varchar", models.SemanticTagCountry))
	require.NoError(t, err)

	assert.Equal(t, []string{"Store Country", "Nation"}, result.Aliases)
	assert.Equal(t, "Holds the country where the store is located.", result.Description)
	assert.Equal(t, 1, client.GenerateResponseCalls())
	assert.Contains(t, client.Prompts()[0], "Semantic Type: country")
	assert.Contains(t, client.Prompts()[0], "Table: contains 1200 rows of stores")
}

func TestLLMNamer_Separate(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(_ context.Context, prompt, _ string, _ float64, _ bool) (*llm.GenerateResponseResult, error) {
		if strings.Contains(prompt, "Aliases (comma-separated)") {
			return &llm.GenerateResponseResult{Content: "Aliases: Total Distance (km), Route Length, Length in Kilometers"}, nil
		}
		return &llm.GenerateResponseResult{Content: `"Description: total length of the road segment in kilometers"`}, nil
	}

	result, err := newTestLLMNamer(client, NamingModeSeparate).Name(context.Background(), namingInput("total_kms", "double", models.SemanticTagNone))
	require.NoError(t, err)

	assert.Equal(t, []string{"Total Distance (km)", "Route Length", "Length in Kilometers"}, result.Aliases)
	assert.Equal(t, "Total length of the road segment in kilometers.", result.Description)
	assert.Equal(t, 2, client.GenerateResponseCalls())
}

func TestLLMNamer_Local(t *testing.T) {
	client := llm.NewMockLLMClient()
	var temps []float64
	client.GenerateResponseFunc = func(_ context.Context, prompt, _ string, temperature float64, _ bool) (*llm.GenerateResponseResult, error) {
		temps = append(temps, temperature)
		if strings.Contains(prompt, "Aliases (comma-separated)") {
			return &llm.GenerateResponseResult{Content: "For this column:\n- Province Name\n- State\n* Region Name\nNow more\n2. Level 2 Region"}, nil
		}
		return &llm.GenerateResponseResult{Content: "the state or province of the store"}, nil
	}

	namer := newTestLLMNamer(client, NamingModeLocal)
	assert.Equal(t, "llm-local", namer.Stage())

	result, err := namer.Name(context.Background(), namingInput("admin_level_2", "varchar", models.SemanticTagState))
	require.NoError(t, err)
	assert.Equal(t, []string{"Province Name", "State", "Region Name", "Level 2 Region"}, result.Aliases)
	assert.Equal(t, "The state or province of the store.", result.Description)
	assert.Equal(t, []float64{localNamingTemperature, localNamingTemperature}, temps)
}

func TestLLMNamer_Errors(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("provider exploded")
	}
	_, err := newTestLLMNamer(client, NamingModeSeparate).Name(context.Background(), namingInput("a", "int", ""))
	assert.Error(t, err)

	client.GenerateResponseFunc = replyWith("no json here")
	_, err = newTestLLMNamer(client, NamingModeCombined).Name(context.Background(), namingInput("a", "int", ""))
	assert.Error(t, err)

	_, err = newTestLLMNamer(client, NamingModeCombined).Name(context.Background(), NamingInput{})
	assert.Error(t, err)
}

func TestParseAliases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"comma list", "Store ID, Shop Identifier, Location Code", []string{"Store ID", "Shop Identifier", "Location Code"}},
		{"json array", `["Store ID", "store id", "Shop"]`, []string{"Store ID", "Shop"}},
		{"quoted and numbered", "1. \"Store ID\"\n2) 'Shop Number'", []string{"Store ID", "Shop Number"}},
		{"too short", "ID, AB, Store", []string{"Store"}},
		{"too long", "A Very Long Alias With Far Too Many Words, Short One", []string{"Short One"}},
		{"capped at five", "Aaa, Bbb, Ccc, Ddd, Eee, Fff", []string{"Aaa", "Bbb", "Ccc", "Ddd", "Eee"}},
		{"boilerplate line", "Aliases\nStore ID, Shop", []string{"Store ID", "Shop"}},
		{"boilerplate word inside a longer word", "Aliasesque Label, Shop", []string{"Aliasesque Label", "Shop"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAliases(tt.in))
		})
	}
}

func TestCleanDescription(t *testing.T) {
	assert.Equal(t, "Store opening date.", cleanDescription("  Description: store opening date"))
	assert.Equal(t, "Already fine.", cleanDescription("Already fine."))
	assert.Equal(t, "", cleanDescription("   "))
	assert.Equal(t, "Érable count.", cleanDescription("érable count"))
	assert.Equal(t, "A store code.", cleanDescription("This is a store code"))
	assert.Equal(t, "This island code identifies the atoll.", cleanDescription("This island code identifies the atoll"))
	assert.Equal(t, "This columnar flag marks archived rows.", cleanDescription("this columnar flag marks archived rows"))
}

func TestHasWordPrefix(t *testing.T) {
	assert.True(t, hasWordPrefix("This is", "this is"))
	assert.True(t, hasWordPrefix("THIS IS a code", "this is"))
	assert.True(t, hasWordPrefix("Description:x", "description:"))
	assert.False(t, hasWordPrefix("This island", "this is"))
	assert.False(t, hasWordPrefix("This", "this is"))
}

func TestRuleNamer(t *testing.T) {
	tests := []struct {
		name        string
		col         *models.ColumnRecord
		wantAliases []string
		wantDesc    string
	}{
		{
			name:        "identifier",
			col:         &models.ColumnRecord{ColumnName: "customer_id", DataType: "bigint"},
			wantAliases: []string{"Customer ID", "Customer Identifier", "Customer Code"},
			wantDesc:    "Unique identifier for the customer entity.",
		},
		{
			name:        "plural entity",
			col:         &models.ColumnRecord{ColumnName: "stores_id", DataType: "bigint"},
			wantAliases: []string{"Stores ID", "Stores Identifier", "Stores Code"},
			wantDesc:    "Unique identifier for the store entity.",
		},
		{
			name:        "admin level",
			col:         &models.ColumnRecord{ColumnName: "admin_l2", DataType: "varchar", SemanticTag: models.SemanticTagState},
			wantAliases: []string{"Administrative L2", "Province Name", "State Name", "Level 2 Region"},
			wantDesc:    "Name of the province, state, or first-level administrative division.",
		},
		{
			name:        "latitude",
			col:         &models.ColumnRecord{ColumnName: "lat", DataType: "double", SemanticTag: models.SemanticTagLatitude},
			wantAliases: []string{"Latitude", "Latitude Coordinate", "Lat", "North-South Position"},
			wantDesc:    "Geographic coordinate representing the north-south position, measured in decimal degrees (-90 to +90).",
		},
		{
			name:        "distance",
			col:         &models.ColumnRecord{ColumnName: "total_kms", DataType: "double"},
			wantAliases: []string{"Total Kilometers", "Distance (km)", "Length in Kilometers", "Total Distance"},
			wantDesc:    "Total distance or length measured in kilometers.",
		},
		{
			name:        "category",
			col:         &models.ColumnRecord{ColumnName: "road_type", DataType: "varchar", Cardinality: 6},
			wantAliases: []string{"Road Type", "Road Type Category", "Road Type Type"},
			wantDesc:    "Classification or category for road. Contains 6 distinct categories.",
		},
		{
			name:        "update timestamp",
			col:         &models.ColumnRecord{ColumnName: "updatedAt", DataType: "timestamp"},
			wantAliases: []string{"Updated At"},
			wantDesc:    "Date and time when the record was last changed or updated.",
		},
		{
			name:        "generic",
			col:         &models.ColumnRecord{ColumnName: "revenue", DataType: "double"},
			wantAliases: []string{"Revenue"},
			wantDesc:    "Revenue value stored as double.",
		},
		{
			name:        "short name keeps raw alias",
			col:         &models.ColumnRecord{ColumnName: "x", DataType: "int"},
			wantAliases: []string{"x"},
			wantDesc:    "X value stored as int.",
		},
	}

	namer := NewRuleNamer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := namer.Name(context.Background(), NamingInput{Column: tt.col})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAliases, result.Aliases)
			assert.Equal(t, tt.wantDesc, result.Description)
			assert.Equal(t, "rules", result.Source)
		})
	}
}

type stubNamer struct {
	stage  string
	result *NamingResult
	err    error
	calls  int
}

func (s *stubNamer) Stage() string { return s.stage }

func (s *stubNamer) Name(context.Context, NamingInput) (*NamingResult, error) {
	s.calls++
	return s.result, s.err
}

func TestNamingChain_FirstAcceptableWins(t *testing.T) {
	failing := &stubNamer{stage: "a", err: errors.New("down")}
	weak := &stubNamer{stage: "b", result: &NamingResult{Aliases: []string{"Store"}, Description: "Too short."}}
	good := &stubNamer{stage: "c", result: &NamingResult{Aliases: []string{"Store Name"}, Description: "Display name of the store shown to customers."}}
	never := &stubNamer{stage: "d"}

	chain := NewNamingChain(zap.NewNop(), failing, nil, weak, good, never)
	assert.Equal(t, []string{"a", "b", "c", "d", "rules"}, chain.Stages())

	result, err := chain.Name(context.Background(), namingInput("store_name", "varchar", ""))
	require.NoError(t, err)
	assert.Equal(t, "c", result.Source)
	assert.Equal(t, []string{"Store Name"}, result.Aliases)
	assert.Equal(t, 0, never.calls)
}

func TestNamingChain_FloorWhenEveryModelFails(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("service exploded")
	}
	chain := NewNamingChain(zap.NewNop(),
		newTestLLMNamer(client, NamingModeCombined),
		newTestLLMNamer(client, NamingModeSeparate),
		newTestLLMNamer(client, NamingModeLocal),
	)

	result, err := chain.Name(context.Background(), namingInput("store_id", "bigint", ""))
	require.NoError(t, err)
	assert.Equal(t, "rules", result.Source)
	assert.NotEmpty(t, result.Aliases)
	assert.NotEmpty(t, result.Description)
	assert.Equal(t, 3, client.GenerateResponseCalls(), "separate mode stops after the alias call fails")

	_, err = chain.Name(context.Background(), NamingInput{})
	assert.Error(t, err)
}

func TestDescribeTable(t *testing.T) {
	assert.Equal(t, "contains 1200 rows of store visits", describeTable("cat.sch.store_visit", 1200))
	assert.Equal(t, "contains customers", describeTable("cat.sch.customer", 0))
	assert.Equal(t, "contains 5 rows of order lines", describeTable("cat.sch.OrderLines", 5))
}
