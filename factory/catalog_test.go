package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/benefit/store"
)

const catalogYAML = `
programs:
  - id: limestone
    name: Limestone subsidy
    category: soil
    rules:
      - id: limestone-small
        kind: AreaBased
        unit_value: 150
        condition: {comparator: lessThan, value: 6, unit: alqueire}
        limit: {kind: quantity, ceiling: 3, unit: ton, period: {months: 6}}
      - id: limestone-medium
        kind: AreaBased
        unit_value: 100
        condition: {comparator: between, min: 6, max: 20}
  - id: tractor-hours
    name: Tractor hours
    active: false
beneficiaries:
  - id: ben-1
    name: Jose da Silva
    category: family_farmer
    declared_revenue: 85000
    areas:
      - {year: 2024, owned: 5, lease_received: 1, lease_ceded: 1.5}
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogYAML))

	require.NoError(t, err)
	require.Len(t, c.Programs, 2)
	require.Len(t, c.Programs[0].Rules, 2)
	assert.Equal(t, "limestone-small", c.Programs[0].Rules[0].ID)
	assert.True(t, c.Programs[0].Rules[0].UnitValue.Equal(benefit.Dec("150")))
	require.NotNil(t, c.Programs[1].Active)
	assert.False(t, *c.Programs[1].Active)
	require.Len(t, c.Beneficiaries, 1)
	assert.True(t, c.Beneficiaries[0].Areas[0].LeaseCeded.Equal(benefit.Dec("1.5")))
}

func TestCatalogSeed(t *testing.T) {
	// GIVEN
	c, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	mem := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// WHEN
	res, err := c.Seed(ctx, mem, now)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Programs: 2, Rules: 2, Beneficiaries: 1, Areas: 1}, res)

	p, err := mem.GetProgram(ctx, "limestone")
	require.NoError(t, err)
	assert.True(t, p.Active)
	off, err := mem.GetProgram(ctx, "tractor-hours")
	require.NoError(t, err)
	assert.False(t, off.Active)

	rules, err := mem.ListRules(ctx, "limestone")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, benefit.RuleID("limestone-small"), rules[0].ID)
	assert.Equal(t, benefit.ProgramID("limestone"), rules[0].ProgramID)

	area, err := mem.GetEffectiveArea(ctx, "ben-1", nil)
	require.NoError(t, err)
	require.NotNil(t, area)
	assert.Equal(t, benefit.UnitAlqueire, area.Unit)
	assert.Equal(t, "4.5", area.Net().String())

	// The seeded catalog evaluates end to end.
	engine := benefit.NewEngine(mem, benefit.WithClock(func() time.Time { return now }))
	calc, err := engine.CalculateBenefit(ctx, "ben-1", "limestone", benefit.DecPtr("5"))
	require.NoError(t, err)
	assert.Equal(t, "450.00", calc.Amount.StringFixed(2))
}

func TestCatalogSeed_RejectsMalformedRule(t *testing.T) {
	// GIVEN a valid program followed by one with a broken rule
	c, err := ParseCatalog([]byte(`
programs:
  - id: tractor-hours
    name: Tractor hours
    rules:
      - id: tractor-family
        kind: FixedUnitValue
        unit_value: 85
        condition: {comparator: between}
  - id: limestone
    name: Limestone
    rules:
      - id: broken
        kind: Hydroponic
        unit_value: 1
        condition: {comparator: between}
beneficiaries:
  - id: ben-1
    name: Jose da Silva
`))
	require.NoError(t, err)
	mem := store.NewMemory()
	ctx := context.Background()

	// WHEN
	res, err := c.Seed(ctx, mem, time.Now())

	// THEN nothing was written
	assert.ErrorIs(t, err, benefit.ErrMalformedRule)
	assert.Contains(t, err.Error(), "program limestone")
	assert.Equal(t, SeedResult{}, res)

	programs, err := mem.ListPrograms(ctx)
	require.NoError(t, err)
	assert.Empty(t, programs)
	_, err = mem.GetBeneficiary(ctx, "ben-1")
	assert.ErrorIs(t, err, benefit.ErrBeneficiaryNotFound)
}

func TestCatalogSeed_MissingBeneficiaryIDWritesNothing(t *testing.T) {
	c := &Catalog{
		Programs:      []ProgramYAML{{ID: "limestone", Name: "Limestone"}},
		Beneficiaries: []BeneficiaryYAML{{Name: "nameless"}},
	}
	mem := store.NewMemory()

	_, err := c.Seed(context.Background(), mem, time.Now())

	assert.ErrorIs(t, err, benefit.ErrInvalidInput)
	_, err = mem.GetProgram(context.Background(), "limestone")
	assert.ErrorIs(t, err, benefit.ErrProgramNotFound)
}

func TestCatalogSeed_RequiresIDs(t *testing.T) {
	c := &Catalog{Programs: []ProgramYAML{{Name: "nameless"}}}

	_, err := c.Seed(context.Background(), store.NewMemory(), time.Now())

	assert.ErrorIs(t, err, benefit.ErrInvalidInput)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Programs, 2)

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
