/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built catalogs that populate the store with realistic
	programs, rules, beneficiaries and areas. Each scenario exercises one
	family of rule kinds.

AVAILABLE SCENARIOS:

	limestone:      Area tiers, quantity ceiling, 6-month cool-down
	equipment:      Percentage co-financing with a value ceiling, manual review
	tractor-hours:  Fixed hourly value, category gate, 2 uses per 12 months

HOW SCENARIOS WORK:
 1. Parse the scenario's YAML catalog (factory.ParseCatalog)
 2. Seed it through the catalog store (upserts, so loading twice is safe)
 3. Remember the scenario as the current one

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "limestone"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and catalog

SEE ALSO:
  - factory/catalog.go: Catalog format and seeding
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/benefit-engine/factory"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	catalog     string
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "limestone",
		Name:        "Limestone Subsidy",
		Description: "Area tiers with a 3-ton ceiling and a 6-month cool-down",
		Category:    "soil",
		catalog:     limestoneCatalog,
	},
	{
		ID:          "equipment",
		Name:        "Equipment Co-financing",
		Description: "30% of the invoice up to 15000 BRL; large producers go to manual review",
		Category:    "machinery",
		catalog:     equipmentCatalog,
	},
	{
		ID:          "tractor-hours",
		Name:        "Tractor Hours",
		Description: "Fixed hourly value for family farmers, twice per 12 months",
		Category:    "services",
		catalog:     tractorCatalog,
	},
}

const limestoneCatalog = `
programs:
  - id: limestone
    name: Limestone subsidy
    category: soil
    rules:
      - id: limestone-small
        name: Small producers
        kind: AreaBased
        unit_value: 150
        condition: {comparator: lessThan, value: 6, unit: alqueire, description: "under 6 alqueires"}
        limit: {kind: quantity, ceiling: 3, unit: ton, period: {months: 6}}
      - id: limestone-medium
        name: Medium producers
        kind: AreaBased
        unit_value: 100
        condition: {comparator: between, min: 6, max: 20, unit: alqueire}
        limit: {kind: area, ceiling: 0.5, unit: ton, period: {months: 6}}
beneficiaries:
  - id: ben-jose
    name: Jose da Silva
    category: family_farmer
    areas:
      - {year: 2024, owned: 4.5}
  - id: ben-ana
    name: Ana Souza
    category: family_farmer
    areas:
      - {year: 2024, owned: 10, lease_received: 2, lease_ceded: 1}
  - id: ben-pedro
    name: Pedro Lima
    category: agribusiness
    areas:
      - {year: 2024, owned: 40}
`

const equipmentCatalog = `
programs:
  - id: equipment
    name: Equipment co-financing
    category: machinery
    rules:
      - id: equipment-family
        kind: EquipmentValueBased
        unit_value: 0
        condition: {comparator: lessThan, value: 30, unit: alqueire}
        limit: {kind: value, ceiling: 15000, unit: brl, percentage: 30, period: {months: 24}}
      - id: equipment-large
        kind: Custom
        unit_value: 5000
        condition: {comparator: greaterThan, value: 0, unit: alqueire, description: "large producers, committee review"}
beneficiaries:
  - id: ben-jose
    name: Jose da Silva
    category: family_farmer
    areas:
      - {year: 2024, owned: 4.5}
  - id: ben-pedro
    name: Pedro Lima
    category: agribusiness
    areas:
      - {year: 2024, owned: 40}
`

const tractorCatalog = `
programs:
  - id: tractor-hours
    name: Tractor hours
    category: services
    rules:
      - id: tractor-family
        kind: FixedUnitValue
        unit_value: 85
        condition: {comparator: contains, subject: category, values: [family_farmer, cooperative]}
        limit: {kind: quantity, ceiling: 16, unit: hour, period: {months: 12, max_occurrences: 2}}
beneficiaries:
  - id: ben-jose
    name: Jose da Silva
    category: family_farmer
    areas:
      - {year: 2024, owned: 4.5}
  - id: ben-pedro
    name: Pedro Lima
    category: agribusiness
    areas:
      - {year: 2024, owned: 40}
`

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	catalog, err := factory.ParseCatalog([]byte(s.catalog))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to parse scenario", err)
		return
	}
	res, err := catalog.Seed(r.Context(), h.Store, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()

	h.log.Info().Str("scenario", s.ID).Int("programs", res.Programs).Int("rules", res.Rules).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "loaded",
		"scenario":      s.ID,
		"programs":      res.Programs,
		"rules":         res.Rules,
		"beneficiaries": res.Beneficiaries,
	})
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}
