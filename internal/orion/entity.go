package orion

import (
	"strings"
	"time"

	"github.com/nekazari/intelligence/pkg/models"
)

// EntityType is the NGSI-LD type tag carried by every prediction entity.
const EntityType = "Prediction"

// PredictionParams describes one forecast result to publish.
type PredictionParams struct {
	TenantID    string
	EntityID    string // the entity the forecast refers to
	Attribute   string
	Points      []models.ForecastPoint
	Confidence  float64
	Model       string
	GeneratedAt time.Time
}

// PredictionEntityID derives the stable broker identifier for a forecast.
// The same (tenant, entity, attribute) triple always maps to the same id,
// which is what makes republishing an upsert instead of a duplicate.
func PredictionEntityID(tenantID, entityID, attribute string) string {
	suffix := entityID
	if i := strings.LastIndex(entityID, ":"); i >= 0 {
		suffix = entityID[i+1:]
	}
	return "urn:ngsi-ld:" + EntityType + ":" + tenantID + ":" + suffix + "-" + attribute
}

// --- NGSI-LD wire representation ---

type property struct {
	Type     string `json:"type"`
	Value    any    `json:"value"`
	UnitCode string `json:"unitCode,omitempty"`
}

type relationship struct {
	Type   string `json:"type"`
	Object string `json:"object"`
}

type dateTime struct {
	Type  string `json:"@type"`
	Value string `json:"@value"`
}

type predictionEntity struct {
	Context            []string     `json:"@context"`
	ID                 string       `json:"id"`
	Type               string       `json:"type"`
	RefEntity          relationship `json:"refEntity"`
	PredictedAttribute property     `json:"predictedAttribute"`
	Predictions        property     `json:"predictions"`
	Model              property     `json:"model"`
	Confidence         property     `json:"confidence"`
	GeneratedAt        property     `json:"generatedAt"`
}

// predictionUpdate is the attribute-only payload for PATCH .../attrs.
type predictionUpdate struct {
	Predictions property `json:"predictions"`
	Confidence  property `json:"confidence"`
	GeneratedAt property `json:"generatedAt"`
}

func buildEntity(contextURL string, p PredictionParams) predictionEntity {
	var ctx []string
	if contextURL != "" {
		ctx = []string{contextURL}
	} else {
		ctx = []string{}
	}
	return predictionEntity{
		Context:            ctx,
		ID:                 PredictionEntityID(p.TenantID, p.EntityID, p.Attribute),
		Type:               EntityType,
		RefEntity:          relationship{Type: "Relationship", Object: p.EntityID},
		PredictedAttribute: property{Type: "Property", Value: p.Attribute},
		Predictions:        property{Type: "Property", Value: p.Points},
		Model:              property{Type: "Property", Value: p.Model},
		// C62 is the UN/CEFACT dimensionless unit for the 0-1 scale.
		Confidence:  property{Type: "Property", Value: p.Confidence, UnitCode: "C62"},
		GeneratedAt: generatedAtProperty(p.GeneratedAt),
	}
}

func buildUpdate(p PredictionParams) predictionUpdate {
	return predictionUpdate{
		Predictions: property{Type: "Property", Value: p.Points},
		Confidence:  property{Type: "Property", Value: p.Confidence, UnitCode: "C62"},
		GeneratedAt: generatedAtProperty(p.GeneratedAt),
	}
}

func generatedAtProperty(ts time.Time) property {
	return property{
		Type: "Property",
		Value: dateTime{
			Type:  "DateTime",
			Value: ts.UTC().Format(time.RFC3339Nano),
		},
	}
}

// fetchedEntity is the subset of a stored entity needed for the staleness
// gate on republish.
type fetchedEntity struct {
	ID          string `json:"id"`
	GeneratedAt struct {
		Value dateTime `json:"value"`
	} `json:"generatedAt"`
}

func (e fetchedEntity) generatedAt() (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339Nano, e.GeneratedAt.Value.Value)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
