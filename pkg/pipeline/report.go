// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Strength is a location strength backed by evidence from the
// analysis stages.
type Strength struct {
	Factor      string `json:"factor" jsonschema:"required,description=The strength factor name"`
	Description string `json:"description" jsonschema:"required"`
	Evidence    string `json:"evidence_from_analysis" jsonschema:"description=Evidence from the analysis supporting this strength"`
}

// Concern is a location risk with its mitigation.
type Concern struct {
	Risk        string `json:"risk" jsonschema:"required,description=The risk or concern name"`
	Description string `json:"description" jsonschema:"required"`
	Mitigation  string `json:"mitigation_strategy" jsonschema:"description=Strategy to mitigate this concern"`
}

// CompetitionProfile summarizes competitor pressure in a zone.
type CompetitionProfile struct {
	TotalCompetitors   int     `json:"total_competitors" jsonschema:"description=Total number of competitors in the zone"`
	DensityPerKM2      float64 `json:"density_per_km2" jsonschema:"description=Competitor density per square kilometer"`
	ChainDominancePct  float64 `json:"chain_dominance_pct" jsonschema:"description=Percentage of chain or franchise competitors"`
	AvgRating          float64 `json:"avg_competitor_rating" jsonschema:"description=Average rating of competitors"`
	HighPerformerCount int     `json:"high_performers_count" jsonschema:"description=Number of competitors rated 4.5 or above"`
}

// MarketCharacteristics captures zone fundamentals in qualitative
// tiers.
type MarketCharacteristics struct {
	PopulationDensity string `json:"population_density" jsonschema:"description=Population density level (Low/Medium/High)"`
	IncomeLevel       string `json:"income_level" jsonschema:"description=Income level of the area (Low/Medium/High)"`
	Infrastructure    string `json:"infrastructure_access" jsonschema:"description=Description of infrastructure access"`
	FootTraffic       string `json:"foot_traffic_pattern" jsonschema:"description=Description of foot traffic patterns"`
	RentalCostTier    string `json:"rental_cost_tier" jsonschema:"description=Rental cost tier (Low/Medium/High)"`
}

// Recommendation is the full analysis of one candidate location.
type Recommendation struct {
	LocationName    string                `json:"location_name" jsonschema:"required"`
	Area            string                `json:"area" jsonschema:"description=Broader area or neighborhood"`
	OverallScore    int                   `json:"overall_score" jsonschema:"required,minimum=0,maximum=100,description=Overall score out of 100"`
	OpportunityType string                `json:"opportunity_type" jsonschema:"description=Type of opportunity"`
	Strengths       []Strength            `json:"strengths"`
	Concerns        []Concern             `json:"concerns"`
	Competition     CompetitionProfile    `json:"competition"`
	Market          MarketCharacteristics `json:"market"`
	CustomerSegment string                `json:"best_customer_segment" jsonschema:"description=Best customer segment to target"`
	FootTraffic     string                `json:"estimated_foot_traffic" jsonschema:"description=Estimated foot traffic description"`
	NextSteps       []string              `json:"next_steps" jsonschema:"description=Actionable next steps"`
}

// Alternative is the short form of a runner-up location.
type Alternative struct {
	LocationName    string `json:"location_name" jsonschema:"required"`
	Area            string `json:"area"`
	OverallScore    int    `json:"overall_score" jsonschema:"minimum=0,maximum=100"`
	OpportunityType string `json:"opportunity_type"`
	KeyStrength     string `json:"key_strength"`
	KeyConcern      string `json:"key_concern"`
	WhyNotTop       string `json:"why_not_top" jsonschema:"description=Reason why this is not the top recommendation"`
}

// Report is the structured output of the strategy synthesis stage.
type Report struct {
	TargetLocation       string         `json:"target_location" jsonschema:"required,description=The target location being analyzed"`
	BusinessType         string         `json:"business_type" jsonschema:"required,description=The type of business being planned"`
	AnalysisDate         string         `json:"analysis_date" jsonschema:"description=Date of the analysis"`
	MarketValidation     string         `json:"market_validation" jsonschema:"description=Overall market validation summary"`
	TotalCompetitors     int            `json:"total_competitors_found"`
	ZonesAnalyzed        int            `json:"zones_analyzed"`
	TopRecommendation    Recommendation `json:"top_recommendation" jsonschema:"required"`
	AlternativeLocations []Alternative  `json:"alternative_locations"`
	KeyInsights          []string       `json:"key_insights" jsonschema:"description=Key strategic insights from the analysis"`
	Methodology          string         `json:"methodology_summary" jsonschema:"description=Summary of the analysis methodology"`
}

// ReportSchema reflects the Report struct into an inline JSON schema
// map, suitable as a structured-output constraint.
func ReportSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&Report{})

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal report schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal report schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// ParseReport decodes model output, fenced or raw, into a validated
// report.
func ParseReport(text string) (*Report, error) {
	payload := stripCodeFence(text)
	var report Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return &report, nil
}

// Validate checks the fields downstream stages depend on.
func (r *Report) Validate() error {
	if r.TargetLocation == "" {
		return fmt.Errorf("report: target_location is required")
	}
	if r.BusinessType == "" {
		return fmt.Errorf("report: business_type is required")
	}
	if r.TopRecommendation.LocationName == "" {
		return fmt.Errorf("report: top_recommendation is required")
	}
	if err := scoreInRange(r.TopRecommendation.OverallScore); err != nil {
		return fmt.Errorf("report: top_recommendation: %w", err)
	}
	for i, alt := range r.AlternativeLocations {
		if err := scoreInRange(alt.OverallScore); err != nil {
			return fmt.Errorf("report: alternative_locations[%d]: %w", i, err)
		}
	}
	return nil
}

func scoreInRange(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("overall_score %d out of range [0,100]", score)
	}
	return nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
	}
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
