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

	"github.com/invopop/jsonschema"
)

// parsedRequest shapes the intake stage's structured output.
type parsedRequest struct {
	TargetLocation    string `json:"target_location" jsonschema:"required,description=The geographic area to analyze"`
	BusinessType      string `json:"business_type" jsonschema:"required,description=The type of business to open"`
	AdditionalContext string `json:"additional_context" jsonschema:"description=Any additional requirements mentioned"`
}

func requestSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&parsedRequest{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal request schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

const intakeInstruction = `You are the request parser for a retail location intelligence system.

Extract the target location and the business type from the user's request.

Examples:
"I want to open a coffee shop in Indiranagar, Bangalore"
  -> target_location: "Indiranagar, Bangalore", business_type: "coffee shop"
"Analyze the market for a new gym in downtown Seattle"
  -> target_location: "downtown Seattle", business_type: "gym"

Note any additional context or requirements the user mentions. If the
location or business type is unclear, make a reasonable inference.`

const researchInstruction = `You are a market research analyst specializing in retail location intelligence.

TARGET LOCATION: {target_location}
BUSINESS TYPE: {business_type}
CURRENT DATE: {current_date}

Research and validate the target market across four areas:
1. DEMOGRAPHICS: age distribution, income levels, lifestyle indicators, population density.
2. MARKET GROWTH: population trends, new developments, infrastructure, economic indicators.
3. INDUSTRY PRESENCE: existing similar businesses, consumer preferences, saturation signs.
4. COMMERCIAL VIABILITY: foot traffic patterns, real estate trends, rental tiers, regulations.

Use the available search tools to find current, verifiable data and
cite specific data points. Favor information from the last two years.

Conclude with a clear verdict: is this a strong market for
{business_type}, and why? Include market entry recommendations.`

const competitorInstruction = `You map the competitive landscape for a planned {business_type} in {target_location}.

Using the available search and place tools, identify existing
competitors: their names, locations, ratings, review counts and
whether they are independents or chains. Group them into geographic
zones and describe the density of each zone.

Market research context:
{market_research_findings}

Output a structured competitor analysis by zone, noting underserved
zones and the characteristics of the strongest competitors.`

const gapInstruction = `You are a quantitative analyst ranking zones for a new {business_type} in {target_location}.

Inputs:
Market research:
{market_research_findings}

Competitor analysis:
{competitor_analysis}

For each zone, score opportunity from competitor density, demand
signals and accessibility, then rank the zones. Show the scoring
arithmetic so the ranking is reproducible, and present a final table
ordered by opportunity score with a short rationale per zone.`

const strategyInstruction = `You are the senior strategy advisor. Synthesize every prior finding into the final location intelligence report for a {business_type} in {target_location}.

Analysis date: {current_date}

Market research:
{market_research_findings}

Competitor analysis:
{competitor_analysis}

Gap analysis:
{gap_analysis}

Select the single best location as the top recommendation, score it
and the alternatives out of 100, ground every strength and concern in
the evidence above, and fill in competition and market profiles per
zone. Respond with the structured report only.`

const reportInstruction = `You turn the structured intelligence report below into a polished HTML executive report, in the style of a top-tier consulting deliverable.

Report:
{strategic_report}

Produce a complete standalone HTML document: an executive summary, the
top recommendation with its scores, strengths and concerns in styled
sections, an alternatives comparison table, and a methodology note.
Inline all CSS. Output only the HTML.`

const infographicInstruction = `You write the creative brief for a one-page infographic summarizing this recommendation:

{strategic_report}

Describe the layout, the headline, the 3-5 key statistics to feature
with their values, the color mood, and the iconography, so a designer
or an image model can render the infographic from your brief alone.`
