package domain

// RecommendationKind tags which shape the AI collaborator's answer arrived in.
type RecommendationKind string

const (
	// RecommendationStructured means the model returned parseable JSON.
	RecommendationStructured RecommendationKind = "structured"
	// RecommendationLabeledText means fixed section headers were recognized.
	RecommendationLabeledText RecommendationKind = "labeled_text"
	// RecommendationUnparsed carries the raw text when neither shape matched.
	RecommendationUnparsed RecommendationKind = "unparsed"
)

// StructuredRecommendation is the JSON shape the model is asked to produce.
type StructuredRecommendation struct {
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle"`
	KeyFeatures     []string `json:"key_features"`
	RevenueModel    string   `json:"revenue_model"`
	BuildEstimate   string   `json:"build_estimate"`
	MarketGap       string   `json:"market_gap"`
	CompetitiveEdge string   `json:"competitive_edge"`
	Risks           []string `json:"risks"`
	IOSFeatures     []string `json:"ios_features"`
	Confidence      float64  `json:"confidence"`
}

// Recommendation is the tagged union over the three response shapes. Exactly
// one of Structured, Sections, or Raw is meaningful, selected by Kind. It only
// decorates presentation; scores never depend on it.
type Recommendation struct {
	AppID      string
	Kind       RecommendationKind
	Structured *StructuredRecommendation
	Sections   map[string]string
	Raw        string
}
