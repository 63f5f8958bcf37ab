package scoring

// KeywordSetVersion identifies the keyword lists below. Scored rows produced
// with different versions are not directly comparable; bump on any list edit.
const KeywordSetVersion = "v1"

// Terms signalling a simple, quickly rebuildable utility.
var lowComplexityKeywords = []string{
	"counter", "timer", "widget", "filter", "scanner", "qr", "pdf",
	"noise", "ringtone", "collage", "converter", "calculator", "flashlight",
	"mirror", "ruler", "level", "compass", "magnifier", "recorder",
	"note", "memo", "reminder", "list", "simple", "basic", "easy",
}

// Terms signalling engineering depth that lowers the complexity score.
var complexityIndicators = []string{
	"ai", "ml", "machine learning", "neural", "algorithm",
	"analytics", "complex", "advanced", "professional",
	"enterprise", "business", "workflow", "integration",
}

// Major brand and franchise terms that raise moat risk.
var highMoatKeywords = []string{
	"official", "disney", "marvel", "snapchat", "tiktok", "instagram",
	"facebook", "twitter", "youtube", "netflix", "spotify", "amazon",
	"google", "apple", "microsoft", "adobe", "sony", "nintendo",
	"pokemon", "star wars", "minecraft", "fortnite", "coca cola",
	"mcdonalds", "nike", "adidas", "uber", "airbnb", "tesla",
}

// Generic trademark markers for the moderate-risk tier.
var trademarkIndicators = []string{
	"tm", "®", "©", "trademark", "copyright", "patent",
	"licensed", "authorized", "certified", "verified",
}

// Paywall vocabulary used to separate the 3.0 and 4.0 free+IAP bands.
var paywallIndicators = []string{
	"premium", "pro", "subscription", "upgrade", "unlock",
	"paywall", "purchase", "buy", "payment", "billing",
}
