package extraction

import (
	"regexp"
	"sort"
	"strings"
)

const (
	CategoryGroceries      = "Groceries"
	CategoryDining         = "Dining"
	CategoryTransportation = "Transportation"
	CategoryFuel           = "Fuel"
	CategoryTravel         = "Travel"
	CategoryOffice         = "Office"
	CategoryUtilities      = "Utilities"
	CategoryEntertainment  = "Entertainment"
	CategoryHealth         = "Health"
	CategoryShopping       = "Shopping"
	CategorySoftware       = "Software"
)

// MerchantInfo contains normalized merchant information.
type MerchantInfo struct {
	Name       string
	Category   string
	Confidence float64
}

// merchantMappings maps known merchant keywords to normalized names and categories.
var merchantMappings = map[string]MerchantInfo{
	// Grocery stores
	"whole foods": {Name: "Whole Foods", Category: CategoryGroceries, Confidence: 0.95},
	"trader joe":  {Name: "Trader Joe's", Category: CategoryGroceries, Confidence: 0.95},
	"safeway":     {Name: "Safeway", Category: CategoryGroceries, Confidence: 0.95},
	"kroger":      {Name: "Kroger", Category: CategoryGroceries, Confidence: 0.95},
	"costco":      {Name: "Costco", Category: CategoryGroceries, Confidence: 0.9},
	"aldi":        {Name: "Aldi", Category: CategoryGroceries, Confidence: 0.95},
	"publix":      {Name: "Publix", Category: CategoryGroceries, Confidence: 0.95},

	// Restaurants and coffee
	"starbucks":   {Name: "Starbucks", Category: CategoryDining, Confidence: 0.95},
	"mcdonald":    {Name: "McDonald's", Category: CategoryDining, Confidence: 0.95},
	"chipotle":    {Name: "Chipotle", Category: CategoryDining, Confidence: 0.95},
	"subway":      {Name: "Subway", Category: CategoryDining, Confidence: 0.9},
	"dunkin":      {Name: "Dunkin'", Category: CategoryDining, Confidence: 0.95},
	"uber eats":   {Name: "Uber Eats", Category: CategoryDining, Confidence: 0.95},
	"doordash":    {Name: "DoorDash", Category: CategoryDining, Confidence: 0.95},
	"grubhub":     {Name: "Grubhub", Category: CategoryDining, Confidence: 0.95},
	"pizza hut":   {Name: "Pizza Hut", Category: CategoryDining, Confidence: 0.95},
	"burger king": {Name: "Burger King", Category: CategoryDining, Confidence: 0.95},

	// Transportation and fuel
	"uber":    {Name: "Uber", Category: CategoryTransportation, Confidence: 0.9},
	"lyft":    {Name: "Lyft", Category: CategoryTransportation, Confidence: 0.95},
	"shell":   {Name: "Shell", Category: CategoryFuel, Confidence: 0.9},
	"chevron": {Name: "Chevron", Category: CategoryFuel, Confidence: 0.95},
	"exxon":   {Name: "Exxon", Category: CategoryFuel, Confidence: 0.95},

	// Travel
	"delta air":  {Name: "Delta Air Lines", Category: CategoryTravel, Confidence: 0.95},
	"united air": {Name: "United Airlines", Category: CategoryTravel, Confidence: 0.95},
	"airbnb":     {Name: "Airbnb", Category: CategoryTravel, Confidence: 0.95},
	"marriott":   {Name: "Marriott", Category: CategoryTravel, Confidence: 0.95},
	"hilton":     {Name: "Hilton", Category: CategoryTravel, Confidence: 0.95},

	// Office and software
	"staples":      {Name: "Staples", Category: CategoryOffice, Confidence: 0.95},
	"office depot": {Name: "Office Depot", Category: CategoryOffice, Confidence: 0.95},
	"github":       {Name: "GitHub", Category: CategorySoftware, Confidence: 0.95},
	"adobe":        {Name: "Adobe", Category: CategorySoftware, Confidence: 0.9},

	// Retail
	"amazon":   {Name: "Amazon", Category: CategoryShopping, Confidence: 0.85},
	"target":   {Name: "Target", Category: CategoryShopping, Confidence: 0.85},
	"walmart":  {Name: "Walmart", Category: CategoryShopping, Confidence: 0.85},
	"best buy": {Name: "Best Buy", Category: CategoryShopping, Confidence: 0.9},

	// Health
	"cvs":       {Name: "CVS", Category: CategoryHealth, Confidence: 0.9},
	"walgreens": {Name: "Walgreens", Category: CategoryHealth, Confidence: 0.95},
}

// categoryKeywords is checked in order; the first category with a keyword
// present in the text wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryFuel, []string{"fuel", "gasoline", "unleaded", "diesel", "gallons"}},
	{CategoryGroceries, []string{"grocery", "groceries", "supermarket", "produce", "market"}},
	{CategoryDining, []string{"restaurant", "cafe", "coffee", "espresso", "latte", "pizza", "burger", "grill", "bistro", "server", "gratuity", "tip"}},
	{CategoryTransportation, []string{"taxi", "parking", "toll", "transit", "metro", "ride"}},
	{CategoryTravel, []string{"hotel", "airline", "flight", "boarding", "lodging", "inn"}},
	{CategoryOffice, []string{"office", "paper", "toner", "printer", "stationery"}},
	{CategoryUtilities, []string{"electric", "utility", "water bill", "internet", "wireless", "phone bill"}},
	{CategoryEntertainment, []string{"cinema", "movie", "theater", "theatre", "tickets", "concert"}},
	{CategoryHealth, []string{"pharmacy", "rx", "clinic", "dental", "medical"}},
	{CategorySoftware, []string{"subscription", "software", "license", "saas"}},
}

var (
	merchantKeys     []string
	merchantPatterns = map[string]*regexp.Regexp{}
	keywordPatterns  = map[string]*regexp.Regexp{}
	storeNumberRegex = regexp.MustCompile(`(?i)\s*(#\s*\d+|store\s*\d+|no\.?\s*\d+)\b`)
)

func init() {
	for k := range merchantMappings {
		merchantKeys = append(merchantKeys, k)
		merchantPatterns[k] = regexp.MustCompile(`\b` + regexp.QuoteMeta(k))
	}
	// Longest keys first so "uber eats" wins over "uber".
	sort.Slice(merchantKeys, func(i, j int) bool {
		if len(merchantKeys[i]) != len(merchantKeys[j]) {
			return len(merchantKeys[i]) > len(merchantKeys[j])
		}
		return merchantKeys[i] < merchantKeys[j]
	})
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			keywordPatterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
}

// LookupMerchant returns the known merchant mentioned in s.
func LookupMerchant(s string) (MerchantInfo, bool) {
	lower := strings.ToLower(s)
	for _, k := range merchantKeys {
		if merchantPatterns[k].MatchString(lower) {
			return merchantMappings[k], true
		}
	}
	return MerchantInfo{}, false
}

// NormalizeMerchant cleans a raw merchant string and resolves its category.
func NormalizeMerchant(raw string) MerchantInfo {
	if info, ok := LookupMerchant(raw); ok {
		return info
	}
	name := strings.TrimSpace(storeNumberRegex.ReplaceAllString(raw, ""))
	name = strings.Join(strings.Fields(name), " ")
	category := Categorize(raw)
	confidence := 0.3
	if category != "" {
		confidence = 0.6
	}
	return MerchantInfo{Name: name, Category: category, Confidence: confidence}
}

// Categorize guesses a category from keywords in text. Empty when nothing matches.
func Categorize(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if keywordPatterns[kw].MatchString(lower) {
				return ck.category
			}
		}
	}
	return ""
}

// Categories lists the categories the extractors assign.
func Categories() []string {
	return []string{
		CategoryGroceries,
		CategoryDining,
		CategoryTransportation,
		CategoryFuel,
		CategoryTravel,
		CategoryOffice,
		CategoryUtilities,
		CategoryEntertainment,
		CategoryHealth,
		CategoryShopping,
		CategorySoftware,
	}
}
