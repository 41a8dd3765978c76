package classifier

// Fallback classification used when every method fails
const (
	FallbackCategory    = "Business Services"
	FallbackSubcategory = "Other"
	FallbackConfidence  = 0.3
)

// Taxonomy maps each known category to its subcategories
var Taxonomy = map[string][]string{
	"Advertising":          {"Media Buying", "Digital Ads", "Print", "Sponsorships"},
	"Business Services":    {"Consulting", "Legal", "Accounting", "Staffing", "Other"},
	"Facilities":           {"Rent", "Maintenance", "Cleaning", "Security"},
	"Insurance":            {"General Liability", "Property", "Health", "Vehicle"},
	"Office & Supplies":    {"Office Supplies", "Furniture", "Equipment", "Printing"},
	"Shipping & Logistics": {"Freight", "Courier", "Postage", "Warehousing"},
	"Software & SaaS":      {"Subscriptions", "Licenses", "Cloud Hosting", "Support"},
	"Travel":               {"Airfare", "Lodging", "Ground Transport", "Meals"},
	"Utilities":            {"Electricity", "Water", "Gas", "Internet", "Phone"},
}

// categoryOrder keeps prompts deterministic
var categoryOrder = []string{
	"Advertising",
	"Business Services",
	"Facilities",
	"Insurance",
	"Office & Supplies",
	"Shipping & Logistics",
	"Software & SaaS",
	"Travel",
	"Utilities",
}

const decisionTreeHints = `1. Recurring monthly bills for power, water, gas, internet or phone lines are Utilities.
2. Anything billed per seat, per month for software or hosting is Software & SaaS.
3. Agency fees, ad platforms and media placements are Advertising.
4. Lease, landlord and building service invoices are Facilities.
5. Carriers, couriers and freight forwarders are Shipping & Logistics.
6. Airlines, hotels, car rental and per-diem meals are Travel.
7. Policies and premiums are Insurance.
8. Professional services (lawyers, accountants, consultants, temp staff) are Business Services.
9. If nothing above fits, use Business Services / Other with low confidence.`

// KnownCategories lists every category in a stable order
func KnownCategories() []string {
	categories := make([]string, len(categoryOrder))
	copy(categories, categoryOrder)
	return categories
}

// KnownSubcategories lists every subcategory, grouped by category
func KnownSubcategories() []string {
	var subcategories []string
	for _, category := range categoryOrder {
		subcategories = append(subcategories, Taxonomy[category]...)
	}
	return subcategories
}

// DecisionTreeHints returns the rules of thumb handed to the model
func DecisionTreeHints() string {
	return decisionTreeHints
}
