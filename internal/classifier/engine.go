package classifier

import (
	"context"
	"log"

	"github.com/vipul43/invoice-intake/internal/docai"
	"github.com/vipul43/invoice-intake/internal/models"
)

const (
	// MaxConfidence caps every classification confidence
	MaxConfidence = 0.95

	VendorConfidence = 0.95

	patternAcceptThreshold = 0.8
	patternUsableThreshold = 0.5

	// Vendors seen more than this many times earn a confidence boost
	familiarVendorObservations = 3
	familiarVendorBoost        = 0.1
)

// VendorHistory finds the last settled invoice of a vendor
type VendorHistory interface {
	LatestConfirmedForVendor(ctx context.Context, vendorName string, excludeID string) (*models.Invoice, error)
}

// PatternStore provides learned patterns
type PatternStore interface {
	List(ctx context.Context) ([]models.ClassificationPattern, error)
	IncrementUsage(ctx context.Context, patternID string) error
}

// VendorStats reports how often a vendor has been observed
type VendorStats interface {
	ObservationCount(ctx context.Context, name string) (int, error)
}

// Model is the document-understanding model
type Model interface {
	Classify(ctx context.Context, req docai.ClassificationRequest) (*docai.Classification, error)
	Describe(ctx context.Context, req docai.DescriptionRequest) (*docai.Classification, error)
}

// Input is what the engine knows about an invoice
type Input struct {
	InvoiceID  string
	VendorName string
	Amount     *float64
	Text       string
}

// Result is the engine's decision
type Result struct {
	Category      string
	Subcategory   string
	GLAccount     *string
	Branch        *string
	Division      *string
	PaymentMethod *string
	Description   *string
	Confidence    float64
	Method        string
	PatternID     *string
}

// Engine runs vendor memory, pattern scoring and model inference, then blends them
type Engine struct {
	history  VendorHistory
	patterns PatternStore
	stats    VendorStats
	model    Model
}

func NewEngine(history VendorHistory, patterns PatternStore, stats VendorStats, model Model) *Engine {
	return &Engine{
		history:  history,
		patterns: patterns,
		stats:    stats,
		model:    model,
	}
}

// Classify never fails: when every method is unavailable it returns Fallback()
func (e *Engine) Classify(ctx context.Context, in Input) Result {
	hasVendor := in.VendorName != "" && in.VendorName != models.PlaceholderVendorName

	// Step 1: vendor memory
	if hasVendor {
		if result, ok := e.fromVendorMemory(ctx, in); ok {
			return result
		}
	}

	// Step 2: pattern scoring
	pattern := e.fromPatterns(ctx, in)

	// Step 3: model, skipped when a pattern is already decisive
	var model *Result
	if pattern == nil || pattern.Confidence <= patternAcceptThreshold {
		model = e.fromModel(ctx, in)
	}

	// Step 4: blend
	blended := Blend(pattern, model)
	if blended == nil {
		log.Printf("Warning: all classification methods failed for invoice %s, using fallback", in.InvoiceID)
		return Fallback()
	}

	if hasVendor && e.stats != nil {
		count, err := e.stats.ObservationCount(ctx, in.VendorName)
		if err != nil {
			log.Printf("Warning: failed to read vendor profile for %s: %v", in.VendorName, err)
		} else if count > familiarVendorObservations {
			blended.Confidence += familiarVendorBoost
		}
	}
	blended.Confidence = clamp(blended.Confidence)

	return *blended
}

func (e *Engine) fromVendorMemory(ctx context.Context, in Input) (Result, bool) {
	if e.history == nil {
		return Result{}, false
	}

	prior, err := e.history.LatestConfirmedForVendor(ctx, in.VendorName, in.InvoiceID)
	if err != nil {
		log.Printf("Warning: failed to read vendor history for %s: %v", in.VendorName, err)
		return Result{}, false
	}
	if prior == nil || !prior.HasConfirmedClassification() {
		return Result{}, false
	}

	result := Result{
		Category:      *prior.Category,
		Subcategory:   *prior.Subcategory,
		GLAccount:     prior.GLAccount,
		Branch:        prior.Branch,
		Division:      prior.Division,
		PaymentMethod: prior.PaymentMethod,
		Description:   prior.Description,
		Confidence:    VendorConfidence,
		Method:        models.MethodVendor,
	}

	if e.model == nil {
		return result, true
	}

	described, err := e.model.Describe(ctx, docai.DescriptionRequest{
		VendorName:  in.VendorName,
		Amount:      in.Amount,
		TextExcerpt: in.Text,
		Category:    result.Category,
		Subcategory: result.Subcategory,
	})
	if err != nil {
		log.Printf("Warning: description failed for invoice %s, reusing prior invoice %s: %v", in.InvoiceID, prior.ID, err)
		return result, true
	}

	result.Description = firstNonEmpty(described.Description, result.Description)
	result.GLAccount = firstNonEmpty(described.GLAccount, result.GLAccount)
	result.Branch = firstNonEmpty(described.Branch, result.Branch)
	result.PaymentMethod = firstNonEmpty(described.PaymentMethod, result.PaymentMethod)

	return result, true
}

func (e *Engine) fromPatterns(ctx context.Context, in Input) *Result {
	if e.patterns == nil {
		return nil
	}

	patterns, err := e.patterns.List(ctx)
	if err != nil {
		log.Printf("Warning: failed to load classification patterns: %v", err)
		return nil
	}

	best, score := BestPattern(patterns, in.VendorName, in.Amount, in.Text)
	if best == nil {
		return nil
	}

	if err := e.patterns.IncrementUsage(ctx, best.ID); err != nil {
		log.Printf("Warning: failed to increment usage of pattern %s: %v", best.ID, err)
	}

	patternID := best.ID
	return &Result{
		Category:      best.Category,
		Subcategory:   best.Subcategory,
		GLAccount:     best.GLAccount,
		Branch:        best.Branch,
		PaymentMethod: best.PaymentMethod,
		Confidence:    PatternConfidence(score, best.SuccessRate),
		Method:        models.MethodPattern,
		PatternID:     &patternID,
	}
}

func (e *Engine) fromModel(ctx context.Context, in Input) *Result {
	if e.model == nil {
		return nil
	}

	classification, err := e.model.Classify(ctx, docai.ClassificationRequest{
		VendorName:         in.VendorName,
		Amount:             in.Amount,
		TextExcerpt:        in.Text,
		KnownCategories:    KnownCategories(),
		KnownSubcategories: KnownSubcategories(),
		DecisionTreeHints:  DecisionTreeHints(),
	})
	if err != nil {
		log.Printf("Warning: model classification failed for invoice %s: %v", in.InvoiceID, err)
		return nil
	}
	if classification.Category == nil || *classification.Category == "" ||
		classification.Subcategory == nil || *classification.Subcategory == "" {
		log.Printf("Warning: model returned no category for invoice %s", in.InvoiceID)
		return nil
	}

	return &Result{
		Category:      *classification.Category,
		Subcategory:   *classification.Subcategory,
		GLAccount:     classification.GLAccount,
		Branch:        classification.Branch,
		Division:      classification.Division,
		PaymentMethod: classification.PaymentMethod,
		Description:   classification.Description,
		Confidence:    classification.Confidence,
		Method:        models.MethodModel,
	}
}

// Blend combines the pattern and model answers. Either may be nil.
// Returns nil when neither produced anything.
func Blend(pattern, model *Result) *Result {
	// Decisive pattern
	if pattern != nil && pattern.Confidence > patternAcceptThreshold {
		result := *pattern
		return &result
	}

	// No usable pattern
	if pattern == nil || pattern.Confidence < patternUsableThreshold {
		if model != nil {
			result := *model
			return &result
		}
		if pattern != nil {
			result := *pattern
			return &result
		}
		return nil
	}

	if model == nil {
		result := *pattern
		return &result
	}

	// Hybrid: structured fields from the more confident side, equal goes to the pattern
	base := *model
	if pattern.Confidence >= model.Confidence {
		base = *pattern
	}

	base.Description = firstNonEmpty(model.Description, base.Description)
	base.Division = firstNonEmpty(base.Division, model.Division)
	base.Confidence = (pattern.Confidence + model.Confidence) / 2
	base.Method = models.MethodHybrid
	base.PatternID = pattern.PatternID

	return &base
}

// Fallback is the classification recorded when nothing else worked
func Fallback() Result {
	return Result{
		Category:    FallbackCategory,
		Subcategory: FallbackSubcategory,
		Confidence:  FallbackConfidence,
		Method:      models.MethodHybrid,
	}
}

func firstNonEmpty(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
