package docai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

const maxExcerptRunes = 4000

const classificationPrompt = `You are an accounts-payable assistant. Classify the invoice into exactly one
category and one subcategory taken from the lists provided, and suggest the GL account,
branch, division, payment method and a one-sentence description.

Return JSON only. Use null for fields you cannot determine. confidence is your
probability (0 to 1) that category and subcategory are correct.`

const describePrompt = `You are an accounts-payable assistant. The category and subcategory of this
invoice are already known. Do not change them. Suggest the GL account, branch,
division, payment method and a one-sentence description of what was purchased.

Return JSON only. Echo the given category and subcategory. Use null for fields you
cannot determine.`

// ClassificationRequest is everything the model sees when classifying an invoice
type ClassificationRequest struct {
	VendorName         string
	Amount             *float64
	TextExcerpt        string
	KnownCategories    []string
	KnownSubcategories []string
	DecisionTreeHints  string
}

// DescriptionRequest asks for descriptive fields of an invoice whose category is settled
type DescriptionRequest struct {
	VendorName  string
	Amount      *float64
	TextExcerpt string
	Category    string
	Subcategory string
}

// Classification is the decoded classification answer
type Classification struct {
	Category      *string `json:"category"`
	Subcategory   *string `json:"subcategory"`
	GLAccount     *string `json:"gl_account"`
	Branch        *string `json:"branch"`
	Division      *string `json:"division"`
	PaymentMethod *string `json:"payment_method"`
	Description   *string `json:"description"`
	Confidence    float64 `json:"confidence"`
}

// Classify runs full model classification
func (c *Client) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Vendor: %s\n", req.VendorName)
	fmt.Fprintf(&b, "Amount: %s\n", formatAmount(req.Amount))
	fmt.Fprintf(&b, "Known categories: %s\n", strings.Join(req.KnownCategories, ", "))
	fmt.Fprintf(&b, "Known subcategories: %s\n", strings.Join(req.KnownSubcategories, ", "))
	fmt.Fprintf(&b, "Decision hints:\n%s\n", req.DecisionTreeHints)
	fmt.Fprintf(&b, "Invoice text:\n%s", TruncateText(req.TextExcerpt, maxExcerptRunes))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classificationPrompt),
		openai.UserMessage(b.String()),
	}

	var result Classification
	if err := c.complete(ctx, schemaClassification, messages, &result); err != nil {
		return nil, fmt.Errorf("failed to classify invoice: %w", err)
	}
	return &result, nil
}

// Describe runs the description-only mode used when vendor memory already settled the category
func (c *Client) Describe(ctx context.Context, req DescriptionRequest) (*Classification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Vendor: %s\n", req.VendorName)
	fmt.Fprintf(&b, "Amount: %s\n", formatAmount(req.Amount))
	fmt.Fprintf(&b, "Category: %s\n", req.Category)
	fmt.Fprintf(&b, "Subcategory: %s\n", req.Subcategory)
	fmt.Fprintf(&b, "Invoice text:\n%s", TruncateText(req.TextExcerpt, maxExcerptRunes))

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(describePrompt),
		openai.UserMessage(b.String()),
	}

	var result Classification
	if err := c.complete(ctx, schemaClassification, messages, &result); err != nil {
		return nil, fmt.Errorf("failed to describe invoice: %w", err)
	}
	return &result, nil
}

func formatAmount(amount *float64) string {
	if amount == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", *amount)
}
