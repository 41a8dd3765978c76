package docai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

const extractionPrompt = `You read invoices, bills and receipts and return their header fields as JSON.

Rules:
- vendor_name: the company that issued the document, not the recipient.
- invoice_date and due_date: YYYY-MM-DD, or null when absent.
- amount: the total amount due as a number without currency symbols, or null.
- currency: ISO 4217 code when it can be determined, else null.
- text: a plain-text excerpt of the line items and any notes (at most 2000 characters).
- Never invent values. Use null for anything you cannot read.`

// Document is one attachment handed to the model
type Document struct {
	Name     string
	MimeType string
	Data     []byte
	Hint     string // Subject and body of the carrying email
}

// ExtractedFields is the decoded extraction answer
type ExtractedFields struct {
	VendorName    *string  `json:"vendor_name"`
	InvoiceNumber *string  `json:"invoice_number"`
	InvoiceDate   *string  `json:"invoice_date"`
	DueDate       *string  `json:"due_date"`
	Amount        *float64 `json:"amount"`
	Currency      *string  `json:"currency"`
	Text          *string  `json:"text"`
}

// ExtractFields asks the model to read the document's header fields
func (c *Client) ExtractFields(ctx context.Context, doc Document) (*ExtractedFields, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(fmt.Sprintf("File name: %s\nEmail context:\n%s", doc.Name, TruncateText(doc.Hint, 1000))),
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", doc.MimeType, base64.StdEncoding.EncodeToString(doc.Data))
	if strings.HasPrefix(doc.MimeType, "image/") {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	} else {
		parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(dataURL),
			Filename: openai.String(doc.Name),
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractionPrompt),
		openai.UserMessage(parts),
	}

	var fields ExtractedFields
	if err := c.complete(ctx, schemaExtraction, messages, &fields); err != nil {
		return nil, fmt.Errorf("failed to extract fields from %s: %w", doc.Name, err)
	}
	return &fields, nil
}

// ParseDate reads a YYYY-MM-DD date returned by the model. Invalid or empty values yield nil.
func ParseDate(value *string) *time.Time {
	if value == nil {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*value))
	if err != nil {
		return nil
	}
	return &parsed
}

// TruncateText cuts text to at most maxRunes runes
func TruncateText(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
