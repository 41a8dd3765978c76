package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
)

func newInvoice(id, vendor string) *models.Invoice {
	return &models.Invoice{
		ID:              id,
		MailboxID:       "ap@example.com",
		SourceMessageID: strPtr("msg-" + id),
		AttachmentName:  strPtr("invoice.pdf"),
		BlobName:        "invoices/" + id + ".pdf",
		VendorName:      vendor,
		Status:          models.InvoiceStatusPending,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

func TestInvoiceRepository_ExistsForAttachment(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))

	if err := repo.Create(ctx, newInvoice("inv-1", "Acme")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	exists, err := repo.ExistsForAttachment(ctx, "msg-inv-1", "invoice.pdf")
	if err != nil || !exists {
		t.Errorf("expected attachment to exist, got %v, %v", exists, err)
	}
	exists, err = repo.ExistsForAttachment(ctx, "msg-inv-1", "other.pdf")
	if err != nil || exists {
		t.Errorf("expected other attachment to be absent, got %v, %v", exists, err)
	}

	// The unique index rejects a second row for the same attachment
	dup := newInvoice("inv-2", "Acme")
	dup.SourceMessageID = strPtr("msg-inv-1")
	if err := repo.Create(ctx, dup); err == nil {
		t.Error("expected duplicate attachment insert to fail")
	}
}

func TestInvoiceRepository_FindBySignature(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))
	invoiceDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"inv-1", "inv-2"} {
		if err := repo.Create(ctx, newInvoice(id, "Acme")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		err := repo.UpdateExtraction(ctx, id, ExtractedFields{
			VendorName:  "Acme",
			InvoiceDate: &invoiceDate,
			Amount:      floatPtr(250),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	match, err := repo.FindBySignature(ctx, "ACME", 250, invoiceDate, "inv-2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if match == nil || match.ID != "inv-1" {
		t.Fatalf("expected inv-1 to match, got %+v", match)
	}

	match, err = repo.FindBySignature(ctx, "Acme", 251, invoiceDate, "inv-2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if match != nil {
		t.Errorf("expected no match for a different amount, got %s", match.ID)
	}

	// Rejected invoices never count as originals
	if err := repo.MarkDuplicate(ctx, "inv-1", "inv-0"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	match, err = repo.FindBySignature(ctx, "Acme", 250, invoiceDate, "inv-2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if match != nil {
		t.Errorf("expected rejected invoice to be ignored, got %s", match.ID)
	}
}

func TestInvoiceRepository_LatestConfirmedForVendor(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))

	if err := repo.Create(ctx, newInvoice("inv-1", "Acme")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	latest, err := repo.LatestConfirmedForVendor(ctx, "Acme", "inv-9")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if latest != nil {
		t.Fatalf("expected pending invoice to be ignored, got %s", latest.ID)
	}

	err = repo.UpdateClassification(ctx, "inv-1", ClassificationFields{
		Category:    strPtr("Utilities"),
		Subcategory: strPtr("Electricity"),
		GLAccount:   strPtr("6100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, "inv-1", models.InvoiceStatusApproved); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	latest, err = repo.LatestConfirmedForVendor(ctx, "acme", "inv-9")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if latest == nil || latest.ID != "inv-1" {
		t.Fatalf("expected inv-1, got %+v", latest)
	}
	if latest.GLAccount == nil || *latest.GLAccount != "6100" {
		t.Errorf("expected GL account 6100, got %v", latest.GLAccount)
	}
}

func TestInvoiceRepository_UpdateStatusMissing(t *testing.T) {
	repo := NewInvoiceRepository(newTestDB(t))

	err := repo.UpdateStatus(context.Background(), "missing", models.InvoiceStatusApproved)
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}

	_, err = repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Errorf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestInvoiceRepository_UpdateStatusOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))

	if err := repo.Create(ctx, newInvoice("inv-1", "Acme")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, "inv-1", models.InvoiceStatusApproved); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := repo.UpdateStatus(ctx, "inv-1", models.InvoiceStatusRejected)
	if !errors.Is(err, ErrInvoiceNotPending) {
		t.Errorf("expected ErrInvoiceNotPending, got %v", err)
	}

	stored, err := repo.GetByID(ctx, "inv-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != models.InvoiceStatusApproved {
		t.Errorf("expected status to stay approved, got %s", stored.Status)
	}
}

func TestInvoiceRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceRepository(newTestDB(t))

	for i, id := range []string{"inv-1", "inv-2", "inv-3"} {
		invoice := newInvoice(id, "Acme")
		invoice.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, invoice); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	if err := repo.UpdateStatus(ctx, "inv-2", models.InvoiceStatusApproved); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	pending, total, err := repo.ListByStatus(ctx, models.InvoiceStatusPending, 10, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total != 2 || len(pending) != 2 {
		t.Fatalf("expected 2 pending invoices, got total=%d len=%d", total, len(pending))
	}
	if pending[0].ID != "inv-3" {
		t.Errorf("expected newest invoice first, got %s", pending[0].ID)
	}

	all, total, err := repo.ListByStatus(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total != 3 || len(all) != 1 || all[0].ID != "inv-2" {
		t.Errorf("expected second page to hold inv-2 of 3, got total=%d %+v", total, all)
	}
}
