package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vipul43/invoice-intake/internal/classifier"
	"github.com/vipul43/invoice-intake/internal/docai"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
)

type mockMailProvider struct {
	listHistorySinceFunc   func(ctx context.Context, accessToken string, startHistoryID uint64) (*HistoryResult, error)
	getMessageFunc         func(ctx context.Context, accessToken string, messageID string) (*EmailMessage, error)
	downloadAttachmentFunc func(ctx context.Context, accessToken string, messageID string, attachmentID string) ([]byte, error)
	watchFunc              func(ctx context.Context, accessToken string) (*WatchResult, error)
	refreshAccessTokenFunc func(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)

	historyCalls atomic.Int32
}

func (m *mockMailProvider) ListHistorySince(ctx context.Context, accessToken string, startHistoryID uint64) (*HistoryResult, error) {
	m.historyCalls.Add(1)
	if m.listHistorySinceFunc != nil {
		return m.listHistorySinceFunc(ctx, accessToken, startHistoryID)
	}
	return &HistoryResult{}, nil
}

func (m *mockMailProvider) GetMessage(ctx context.Context, accessToken string, messageID string) (*EmailMessage, error) {
	if m.getMessageFunc != nil {
		return m.getMessageFunc(ctx, accessToken, messageID)
	}
	return &EmailMessage{ID: messageID}, nil
}

func (m *mockMailProvider) DownloadAttachment(ctx context.Context, accessToken string, messageID string, attachmentID string) ([]byte, error) {
	if m.downloadAttachmentFunc != nil {
		return m.downloadAttachmentFunc(ctx, accessToken, messageID, attachmentID)
	}
	return []byte("%PDF-1.4"), nil
}

func (m *mockMailProvider) Watch(ctx context.Context, accessToken string) (*WatchResult, error) {
	if m.watchFunc != nil {
		return m.watchFunc(ctx, accessToken)
	}
	return &WatchResult{}, nil
}

func (m *mockMailProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	if m.refreshAccessTokenFunc != nil {
		return m.refreshAccessTokenFunc(ctx, refreshToken)
	}
	return nil, nil
}

type mockTokenSource struct {
	accessTokenFunc func(ctx context.Context, mailboxID string) (string, error)
}

func (m *mockTokenSource) AccessToken(ctx context.Context, mailboxID string) (string, error) {
	if m.accessTokenFunc != nil {
		return m.accessTokenFunc(ctx, mailboxID)
	}
	return "access-token", nil
}

type mockMessageProcessor struct {
	processMessageFunc func(ctx context.Context, mailboxID string, accessToken string, msg *EmailMessage) (int, error)
	processed          []string
}

func (m *mockMessageProcessor) ProcessMessage(ctx context.Context, mailboxID string, accessToken string, msg *EmailMessage) (int, error) {
	m.processed = append(m.processed, msg.ID)
	if m.processMessageFunc != nil {
		return m.processMessageFunc(ctx, mailboxID, accessToken, msg)
	}
	return 0, nil
}

type mockInvoiceStore struct {
	createFunc              func(ctx context.Context, invoice *models.Invoice) error
	existsForAttachmentFunc func(ctx context.Context, sourceMessageID, attachmentName string) (bool, error)
	findBySignatureFunc     func(ctx context.Context, vendorName string, amount float64, invoiceDate time.Time, excludeID string) (*models.Invoice, error)
	updateExtractionFunc    func(ctx context.Context, invoiceID string, fields repository.ExtractedFields) error
	markDuplicateFunc       func(ctx context.Context, invoiceID string, duplicateOf string) error

	created []*models.Invoice
}

func (m *mockInvoiceStore) Create(ctx context.Context, invoice *models.Invoice) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, invoice); err != nil {
			return err
		}
	}
	m.created = append(m.created, invoice)
	return nil
}

func (m *mockInvoiceStore) ExistsForAttachment(ctx context.Context, sourceMessageID, attachmentName string) (bool, error) {
	if m.existsForAttachmentFunc != nil {
		return m.existsForAttachmentFunc(ctx, sourceMessageID, attachmentName)
	}
	return false, nil
}

func (m *mockInvoiceStore) FindBySignature(ctx context.Context, vendorName string, amount float64, invoiceDate time.Time, excludeID string) (*models.Invoice, error) {
	if m.findBySignatureFunc != nil {
		return m.findBySignatureFunc(ctx, vendorName, amount, invoiceDate, excludeID)
	}
	return nil, nil
}

func (m *mockInvoiceStore) UpdateExtraction(ctx context.Context, invoiceID string, fields repository.ExtractedFields) error {
	if m.updateExtractionFunc != nil {
		return m.updateExtractionFunc(ctx, invoiceID, fields)
	}
	return nil
}

func (m *mockInvoiceStore) MarkDuplicate(ctx context.Context, invoiceID string, duplicateOf string) error {
	if m.markDuplicateFunc != nil {
		return m.markDuplicateFunc(ctx, invoiceID, duplicateOf)
	}
	return nil
}

type mockBlobStore struct {
	putFunc    func(ctx context.Context, name string, contentType string, data []byte) (string, error)
	deleteFunc func(ctx context.Context, name string) error

	puts    []string
	deleted []string
}

func (m *mockBlobStore) Put(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	m.puts = append(m.puts, name)
	if m.putFunc != nil {
		return m.putFunc(ctx, name, contentType, data)
	}
	return "https://storage.example.com/" + name, nil
}

func (m *mockBlobStore) Delete(ctx context.Context, name string) error {
	m.deleted = append(m.deleted, name)
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, name)
	}
	return nil
}

type mockFieldExtractor struct {
	extractFieldsFunc func(ctx context.Context, doc docai.Document) (*docai.ExtractedFields, error)
}

func (m *mockFieldExtractor) ExtractFields(ctx context.Context, doc docai.Document) (*docai.ExtractedFields, error) {
	if m.extractFieldsFunc != nil {
		return m.extractFieldsFunc(ctx, doc)
	}
	return &docai.ExtractedFields{}, nil
}

type mockAuditLog struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (m *mockAuditLog) Create(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditLog) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type mockInvoiceClassifier struct {
	classifyInvoiceFunc func(ctx context.Context, invoiceID string, in classifier.Input) (*classifier.Result, error)
	inputs              []classifier.Input
}

func (m *mockInvoiceClassifier) ClassifyInvoice(ctx context.Context, invoiceID string, in classifier.Input) (*classifier.Result, error) {
	m.inputs = append(m.inputs, in)
	if m.classifyInvoiceFunc != nil {
		return m.classifyInvoiceFunc(ctx, invoiceID, in)
	}
	result := classifier.Fallback()
	return &result, nil
}

type mockClassifier struct {
	classifyFunc func(ctx context.Context, in classifier.Input) classifier.Result
}

func (m *mockClassifier) Classify(ctx context.Context, in classifier.Input) classifier.Result {
	if m.classifyFunc != nil {
		return m.classifyFunc(ctx, in)
	}
	return classifier.Fallback()
}

type mockRunner struct {
	mu      sync.Mutex
	runFunc func(ctx context.Context, mailboxID string, incoming uint64) (*SyncResult, error)
	runs    []string
}

func (m *mockRunner) Run(ctx context.Context, mailboxID string, incoming uint64) (*SyncResult, error) {
	m.mu.Lock()
	m.runs = append(m.runs, mailboxID)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, mailboxID, incoming)
	}
	return &SyncResult{MailboxID: mailboxID, Admitted: true, Reason: AdmissionAdmitted}, nil
}

func (m *mockRunner) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runs...)
}

type mockKicker struct {
	kicked []string
}

func (m *mockKicker) Kick(mailboxID string) {
	m.kicked = append(m.kicked, mailboxID)
}
