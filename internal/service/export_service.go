package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/pkg/duedate"
	"github.com/campuslib/journal-loans-api/pkg/export"
	"github.com/campuslib/journal-loans-api/pkg/storage"
)

type exportLoanReader interface {
	Find(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService builds loan report datasets and persists rendered files.
type ExportService struct {
	loans   exportLoanReader
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig

	now func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(loans exportLoanReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		loans:   loans,
		storage: files,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     duedate.Today,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/reports/download/%s", prefix, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// SignedURL mints a fresh download URL for an already rendered report.
func (s *ExportService) SignedURL(reportID, relPath string) (string, error) {
	token, _, err := s.signer.Generate(reportID, relPath)
	if err != nil {
		return "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/reports/download/%s", prefix, token), nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (reportID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured
// ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.%s", strings.ToLower(string(job.Type)), timestamp, job.Format)
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeOverdueLoans:
		return s.buildOverdueDataset(ctx)
	case models.ReportTypeLoanActivity:
		return s.buildActivityDataset(ctx)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

var loanReportHeaders = []string{"Loan ID", "Journal", "Teacher", "Start Date", "Due Date", "Return Date", "Status"}

func loanReportRow(item models.LoanDetail) map[string]string {
	returnDate := ""
	if item.ReturnDate != nil {
		returnDate = duedate.Format(*item.ReturnDate)
	}
	return map[string]string{
		"Loan ID":     item.ID,
		"Journal":     item.JournalName,
		"Teacher":     item.TeacherName,
		"Start Date":  duedate.Format(item.StartDate),
		"Due Date":    duedate.Format(item.DueDate),
		"Return Date": returnDate,
		"Status":      string(item.Status),
	}
}

func (s *ExportService) buildOverdueDataset(ctx context.Context) (export.Dataset, string, error) {
	today := s.now()
	items, err := s.loans.Find(ctx, models.LoanFilter{OverdueOn: &today})
	if err != nil {
		return export.Dataset{}, "", err
	}

	headers := append(append([]string{}, loanReportHeaders...), "Days Late")
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		row := loanReportRow(item)
		row["Days Late"] = fmt.Sprintf("%d", duedate.OverdueDays(item.DueDate, today))
		rows = append(rows, row)
	}
	title := fmt.Sprintf("Overdue Loans %s", duedate.Format(today))
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func (s *ExportService) buildActivityDataset(ctx context.Context) (export.Dataset, string, error) {
	items, err := s.loans.Find(ctx, models.LoanFilter{})
	if err != nil {
		return export.Dataset{}, "", err
	}

	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, loanReportRow(item))
	}
	title := fmt.Sprintf("Loan Activity %s", duedate.Format(s.now()))
	return export.Dataset{Headers: loanReportHeaders, Rows: rows}, title, nil
}
