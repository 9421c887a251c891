package models

import "time"

// ReportType selects the dataset a report job exports.
type ReportType string

// Supported report datasets.
const (
	ReportTypeOverdueLoans ReportType = "overdue_loans"
	ReportTypeLoanActivity ReportType = "loan_activity"
)

// ReportFormat selects the rendered file format.
type ReportFormat string

// Supported output formats.
const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus is the job lifecycle state.
type ReportStatus string

// Report job states.
const (
	ReportStatusQueued     ReportStatus = "queued"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// ReportJob tracks one asynchronous export request.
type ReportJob struct {
	ID           string       `db:"id" json:"id"`
	Type         ReportType   `db:"type" json:"type"`
	Format       ReportFormat `db:"format" json:"format"`
	Status       ReportStatus `db:"status" json:"status"`
	FilePath     *string      `db:"file_path" json:"-"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}
