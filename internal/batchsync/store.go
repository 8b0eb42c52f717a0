package batchsync

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("batchsync: not found")
	ErrConflict = errors.New("batchsync: conflict")
)

// Status of a BatchFileRecord. Rows only move pending -> error|processed.
type Status int

const (
	StatusPending   Status = 0
	StatusError     Status = 1
	StatusProcessed Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusProcessed:
		return "processed"
	default:
		return "pending"
	}
}

// Record is one CSV transaction. Fields holds the cleaned column values
// (plus derived csv_* keys); fields that failed validation are absent.
type Record struct {
	ID               int64
	Directory        string
	Kind             string
	FileName         string
	BatchID          string
	Email            string
	Fields           map[string]string
	Status           Status
	Points           float64
	LMSTransactionID string
	EarnID           int64
	RefundID         int64
	APIResponse      string
	Details          string
}

// RecordUpdate is the outcome written back to a record. Zero ids and empty
// strings leave the stored column untouched.
type RecordUpdate struct {
	ID               int64
	Status           Status
	Details          string
	Points           float64
	LMSTransactionID string
	EarnID           int64
	RefundID         int64
	APIResponse      string
	UpdatedAt        time.Time
}

// DirectoryConfig is the operator-managed row of sftp_directory_configuration.
type DirectoryConfig struct {
	Asset                    string
	EmailNotificationEnabled bool
	EmailRecipients          []string
	LogEncryptionKey         string
}

// LMSUser is an app user linked to an LMS membership.
type LMSUser struct {
	ID         int64
	CustomerID int64
	MemberID   string
	Email      string
}

// FileStatus is one row per handled file.
type FileStatus struct {
	Directory         string
	FileName          string
	OK                bool
	Details           string
	TotalRecords      *int
	ValidTransactions int
	Checksum          string
}

const priorityHigh = 1

// Email is an ent_send_emails queue row.
type Email struct {
	To           string
	TemplateID   int
	OptionalData string
	Language     string
	Priority     int
	CreatedAt    time.Time
}

// GroupBinding is a new wlvalidation row granting a user group.
type GroupBinding struct {
	Company     string
	Key         string
	Email       string
	CustomerID  int64
	UserGroup   int64
	ActivatedAt time.Time
}

// Store is everything the synchronizer persists or looks up.
type Store interface {
	DirectoryConfig(ctx context.Context, dir string) (DirectoryConfig, error)
	InsertRecords(ctx context.Context, recs []Record) error
	Records(ctx context.Context, fileName, batchID string, pendingOnly bool) ([]Record, error)
	UpdateRecords(ctx context.Context, ups []RecordUpdate) error

	LMSUserByEmail(ctx context.Context, email string) (LMSUser, error)
	ConceptIDs(ctx context.Context, asset string) (map[string]bool, error)
	ConceptMappings(ctx context.Context, asset string) (map[string]string, error)
	PackageIDs(ctx context.Context) (map[string]bool, error)
	SalesOrderNetValues(ctx context.Context, kind string, orderIDs []string) (map[string]float64, error)

	RecordFileStatus(ctx context.Context, fs FileStatus) error
	QueueEmail(ctx context.Context, e Email) error
	SyncTransactions(ctx context.Context, asset string) error

	GroupByName(ctx context.Context, company, name string) (int64, error)
	ActiveGroups(ctx context.Context, company string, customerID int64) ([]int64, error)
	BindGroup(ctx context.Context, b GroupBinding) (int64, error)
	DeactivateOtherGroups(ctx context.Context, company string, customerID, keepID int64) error
	RefreshSessions(ctx context.Context, company string, customerID int64, at time.Time) error
}
