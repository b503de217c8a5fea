package results

import (
	"context"
	"strconv"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/echoguard/echoguard/pkg/types"
)

// Record is the persisted unit for one processed input.
type Record struct {
	DeviceID         string `json:"device_id" dynamodbav:"device_id" gorm:"column:device_id;primaryKey"`
	Timestamp        string `json:"timestamp" dynamodbav:"timestamp" gorm:"column:timestamp;primaryKey"`
	MSEValue         string `json:"mse_value" dynamodbav:"mse_value" gorm:"column:mse_value"`
	Status           string `json:"status" dynamodbav:"status" gorm:"column:status"`
	Threshold        string `json:"threshold" dynamodbav:"threshold" gorm:"column:threshold"`
	SourceFile       string `json:"source_file" dynamodbav:"source_file" gorm:"column:source_file"`
	WindowsProcessed string `json:"windows_processed" dynamodbav:"windows_processed" gorm:"column:windows_processed"`
	ProcessedAt      string `json:"processed_at" dynamodbav:"processed_at" gorm:"column:processed_at"`
}

// TableName sets the gorm table name.
func (Record) TableName() string { return "echoguard_results" }

// NewRecord formats a scored input into the persisted string schema.
func NewRecord(deviceID, timestamp, sourceFile string, mse, threshold float64, status types.Status, windows int, processedAt time.Time) Record {
	return Record{
		DeviceID:         deviceID,
		Timestamp:        timestamp,
		MSEValue:         formatFloat(mse),
		Status:           string(status),
		Threshold:        formatFloat(threshold),
		SourceFile:       sourceFile,
		WindowsProcessed: strconv.Itoa(windows),
		ProcessedAt:      processedAt.UTC().Format(time.RFC3339Nano),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MSE parses MSEValue.
func (r Record) MSE() (float64, error) { return strconv.ParseFloat(r.MSEValue, 64) }

// ThresholdValue parses Threshold.
func (r Record) ThresholdValue() (float64, error) { return strconv.ParseFloat(r.Threshold, 64) }

// Windows parses WindowsProcessed.
func (r Record) Windows() (int, error) { return strconv.Atoi(r.WindowsProcessed) }

// ProcessedTime parses ProcessedAt as ISO-8601.
func (r Record) ProcessedTime() (time.Time, error) { return iso8601.ParseString(r.ProcessedAt) }

// Store persists records.
type Store interface {
	// Put inserts r or replaces the record with the same device and timestamp.
	Put(ctx context.Context, r Record) error
}

// Lister returns up to limit records, newest first. A limit <= 0 means all.
type Lister interface {
	List(ctx context.Context, limit int) ([]Record, error)
}

// newestFirst orders by timestamp then processing time, both descending.
func newestFirst(a, b Record) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ProcessedAt > b.ProcessedAt
}
