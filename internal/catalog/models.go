package catalog

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a product's download record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloaded,
	StatusProcessing,
	StatusProcessed,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions lists the edges workers may take. Operator edges
// (failed→pending, processing→downloaded) go through ResetFailed and
// ReclaimStaleProcessing instead.
var transitions = map[Status][]Status{
	StatusPending:    {StatusDownloaded, StatusFailed},
	StatusDownloaded: {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessed, StatusFailed},
	StatusProcessed:  nil,
	StatusFailed:     nil,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// Terminal reports whether no worker transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether a worker may move a record from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Region is a monitored area of interest. Immutable after creation.
type Region struct {
	ID        int64
	Name      string
	CenterLat float64
	CenterLon float64
	SizeKm    float64
	// Geometry is the WKT polygon of the region's bounding box.
	Geometry  string
	CreatedAt time.Time
}

// RegionInput describes a region to create.
type RegionInput struct {
	Name      string
	CenterLat float64
	CenterLon float64
	SizeKm    float64
	Geometry  string
}

// Product is a discovered catalog scene. Immutable once recorded.
type Product struct {
	ID            int64
	RegionID      int64
	ExternalID    string
	AcquiredAt    time.Time
	CloudCoverPct float64
	Geometry      string
	CreatedAt     time.Time
}

// ProductInput describes a discovered scene to record.
type ProductInput struct {
	ExternalID    string
	AcquiredAt    time.Time
	CloudCoverPct float64
	Geometry      string
}

// DownloadState tracks a product through download and processing.
type DownloadState struct {
	ProductID   int64
	Status      Status
	LocalPath   string
	FileSize    int64
	LastError   string
	Attempts    int
	RequestedAt *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Entry joins a product with its region name and download state.
type Entry struct {
	Product    Product
	RegionName string
	State      DownloadState
}

// MaskStats are the classification counts stored with a mask result.
type MaskStats struct {
	SnowPixels  int64
	TotalPixels int64
	SnowPct     float64
}

// MaskResult is the outcome of classifying one product at one threshold.
type MaskResult struct {
	ID        int64
	ProductID int64
	Threshold float64
	MaskStats
	MaskPath  string
	CreatedAt time.Time
}

// TransitionMeta carries the fields written alongside a status change.
// Which fields apply depends on the target status.
type TransitionMeta struct {
	LocalPath   string
	FileSize    int64
	LastError   string
	Attempts    int
	CompletedAt time.Time
}

// RecordResult counts the outcome of recording discovered products.
type RecordResult struct {
	Created int
	Skipped int
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	RegionID int64
	Statuses []Status
	Limit    int
}

// ProductSummary aggregates the products recorded for a region.
type ProductSummary struct {
	Count         int
	FirstAcquired *time.Time
	LastAcquired  *time.Time
	MinCloudCover float64
	AvgCloudCover float64
	MaxCloudCover float64
}
