package catalog

import (
	"context"
	"time"
)

// Repository is the persistence contract the pipeline depends on. Every
// status change is a conditional transition so concurrent workers never
// both complete the same stage for one product.
type Repository interface {
	CreateRegion(ctx context.Context, in RegionInput) (*Region, error)
	RegionByName(ctx context.Context, name string) (*Region, error)
	Regions(ctx context.Context) ([]*Region, error)

	RecordProducts(ctx context.Context, regionID int64, products []ProductInput) (RecordResult, error)
	Entry(ctx context.Context, productID int64) (*Entry, error)
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Entry, error)

	ClaimDownload(ctx context.Context, productID int64, leaseCutoff time.Time) (bool, error)
	Transition(ctx context.Context, productID int64, from, to Status, meta TransitionMeta) error

	RecordMaskResult(ctx context.Context, productID int64, threshold float64, stats MaskStats, maskPath string) (*MaskResult, error)
	MaskResult(ctx context.Context, productID int64, threshold float64) (*MaskResult, error)
	MaskResults(ctx context.Context, productID int64) ([]*MaskResult, error)

	ResetFailed(ctx context.Context, productIDs ...int64) (int64, error)
	ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Repository = (*Store)(nil)
