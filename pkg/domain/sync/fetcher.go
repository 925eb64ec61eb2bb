package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/types"
)

// VendorAPI is the slice of the wearable vendor's HTTP API the fetchers
// need. Defined at the consumer; the integrations package provides the real
// implementation.
type VendorAPI interface {
	Permissions(ctx context.Context) ([]string, error)
	ExternalUserID(ctx context.Context) (string, error)
	// UploadedSummaries pulls recently uploaded summaries for one dataset
	// within a vendor-legal window.
	UploadedSummaries(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error)
	// BackfillSummaries pulls historical summaries for one dataset within a
	// vendor-legal window. Requires the historical-export scope.
	BackfillSummaries(ctx context.Context, dataset string, w Window) ([]map[string]interface{}, error)
}

// Tier is one stage of the ordered data-acquisition chain.
type Tier int

const (
	TierStore Tier = iota
	TierUpload
	TierBackfill
	TierCache
	tierDone
)

func (t Tier) String() string {
	switch t {
	case TierStore:
		return "store"
	case TierUpload:
		return "upload"
	case TierBackfill:
		return "backfill"
	case TierCache:
		return "cache"
	default:
		return "done"
	}
}

// FetchInput carries everything one dataset family's chain needs for a
// single invocation.
type FetchInput struct {
	Dataset            string
	StoreRows          []types.ExportRow
	Since              time.Time
	Until              time.Time
	LookbackDays       int
	HasHistoricalScope bool
}

// FetchOutcome is the result of running the chain for one dataset family.
type FetchOutcome struct {
	Records []map[string]interface{}
	Source  Tier
	Notices []string
}

// FallbackFetcher orchestrates the tiered acquisition chain for the dataset
// families. The vendor it holds is expected to already carry the one-shot
// auth refresh, so any auth error it returns is terminal.
type FallbackFetcher struct {
	Vendor           VendorAPI
	Cache            shared.AnalyticsStore
	UserID           string
	MaxWindowSeconds int64
	Logger           *slog.Logger
}

// Fetch runs the chain for one dataset family, stopping at the first tier
// that yields at least one record. The returned error is non-nil only for
// authentication failures, which abort the whole sync; any other vendor
// failure degrades the dataset to empty with a notice.
func (f *FallbackFetcher) Fetch(ctx context.Context, in FetchInput) (FetchOutcome, error) {
	out := FetchOutcome{Source: TierStore}
	logger := f.logger()

	state := TierStore
	var backfillFailureNotice string

	for state != tierDone {
		switch state {

		case TierStore:
			records := rowPayloads(in.StoreRows)
			if len(records) > 0 {
				out.Records = records
				out.Source = TierStore
				return out, nil
			}
			state = TierUpload

		case TierUpload:
			records, err := f.pullWindowed(ctx, in, f.Vendor.UploadedSummaries)
			if err != nil {
				next, terminal := f.afterUploadError(in, err)
				if terminal != nil {
					return out, terminal
				}
				if next == TierBackfill {
					out.Notices = append(out.Notices, fmt.Sprintf(
						"recent-upload pull for %s failed (%v); retrying via historical backfill", in.Dataset, err))
				} else {
					out.Notices = append(out.Notices, fmt.Sprintf(
						"%s pull failed (%v); continuing with no vendor %s", in.Dataset, err, in.Dataset))
					logger.Warn("Vendor pull failed, dataset degraded", "dataset", in.Dataset, "error", err)
				}
				state = next
				continue
			}
			if len(records) > 0 {
				out.Records = records
				out.Source = TierUpload
				out.Notices = append(out.Notices, fmt.Sprintf(
					"webhook feeds were empty, so %d %s were pulled directly from the recent-upload API", len(records), in.Dataset))
				return out, nil
			}
			state = f.afterEmptyTier(TierUpload, in)

		case TierBackfill:
			records, err := f.pullWindowed(ctx, in, f.Vendor.BackfillSummaries)
			if err != nil {
				if IsCancellation(err) {
					return out, err
				}
				if IsAuthClass(err) {
					return out, &AuthError{Message: "historical backfill pull", Cause: err}
				}
				backfillFailureNotice = fmt.Sprintf(
					"historical backfill for %s failed (%v); continuing with no vendor %s", in.Dataset, err, in.Dataset)
				out.Notices = append(out.Notices, backfillFailureNotice)
				logger.Warn("Backfill pull failed, dataset degraded", "dataset", in.Dataset, "error", err)
				state = f.afterEmptyTier(TierBackfill, in)
				continue
			}
			if len(records) > 0 {
				out.Records = records
				out.Source = TierBackfill
				out.Notices = append(out.Notices, fmt.Sprintf(
					"%d %s recovered via historical backfill", len(records), in.Dataset))
				return out, nil
			}
			state = f.afterEmptyTier(TierBackfill, in)

		case TierCache:
			records, err := f.Cache.QueryCachedActivities(ctx, f.UserID, in.LookbackDays)
			if err != nil {
				out.Notices = append(out.Notices, fmt.Sprintf("activity cache lookup failed (%v)", err))
				state = tierDone
				continue
			}
			if len(records) > 0 {
				out.Records = records
				out.Source = TierCache
				// A cache hit supersedes a backfill failure: the dataset is
				// no longer empty, so drop that notice.
				if backfillFailureNotice != "" {
					out.Notices = removeNotice(out.Notices, backfillFailureNotice)
				}
				out.Notices = append(out.Notices, fmt.Sprintf(
					"no live %s available; %d restored from the cached activity store", in.Dataset, len(records)))
				return out, nil
			}
			state = tierDone
		}
	}

	return out, nil
}

// afterUploadError decides the edge out of the upload tier on error: enter
// backfill only for fallback-worthy errors when the historical-export scope
// is held; auth errors are terminal; everything else degrades.
func (f *FallbackFetcher) afterUploadError(in FetchInput, err error) (Tier, error) {
	if IsCancellation(err) {
		return tierDone, err
	}
	if IsAuthClass(err) {
		return tierDone, &AuthError{Message: "recent-upload pull", Cause: err}
	}
	if IsFallbackWorthy(err) && in.HasHistoricalScope {
		return TierBackfill, nil
	}
	return f.afterEmptyTier(TierUpload, in), nil
}

// afterEmptyTier decides the edge taken when a tier completes with zero
// records. Only activities may fall through to the cache tier.
func (f *FallbackFetcher) afterEmptyTier(current Tier, in FetchInput) Tier {
	if in.Dataset == shared.DatasetActivities && f.Cache != nil {
		return TierCache
	}
	return tierDone
}

// pullWindowed issues chunked vendor calls sequentially in ascending time
// order, respecting the per-request span limit.
func (f *FallbackFetcher) pullWindowed(ctx context.Context, in FetchInput, pull func(context.Context, string, Window) ([]map[string]interface{}, error)) ([]map[string]interface{}, error) {
	maxSpan := f.MaxWindowSeconds
	if maxSpan <= 0 {
		maxSpan = MaxVendorWindowSeconds
	}

	var records []map[string]interface{}
	for _, w := range ChunkRange(in.Since.Unix(), in.Until.Unix(), maxSpan) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := pull(ctx, in.Dataset, w)
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}
	return records, nil
}

func (f *FallbackFetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func rowPayloads(rows []types.ExportRow) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if row.Payload != nil {
			out = append(out, row.Payload)
		}
	}
	return out
}

func removeNotice(notices []string, target string) []string {
	out := notices[:0]
	for _, n := range notices {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
