package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
)

const (
	maxFiles      = bits.UintSize
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
	batchSize     = 1000
)

// normalize returns the stored form of a raw line, or "" when the line is
// not a usable code.
func normalize(line string) string {
	code := coupon.NormalizeCode(line)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return ""
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') && ch != '-' && ch != '_' {
			return ""
		}
	}
	return code
}

// buildBloomFilters creates one bloom filter per file, concurrently, each
// sized for capacity codes.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findDuplicates returns the codes present in two or more files. Bloom hits
// against other files only nominate candidates; the bitmask merge confirms
// them exactly.
func findDuplicates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	found := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			found[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range found {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}
	dups := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			dups[code] = struct{}{}
		}
	}
	return dups, nil
}

type batchWriter interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

// writeCoupons streams every file again and upserts the codes that are not
// duplicated across batches, stamped with tmpl. Repeats within one file are
// written once.
func writeCoupons(ctx context.Context, w batchWriter, files []string, dups map[string]struct{}, tmpl coupon.Coupon) (int, error) {
	seen := make(map[string]struct{})
	batch := make([]coupon.Coupon, 0, batchSize)
	written := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		slog.Info("write progress", slog.Int("written", written))
		return nil
	}

	for _, path := range files {
		var flushErr error
		err := streamGzFile(ctx, path, func(code string) {
			if flushErr != nil {
				return
			}
			if _, dup := dups[code]; dup {
				return
			}
			if _, ok := seen[code]; ok {
				return
			}
			seen[code] = struct{}{}

			c := tmpl
			c.Code = code
			batch = append(batch, c)
			if len(batch) == batchSize {
				flushErr = flush()
			}
		})
		if err == nil {
			err = flushErr
		}
		if err != nil {
			return written, errors.Wrapf(err, "import %s", path)
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// streamGzFile calls fn for each usable code in a gzip-compressed file.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := normalize(scanner.Text()); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
