package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/pkg/timefmt"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// row is one parsed coupon line.
type row struct {
	file   string
	line   int
	params coupon.CreateParams
}

// fileResult holds the valid rows of one file.
type fileResult struct {
	rows    []row
	invalid int
}

// parseFiles parses every file concurrently. Results keep the order of files.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string, workers int) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
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

			res, err := parseCSV(ctx, lg.With(zap.String("file", path)), path, gz)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			lg.Info("Parsed file",
				zap.String("file", path),
				zap.Int("rows", len(res.rows)),
				zap.Int("invalid", res.invalid),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseCSV reads coupon rows from r. Malformed rows are logged and counted,
// not fatal. A header line starting with "code" is skipped.
func parseCSV(ctx context.Context, lg *zap.Logger, name string, r io.Reader) (fileResult, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var res fileResult
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return fileResult{}, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				lg.Warn("Malformed line", zap.Int("line", line), zap.Error(err))
				res.invalid++
				continue
			}
			return fileResult{}, err
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}

		params, err := parseRecord(rec)
		if err != nil {
			lg.Warn("Invalid row", zap.Int("line", line), zap.Error(err))
			res.invalid++
			continue
		}
		res.rows = append(res.rows, row{file: name, line: line, params: params})
		if len(res.rows)%progressEvery == 0 {
			lg.Info("Parse progress", zap.Int("rows", len(res.rows)))
		}
	}
	return res, nil
}

// parseRecord converts one CSV record. The code is normalised so duplicates
// differing only in case or padding are detected.
func parseRecord(rec []string) (coupon.CreateParams, error) {
	if len(rec) < 4 {
		return coupon.CreateParams{}, errors.Errorf("want at least 4 fields, got %d", len(rec))
	}
	field := func(i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	p := coupon.CreateParams{
		Code:        coupon.NormalizeCode(field(0)),
		Description: field(5),
	}
	if p.Code == "" {
		return p, errors.New("empty code")
	}

	var err error
	if p.DiscountPercentage, err = decimal.NewFromString(field(1)); err != nil {
		return p, errors.Wrap(err, "percentage")
	}
	if p.ValidFrom, err = timefmt.Parse(field(2)); err != nil {
		return p, errors.Wrap(err, "valid_from")
	}
	if p.ValidUntil, err = timefmt.Parse(field(3)); err != nil {
		return p, errors.Wrap(err, "valid_until")
	}
	if raw := field(4); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return p, errors.Wrap(err, "usage_limit")
		}
		p.UsageLimit = &limit
	}
	return p, nil
}

// dedupe keeps the first occurrence of every code across files in order. A
// bloom filter of accepted codes answers most lookups; only its positives are
// checked against the exact set.
func dedupe(files []fileResult) (unique []row, dupes int) {
	total := 0
	for _, f := range files {
		total += len(f.rows)
	}
	accepted := bloom.NewWithEstimates(uint(max(total, 1)), bloomFPR)
	exact := make(map[string]struct{}, total)

	for _, f := range files {
		for _, r := range f.rows {
			code := r.params.Code
			if accepted.TestString(code) {
				if _, seen := exact[code]; seen {
					dupes++
					continue
				}
			}
			accepted.AddString(code)
			exact[code] = struct{}{}
			unique = append(unique, r)
		}
	}
	return unique, dupes
}
