package database

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// CountryResolver maps an AS to the country it is registered in.
type CountryResolver interface {
	// Resolve returns the ISO country code of an ASN, or "" if unknown.
	Resolve(asn uint32) string
	// Count returns the number of ASNs in the mapping.
	Count() int
}

// NullResolver knows no country.
type NullResolver struct{}

func (NullResolver) Resolve(uint32) string { return "" }
func (NullResolver) Count() int            { return 0 }

// MapResolver resolves from an in-memory mapping. It is read-only once built.
type MapResolver struct {
	mapping map[uint32]string
}

// NewMapResolver wraps an existing mapping.
func NewMapResolver(mapping map[uint32]string) *MapResolver {
	return &MapResolver{mapping: mapping}
}

func (r *MapResolver) Resolve(asn uint32) string { return r.mapping[asn] }
func (r *MapResolver) Count() int                { return len(r.mapping) }

// LoadCountryFile reads an "asn,country_code" CSV file (e.g. "13335,US").
// A header line is skipped; malformed rows are ignored.
func LoadCountryFile(path string) (*MapResolver, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	mapping, err := readCountryCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("Loaded %s ASN country mappings from %s", humanize.Comma(int64(len(mapping))), path)
	return NewMapResolver(mapping), nil
}

func readCountryCSV(r io.Reader) (map[uint32]string, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	mapping := make(map[uint32]string)
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, err
		}
		if len(record) < 2 {
			skipped++
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(record[0])), "AS"), 10, 32)
		if err != nil {
			// header or junk
			skipped++
			continue
		}
		country := strings.ToUpper(strings.TrimSpace(record[1]))
		if len(country) == 2 {
			mapping[uint32(asn)] = country
		}
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Debug("Ignored malformed country rows")
	}
	return mapping, nil
}

// LoadCountryTable reads "SELECT asn, country_code FROM <table>".
func LoadCountryTable(ctx context.Context, db *sql.DB, table string) (*MapResolver, error) {
	if table == "" {
		table = "asn_countries"
	}
	start := time.Now()

	query := "SELECT asn, country_code FROM " + pq.QuoteIdentifier(table) +
		" WHERE country_code IS NOT NULL AND country_code != ''"
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	mapping := make(map[uint32]string)
	for rows.Next() {
		var asn int64
		var country string
		if err := rows.Scan(&asn, &country); err != nil {
			continue
		}
		if asn < 0 || asn > int64(^uint32(0)) {
			continue
		}
		mapping[uint32(asn)] = strings.ToUpper(country)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}

	log.Infof("Loaded %s ASN country mappings from %s in %v",
		humanize.Comma(int64(len(mapping))), table, time.Since(start))
	return NewMapResolver(mapping), nil
}
