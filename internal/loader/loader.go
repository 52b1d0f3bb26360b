// Package loader supplies ledger events to the pipeline from external
// sources: CSV files and a deterministic synthetic generator.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CSV column layout: account,timestamp,action,asset,amount
const csvColumns = 5

// ReadCSV parses ledger events from CSV. The first row is treated as a
// header when its amount column does not parse as a number.
func ReadCSV(r io.Reader) ([]domain.Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = csvColumns

	var events []domain.Event
	line := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++

		amount, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			if line == 1 {
				// Header row
				continue
			}
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, record[4], err)
		}
		if amount < 0 {
			return nil, fmt.Errorf("line %d: negative amount %.4f", line, amount)
		}

		ts, err := time.Parse(time.RFC3339, record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q: %w", line, record[1], err)
		}

		if record[0] == "" {
			return nil, fmt.Errorf("line %d: account is required", line)
		}

		events = append(events, domain.Event{
			Account:   record[0],
			Timestamp: ts.UTC(),
			Action:    domain.Action(record[2]),
			Asset:     record[3],
			Amount:    amount,
		})
	}

	return events, nil
}

// WriteCSV writes events in the loader's CSV layout, header included.
func WriteCSV(w io.Writer, events []domain.Event) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"account", "timestamp", "action", "asset", "amount"}); err != nil {
		return err
	}

	for _, ev := range events {
		record := []string{
			ev.Account,
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.Action),
			ev.Asset,
			strconv.FormatFloat(ev.Amount, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
