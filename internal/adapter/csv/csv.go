// Package csv serializes weather records into the tabular CSV layout written
// to object storage: one header row, then one row per record.
package csv

import (
	"bytes"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// ContentType is the MIME type for encoded output.
const ContentType = "text/csv"

// TimeLayout formats the local timestamp columns.
const TimeLayout = "2006-01-02 15:04:05"

// Header lists the column names in output order.
var Header = []string{
	"City",
	"Description",
	"Temperature (F)",
	"Feels Like (F)",
	"Min Temp (F)",
	"Max Temp (F)",
	"Pressure",
	"Humidity",
	"Wind Speed",
	"Time of Record",
	"Sunrise (Local Time)",
	"Sunset (Local Time)",
}

// EncodeRecords writes the header followed by one row per record.
func EncodeRecords(records []domain.WeatherRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := stdcsv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i := range records {
		if err := w.Write(recordToRow(records[i])); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRecords parses output produced by EncodeRecords.
func DecodeRecords(data []byte) ([]domain.WeatherRecord, error) {
	r := stdcsv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(Header)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("read csv: missing header row")
	}
	for i, name := range Header {
		if rows[0][i] != name {
			return nil, fmt.Errorf("read csv: column %d is %q, want %q", i, rows[0][i], name)
		}
	}

	records := make([]domain.WeatherRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordToRow(rec domain.WeatherRecord) []string {
	return []string{
		rec.City,
		rec.Description,
		formatFloat(rec.TempF),
		formatFloat(rec.FeelsLikeF),
		formatFloat(rec.MinTempF),
		formatFloat(rec.MaxTempF),
		formatFloat(rec.Pressure),
		formatFloat(rec.Humidity),
		formatFloat(rec.WindSpeed),
		rec.TimeOfRecord.Format(TimeLayout),
		rec.Sunrise.Format(TimeLayout),
		rec.Sunset.Format(TimeLayout),
	}
}

func rowToRecord(row []string) (domain.WeatherRecord, error) {
	rec := domain.WeatherRecord{City: row[0], Description: row[1]}

	floats := []*float64{
		&rec.TempF, &rec.FeelsLikeF, &rec.MinTempF, &rec.MaxTempF,
		&rec.Pressure, &rec.Humidity, &rec.WindSpeed,
	}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(row[2+i], 64)
		if err != nil {
			return domain.WeatherRecord{}, fmt.Errorf("column %q: %w", Header[2+i], err)
		}
		*dst = v
	}

	times := []*time.Time{&rec.TimeOfRecord, &rec.Sunrise, &rec.Sunset}
	for i, dst := range times {
		col := 2 + len(floats) + i
		v, err := time.Parse(TimeLayout, row[col])
		if err != nil {
			return domain.WeatherRecord{}, fmt.Errorf("column %q: %w", Header[col], err)
		}
		*dst = v
	}
	return rec, nil
}

// formatFloat renders the shortest decimal that round-trips, e.g. 1012 or 80.33000000000004.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
