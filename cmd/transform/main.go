// Command transform converts saved OpenWeatherMap current-weather responses
// into the CSV the ETL uploads, without touching the network.
//
// Usage:
//
//	go run ./cmd/transform -in raw.json [-out weather.csv]
//
// Additional response files may follow the flags; all records are written to
// one CSV in argument order. "-" reads a response from stdin.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	csvadapter "github.com/couchcryptid/weather-etl/internal/adapter/csv"
	"github.com/couchcryptid/weather-etl/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	in := fs.String("in", "", `raw API response JSON file ("-" for stdin)`)
	out := fs.String("out", "", "output CSV path (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	inputs := fs.Args()
	if *in != "" {
		inputs = append([]string{*in}, inputs...)
	}
	if len(inputs) == 0 {
		fs.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	records := make([]domain.WeatherRecord, 0, len(inputs))
	for _, path := range inputs {
		data, err := readInput(path, stdin)
		if err != nil {
			return err
		}
		rec, err := domain.TransformJSON(data)
		if err != nil {
			return fmt.Errorf("transform %s: %w", path, err)
		}
		records = append(records, rec)
	}

	body, err := csvadapter.EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}

	if *out == "" {
		_, err = stdout.Write(body)
		return err
	}
	if err := os.WriteFile(*out, body, 0o644); err != nil { //nolint:gosec // output is a plain data file
		return fmt.Errorf("write %s: %w", *out, err)
	}
	log.Printf("wrote %d record(s) to %s", len(records), *out)
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
