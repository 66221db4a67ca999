package stubserver

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Customer is one loan file in the roster.
type Customer struct {
	Name       string
	LoanAmount float64
}

// DefaultRoster is served when no roster file is given.
func DefaultRoster() []Customer {
	return []Customer{
		{Name: "Jane Doe", LoanAmount: 12450.75},
		{Name: "John Smith", LoanAmount: 3200},
		{Name: "Maria Garcia", LoanAmount: 87125.5},
		{Name: "Wei Chen", LoanAmount: 540.25},
	}
}

// LoadRoster reads name,loan_amount rows from a CSV file. A leading header row is skipped.
func LoadRoster(path string) ([]Customer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer file.Close()

	customers, err := ParseRoster(file)
	if err != nil {
		return nil, fmt.Errorf("roster %q: %w", path, err)
	}
	return customers, nil
}

// ParseRoster decodes roster CSV from r.
func ParseRoster(r io.Reader) ([]Customer, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var customers []Customer
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected name,loan_amount", line)
		}

		name := strings.TrimSpace(record[0])
		rawAmount := strings.TrimSpace(record[1])
		amount, err := strconv.ParseFloat(strings.NewReplacer("$", "", ",", "").Replace(rawAmount), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid loan amount %q", line, rawAmount)
		}
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name", line)
		}
		customers = append(customers, Customer{Name: name, LoanAmount: amount})
	}
	return customers, nil
}
