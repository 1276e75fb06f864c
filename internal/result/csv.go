package result

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

func WriteStatsCSV(rows []StatRow, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

func ReadStatsCSV(path string) ([]StatRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats file: %w", err)
	}
	defer file.Close()
	var rows []StatRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return rows, nil
}
