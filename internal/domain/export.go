package domain

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var exportHeader = []string{"Username", "Database Size", "Locked"}

// WriteCSV writes the account listing. Credentials are never part of it.
func WriteCSV(w io.Writer, accounts []Account) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}

	for _, acc := range accounts {
		if err := cw.Write([]string{acc.Username, acc.DBSize, strconv.FormatBool(acc.Locked)}); err != nil {
			return fmt.Errorf("csv row %s: %w", acc.Username, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
