package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"At", "Event ID", "User ID", "Resource", "Action", "Outcome",
	"Reason", "Permission", "Scope", "Target Department", "Target Owner",
}

// WriteCSV serialises decision rows.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		outcome := "denied"
		if row.Allowed {
			outcome = "allowed"
		}
		if err := writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			row.EventID,
			strconv.FormatInt(row.UserID, 10),
			row.Resource,
			row.Action,
			outcome,
			row.Reason,
			row.PermissionCode,
			row.Scope,
			formatOptional(row.TargetDepartmentID),
			formatOptional(row.TargetOwnerID),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatOptional(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
