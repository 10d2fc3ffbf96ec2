package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ObjectPutter stores rendered files.
type ObjectPutter interface {
	Put(ctx context.Context, objectName string, body io.Reader, size int64, contentType string) (string, error)
}

// ErrExportDisabled is returned when no object store is configured.
var ErrExportDisabled = errors.New("reports: object storage not configured")

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exporter writes point-in-time level snapshots to object storage.
type Exporter struct {
	service *Service
	store   ObjectPutter
	logger  *slog.Logger
	now     func() time.Time
}

// NewExporter wires an exporter. A nil store disables snapshots.
func NewExporter(service *Service, store ObjectPutter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{service: service, store: store, logger: logger, now: time.Now}
}

// Snapshot renders the levels workbook and uploads it under
// levels/YYYY/MM/DD/. It returns the stored location.
func (e *Exporter) Snapshot(ctx context.Context) (string, error) {
	if e.store == nil {
		return "", ErrExportDisabled
	}
	rows, err := e.service.Levels(ctx, LevelFilter{})
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, rows); err != nil {
		return "", fmt.Errorf("reports: render levels: %w", err)
	}
	stamp := e.now().UTC()
	name := fmt.Sprintf("levels/%s/inventory-levels-%s.xlsx", stamp.Format("2006/01/02"), stamp.Format("20060102T150405Z"))
	location, err := e.store.Put(ctx, name, &buf, int64(buf.Len()), xlsxContentType)
	if err != nil {
		return "", err
	}
	e.logger.Info("levels snapshot stored",
		slog.String("location", location),
		slog.Int("rows", len(rows)))
	return location, nil
}
