package db

import (
	"database/sql"
	"fmt"

	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/ocr"
)

// OCRSink adapts this package to internal/ocr.Worker's Sink interface,
// wiring C6's background worker to C4 without C6 needing to know about
// SQL directly.
type OCRSink struct {
	Conn *sql.DB
}

// WriteOCRResult persists one completed OCR task's result.
func (s OCRSink) WriteOCRResult(t ocr.Task, text, textJSON string, confidence float64) error {
	row := model.OCRRow{
		FrameID: t.FrameID, SubFrameID: t.SubFrameID,
		Text: text, TextJSON: textJSON, Confidence: confidence,
	}
	if _, err := InsertOCRText(s.Conn, row); err != nil {
		return fmt.Errorf("db: ocr sink write result: %w", err)
	}
	return nil
}
