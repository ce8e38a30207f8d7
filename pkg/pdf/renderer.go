// Package pdf renders a completed encounter's SOAP note as a PDF document.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/aurelia-health/scribe-engine/pkg/models"
)

// Render produces the SOAP note PDF for a completed encounter.
func Render(encounter *models.Encounter, note *models.SOAPNote) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle("SOAP Note", false)
	doc.SetMargins(20, 20, 20)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(0, 10, "Clinical SOAP Note", "", 1, "C", false, 0, "")

	doc.SetFont("Helvetica", "", 9)
	doc.SetTextColor(100, 100, 100)
	doc.CellFormat(0, 6, fmt.Sprintf("Encounter %s", encounter.ID), "", 1, "C", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Recorded %s | Generated %s",
		encounter.CreatedAt.Format("2 Jan 2006 15:04"),
		note.CreatedAt.Format("2 Jan 2006 15:04")), "", 1, "C", false, 0, "")
	doc.Ln(4)
	doc.SetTextColor(0, 0, 0)

	sections := []struct {
		title string
		body  string
	}{
		{"Subjective", note.Subjective},
		{"Objective", note.Objective},
		{"Assessment", note.Assessment},
		{"Plan", note.Plan},
	}

	for _, section := range sections {
		doc.SetFont("Helvetica", "B", 12)
		doc.SetFillColor(235, 240, 245)
		doc.CellFormat(0, 8, section.title, "", 1, "L", true, 0, "")
		doc.Ln(1)

		doc.SetFont("Helvetica", "", 10)
		doc.MultiCell(0, 5, section.body, "", "L", false)
		doc.Ln(4)
	}

	doc.SetY(-25)
	doc.SetFont("Helvetica", "I", 8)
	doc.SetTextColor(120, 120, 120)
	doc.MultiCell(0, 4,
		"Generated from an AI transcription of the consultation recording. "+
			"Personally identifying details were redacted before note generation. "+
			"Review for clinical accuracy before filing.", "", "C", false)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename returns the suggested download filename for an encounter's note.
func Filename(encounter *models.Encounter) string {
	return fmt.Sprintf("soap_note_%s.pdf", encounter.ID.String()[:8])
}
