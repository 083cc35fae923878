// Package report exports one archived run (internal/archive.RunRecord) as
// CSV, JSON, or PDF, grounded on the teacher's own report exporter: a CSV of
// the underlying samples, a JSON document with the run's metadata attached,
// and a banner-header/summary/table PDF built with go-pdf/fpdf.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/holla2040/reflow-mpc/internal/archive"
	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// SampleJSON is the JSON representation of one temperature sample.
type SampleJSON struct {
	ElapsedS    int     `json:"elapsed_s"`
	Temperature float64 `json:"temperature"`
}

// RunJSON is the JSON document produced by ExportJSON.
type RunJSON struct {
	RunID        string       `json:"run_id"`
	CurveID      string       `json:"curve_id"`
	StartedAt    string       `json:"started_at"`
	EndedAt      string       `json:"ended_at"`
	Terminal     string       `json:"terminal_state"`
	FaultMessage string       `json:"fault_message,omitempty"`
	History      []SampleJSON `json:"history"`
}

// ExportCSV writes a run's sample history as CSV to w.
// Headers: elapsed_s,temperature
func ExportCSV(w io.Writer, a *archive.Archive, runID string) error {
	run, err := a.Get(runID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"elapsed_s", "temperature"}); err != nil {
		return err
	}
	for _, s := range run.History {
		record := []string{
			strconv.Itoa(s.ElapsedS),
			strconv.FormatFloat(s.Temperature, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes a run's metadata and sample history as JSON to w.
func ExportJSON(w io.Writer, a *archive.Archive, runID string) error {
	run, err := a.Get(runID)
	if err != nil {
		return err
	}

	doc := RunJSON{
		RunID:        run.RunID,
		CurveID:      run.CurveID,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:      run.EndedAt.UTC().Format(time.RFC3339),
		Terminal:     run.Terminal.String(),
		FaultMessage: run.FaultMessage,
		History:      make([]SampleJSON, len(run.History)),
	}
	for i, s := range run.History {
		doc.History[i] = SampleJSON{ElapsedS: s.ElapsedS, Temperature: s.Temperature}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ExportPDF writes a formatted PDF reflow report to w.
func ExportPDF(w io.Writer, a *archive.Archive, runID string) error {
	run, err := a.Get(runID)
	if err != nil {
		return fmt.Errorf("report: get run: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdfHeader(pdf, run)
	pdfSummary(pdf, run)
	pdfHistory(pdf, run.History)
	pdfFooter(pdf)

	if pdf.Err() {
		return fmt.Errorf("report: PDF generation error: %w", pdf.Error())
	}
	return pdf.Output(w)
}

func pdfHeader(pdf *fpdf.Fpdf, run *archive.RunRecord) {
	pdf.SetFillColor(33, 37, 41)
	pdf.Rect(15, 15, 180, 20, "F")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(20, 18)
	pdf.CellFormat(170, 14, "REFLOW RUN REPORT", "", 0, "L", false, 0, "")

	pdf.Ln(25)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Run ID:", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, run.RunID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Curve ID:", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, run.CurveID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Generated:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")

	pdf.Ln(4)
}

func pdfSummary(pdf *fpdf.Fpdf, run *archive.RunRecord) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Outcome:", "", 0, "L", false, 0, "")
	switch run.Terminal.String() {
	case "COMPLETE":
		pdf.SetFillColor(40, 167, 69)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(30, 6, "[COMPLETE]", "", 0, "C", true, 0, "")
	case "FAULT":
		pdf.SetFillColor(220, 53, 69)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(30, 6, "[FAULT]", "", 0, "C", true, 0, "")
	default:
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(30, 6, run.Terminal.String(), "", 0, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Ln(8)

	duration := run.EndedAt.Sub(run.StartedAt).Round(time.Second)
	pdf.CellFormat(30, 6, "Duration:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, duration.String(), "", 1, "L", false, 0, "")

	pdf.CellFormat(30, 6, "Started:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, run.StartedAt.Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")

	pdf.CellFormat(30, 6, "Ended:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, run.EndedAt.Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")

	if run.FaultMessage != "" {
		pdf.CellFormat(30, 6, "Fault:", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, run.FaultMessage, "", 1, "L", false, 0, "")
	}

	pdf.Ln(6)
}

func pdfHistory(pdf *fpdf.Fpdf, history []reflow.Sample) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Temperature History", "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(3)

	if len(history) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "No samples recorded", "", 1, "C", false, 0, "")
		return
	}

	colW := []float64{90, 90}
	headers := []string{"Elapsed (s)", "Temperature (C)"}

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(240, 240, 240)
	for i, h := range headers {
		pdf.CellFormat(colW[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 7)
	for i, s := range history {
		if i%2 == 1 {
			pdf.SetFillColor(248, 249, 250)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(colW[0], 6, strconv.Itoa(s.ElapsedS), "1", 0, "C", true, 0, "")
		pdf.CellFormat(colW[1], 6, strconv.FormatFloat(s.Temperature, 'f', 2, 64), "1", 0, "C", true, 0, "")
		pdf.Ln(-1)
	}
}

func pdfFooter(pdf *fpdf.Fpdf) {
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(150, 150, 150)
	pdf.CellFormat(0, 6, "Generated by the reflow control stack", "", 0, "C", false, 0, "")
}
