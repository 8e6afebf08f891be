package db

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

var probeCSVHeaders = []string{
	"Probe ID", "Trigger", "Time", "Classified", "Applied", "Preset",
	"X Res", "Y Res", "BPP", "Pixel Clock (MHz)", "Frame Rate (Hz)",
	"Out X Res", "Out Y Res", "Committed", "Polls",
}

func probeRow(p *Probe) []string {
	row := []string{
		strconv.FormatInt(p.ID, 10),
		p.Trigger,
		p.Time.Format("2006-01-02 15:04:05"),
		p.Classified,
		p.Applied,
		"",
		strconv.FormatUint(uint64(p.XRes), 10),
		strconv.FormatUint(uint64(p.YRes), 10),
		strconv.Itoa(1 << p.BppLog2),
		strconv.FormatUint(uint64(p.PixelClockMHz), 10),
		"",
		strconv.FormatUint(uint64(p.Output.Uint("xres")), 10),
		strconv.FormatUint(uint64(p.Output.Uint("yres")), 10),
		strconv.FormatBool(p.Committed),
		strconv.Itoa(p.Polls),
	}

	if p.PresetID != nil {
		row[5] = strconv.Itoa(*p.PresetID)
	}
	if p.FrameRate != nil {
		row[10] = strconv.FormatUint(uint64(*p.FrameRate), 10)
	}
	return row
}

// ExportCSV exports the probes matching filter to CSV format
func (db *DB) ExportCSV(w io.Writer, filter ProbeFilter) error {
	probes, err := db.ListProbes(filter)
	if err != nil {
		return fmt.Errorf("failed to list probes: %w", err)
	}

	csvWriter := csv.NewWriter(w)

	if err := csvWriter.Write(probeCSVHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, p := range probes {
		if err := csvWriter.Write(probeRow(p)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ExportJSON exports one probe, with the diagnostics raised while it ran,
// to JSON format
func (db *DB) ExportJSON(w io.Writer, probeID int64) error {
	p, err := db.GetProbe(probeID)
	if err != nil {
		return fmt.Errorf("failed to get probe: %w", err)
	}

	since, until := p.Time, p.CreatedAt
	diags, err := db.ListDiagnostics(DiagnosticFilter{Since: &since, Until: &until})
	if err != nil {
		return fmt.Errorf("failed to get diagnostics: %w", err)
	}

	export := struct {
		Probe       *Probe        `json:"probe"`
		Diagnostics []*Diagnostic `json:"diagnostics"`
	}{
		Probe:       p,
		Diagnostics: diags,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// Export writes the probes matching filter in the given format
func (db *DB) Export(w io.Writer, format ExportFormat, filter ProbeFilter) error {
	switch format {
	case ExportFormatCSV:
		return db.ExportCSV(w, filter)
	case ExportFormatJSON:
		probes, err := db.ListProbes(filter)
		if err != nil {
			return fmt.Errorf("failed to list probes: %w", err)
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(probes)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
