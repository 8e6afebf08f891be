package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Probe is a recorded retime or preset application
type Probe struct {
	ID            int64     `json:"id"`
	Trigger       string    `json:"trigger"`
	Time          time.Time `json:"time"`
	Status        uint32    `json:"status"`
	Classified    string    `json:"classified,omitempty"`
	Applied       string    `json:"applied,omitempty"`
	PresetID      *int      `json:"preset_id,omitempty"`
	XRes          uint32    `json:"xres"`
	YRes          uint32    `json:"yres"`
	BppLog2       uint32    `json:"bpp_log2"`
	PixelClockMHz uint32    `json:"pixel_clock_mhz"`
	FrameRate     *uint32   `json:"frame_rate,omitempty"`
	Committed     bool      `json:"committed"`
	Polls         int       `json:"polls"`
	Source        JSONData  `json:"source,omitempty"`
	Output        JSONData  `json:"output"`
	Registers     JSONData  `json:"registers"`
	CreatedAt     time.Time `json:"created_at"`
}

// Diagnostic is a recorded diagnostic event
type Diagnostic struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

// JSONData is a custom type for storing JSON in SQLite
type JSONData map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONData", value)
	}

	return json.Unmarshal(data, j)
}

// toJSONData converts a JSON-tagged struct to a JSONData map
func toJSONData(v interface{}) (JSONData, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var j JSONData
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j, nil
}

// Uint returns a numeric field of a JSONData map
func (j JSONData) Uint(key string) uint32 {
	if f, ok := j[key].(float64); ok {
		return uint32(f)
	}
	return 0
}

// ProbeFilter represents filters for querying probes
type ProbeFilter struct {
	Trigger string
	Applied string
	Since   *time.Time
	Until   *time.Time
	Failed  *bool
	Limit   int
	Offset  int
}

// DiagnosticFilter represents filters for querying diagnostics
type DiagnosticFilter struct {
	Kind   string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting data
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)
