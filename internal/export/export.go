package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format     ExportFormat
	StartTime  time.Time
	EndTime    time.Time
	KindFilter types.DetectionKind // sandwich or arbitrage
	DexFilter  types.DexID
	OutputDir  string
}

// DetectionExporter writes detections to CSV or JSON files.
type DetectionExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewDetectionExporter creates a new detection exporter
func NewDetectionExporter(logger *zap.Logger) *DetectionExporter {
	return &DetectionExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// CSVHeader is the column layout of CSVRecord.
func CSVHeader() []string {
	return []string{
		"timestamp", "kind", "signature", "slot", "buy_dex", "sell_dex",
		"token_in", "token_out", "signer", "profit", "frontrun_tx", "backrun_tx",
	}
}

// CSVRecord flattens d into one CSV row. For sandwiches profit is the
// victim's delta, for arbitrages it is the cycle's percent gain.
func CSVRecord(d types.Detection) []string {
	switch {
	case d.Sandwich != nil:
		s := d.Sandwich
		return []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			string(d.Kind),
			s.VictimTx,
			strconv.FormatUint(s.Slot, 10),
			string(s.Dex),
			string(s.Dex),
			s.TokenAddress,
			s.ProfitToken,
			s.Attacker,
			s.Profit.String(),
			s.FrontrunTx,
			s.BackrunTx,
		}
	case d.Arbitrage != nil:
		a := d.Arbitrage
		return []string{
			a.Timestamp.UTC().Format(time.RFC3339Nano),
			string(d.Kind),
			a.Signature,
			strconv.FormatUint(a.Slot, 10),
			string(a.BuyDex),
			string(a.SellDex),
			a.TokenIn,
			a.TokenOut,
			a.Signer,
			a.ProfitPercent.String(),
			"",
			"",
		}
	}
	return nil
}

// ExportDetections exports detections based on the provided options
func (de *DetectionExporter) ExportDetections(detections []types.Detection, options ExportOptions) (string, error) {
	filtered := de.filterDetections(detections, options)

	if len(filtered) == 0 {
		return "", fmt.Errorf("no detections match the export criteria")
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Time().Before(filtered[j].Time())
	})

	filename := de.generateFilename(options)
	outputPath := filepath.Join(options.OutputDir, filename)

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = de.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = de.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}

	if err != nil {
		return "", err
	}

	de.logger.Info("Detections exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (de *DetectionExporter) filterDetections(detections []types.Detection, options ExportOptions) []types.Detection {
	var filtered []types.Detection

	for _, d := range detections {
		ts := d.Time()
		if !options.StartTime.IsZero() && ts.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !ts.Before(options.EndTime) {
			continue
		}

		if options.KindFilter != "" && d.Kind != options.KindFilter {
			continue
		}

		if options.DexFilter != "" && !involvesDex(d, options.DexFilter) {
			continue
		}

		filtered = append(filtered, d)
	}

	return filtered
}

func involvesDex(d types.Detection, dex types.DexID) bool {
	switch {
	case d.Sandwich != nil:
		return d.Sandwich.Dex == dex
	case d.Arbitrage != nil:
		return d.Arbitrage.BuyDex == dex || d.Arbitrage.SellDex == dex
	}
	return false
}

// generateFilename creates a filename based on export options
func (de *DetectionExporter) generateFilename(options ExportOptions) string {
	timestamp := de.now().Format("20060102_150405")

	prefix := "detections_all"
	if options.KindFilter != "" {
		prefix = fmt.Sprintf("detections_%s", options.KindFilter)
	}

	if options.DexFilter != "" {
		prefix += "_" + string(options.DexFilter)
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

func (de *DetectionExporter) exportToCSV(detections []types.Detection, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(CSVHeader()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, d := range detections {
		if err := writer.Write(CSVRecord(d)); err != nil {
			return fmt.Errorf("failed to write detection: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (de *DetectionExporter) exportToJSON(detections []types.Detection, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime     time.Time         `json:"export_time"`
		DetectionCount int               `json:"detection_count"`
		Detections     []types.Detection `json:"detections"`
		Summary        ExportSummary     `json:"summary"`
	}{
		ExportTime:     de.now(),
		DetectionCount: len(detections),
		Detections:     detections,
		Summary:        de.calculateSummary(detections),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// ExportSummary contains summary statistics for exported detections
type ExportSummary struct {
	TotalDetections     int                 `json:"total_detections"`
	Sandwiches          int                 `json:"sandwiches"`
	Arbitrages          int                 `json:"arbitrages"`
	UniqueTokens        int                 `json:"unique_tokens"`
	UniqueAttackers     int                 `json:"unique_attackers"`
	TotalVictimLoss     decimal.Decimal     `json:"total_victim_loss"`
	TotalAttackerProfit decimal.Decimal     `json:"total_attacker_profit"`
	AvgProfitPercent    decimal.Decimal     `json:"avg_profit_percent"`
	BestProfitPercent   decimal.Decimal     `json:"best_profit_percent"`
	ByDex               map[types.DexID]int `json:"by_dex"`
	StartDate           time.Time           `json:"start_date"`
	EndDate             time.Time           `json:"end_date"`
}

func (de *DetectionExporter) calculateSummary(detections []types.Detection) ExportSummary {
	summary := ExportSummary{
		TotalDetections: len(detections),
		ByDex:           make(map[types.DexID]int),
	}

	if len(detections) == 0 {
		return summary
	}

	summary.StartDate = detections[0].Time()
	summary.EndDate = detections[len(detections)-1].Time()

	tokens := make(map[string]struct{})
	attackers := make(map[string]struct{})
	percentSum := decimal.Zero

	for _, d := range detections {
		switch {
		case d.Sandwich != nil:
			s := d.Sandwich
			summary.Sandwiches++
			tokens[s.TokenAddress] = struct{}{}
			if s.Attacker != "" {
				attackers[s.Attacker] = struct{}{}
			}
			// victim deltas are negative for a loss
			summary.TotalVictimLoss = summary.TotalVictimLoss.Sub(s.Profit)
			summary.TotalAttackerProfit = summary.TotalAttackerProfit.Add(s.AttackerProfit)
			summary.ByDex[s.Dex]++

		case d.Arbitrage != nil:
			a := d.Arbitrage
			summary.Arbitrages++
			tokens[a.TokenIn] = struct{}{}
			if a.Signer != "" {
				attackers[a.Signer] = struct{}{}
			}
			percentSum = percentSum.Add(a.ProfitPercent)
			if summary.Arbitrages == 1 || a.ProfitPercent.GreaterThan(summary.BestProfitPercent) {
				summary.BestProfitPercent = a.ProfitPercent
			}
			summary.ByDex[a.BuyDex]++
			if a.SellDex != a.BuyDex {
				summary.ByDex[a.SellDex]++
			}
		}
	}

	summary.UniqueTokens = len(tokens)
	summary.UniqueAttackers = len(attackers)
	if summary.Arbitrages > 0 {
		summary.AvgProfitPercent = percentSum.Div(decimal.NewFromInt(int64(summary.Arbitrages)))
	}

	return summary
}

// DailyReport is a one-day summary with an hourly breakdown.
type DailyReport struct {
	Date            time.Time         `json:"date"`
	DetectionCount  int               `json:"detection_count"`
	Summary         ExportSummary     `json:"summary"`
	HourlyBreakdown []HourlyStats     `json:"hourly_breakdown"`
	Detections      []types.Detection `json:"detections"`
}

// HourlyStats counts detections within one hour of the day.
type HourlyStats struct {
	Hour       int `json:"hour"`
	Sandwiches int `json:"sandwiches"`
	Arbitrages int `json:"arbitrages"`
}

// ExportDailyReport writes a JSON report for the day containing date. It
// returns an empty path when that day has no detections.
func (de *DetectionExporter) ExportDailyReport(detections []types.Detection, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	filtered := de.filterDetections(detections, ExportOptions{
		StartTime: startOfDay,
		EndTime:   endOfDay,
	})

	if len(filtered) == 0 {
		de.logger.Info("No detections for daily report",
			zap.Time("date", startOfDay))
		return "", nil
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Time().Before(filtered[j].Time())
	})

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102"))
	outputPath := filepath.Join(outputDir, filename)

	report := DailyReport{
		Date:            startOfDay,
		DetectionCount:  len(filtered),
		Detections:      filtered,
		Summary:         de.calculateSummary(filtered),
		HourlyBreakdown: calculateHourlyBreakdown(filtered, date.Location()),
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	de.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("detections", len(filtered)))

	return outputPath, nil
}

func calculateHourlyBreakdown(detections []types.Detection, loc *time.Location) []HourlyStats {
	hourly := make(map[int]*HourlyStats)

	for _, d := range detections {
		hour := d.Time().In(loc).Hour()

		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourly[hour] = stats
		}

		switch {
		case d.Sandwich != nil:
			stats.Sandwiches++
		case d.Arbitrage != nil:
			stats.Arbitrages++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}

	return breakdown
}
