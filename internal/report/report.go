// Package report renders and persists run results. The JSON document is the
// normative record; CSV and YAML are projections of it.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-swarm/internal/swap"
)

// Format of a persisted report.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// Reporter writes run reports to an output directory.
type Reporter struct {
	outputDir string
	logger    *zap.Logger
}

// NewReporter creates a reporter writing into dir.
func NewReporter(dir string, logger *zap.Logger) *Reporter {
	return &Reporter{outputDir: dir, logger: logger.Named("report")}
}

type configurationDoc struct {
	Operation       string  `json:"operation" yaml:"operation"`
	InputToken      string  `json:"input_token" yaml:"input_token"`
	OutputToken     string  `json:"output_token" yaml:"output_token"`
	AmountStrategy  string  `json:"amount_strategy" yaml:"amount_strategy"`
	ExecutionMode   string  `json:"execution_mode" yaml:"execution_mode"`
	WalletSelection string  `json:"wallet_selection" yaml:"wallet_selection"`
	SlippageBps     int     `json:"slippage_bps" yaml:"slippage_bps"`
	Verify          bool    `json:"verify" yaml:"verify"`
	CollectFees     bool    `json:"collect_fees" yaml:"collect_fees"`
	MaxRetries      int     `json:"max_retries" yaml:"max_retries"`
	DryRun          bool    `json:"dry_run" yaml:"dry_run"`
	MinBalance      float64 `json:"balance_check_threshold" yaml:"balance_check_threshold"`
}

type executionSummaryDoc struct {
	Status          string    `json:"status" yaml:"status"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	EndedAt         time.Time `json:"ended_at" yaml:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	TotalWallets    int       `json:"total_wallets" yaml:"total_wallets"`
	SelectedWallets int       `json:"selected_wallets" yaml:"selected_wallets"`
	SuccessfulSwaps int       `json:"successful_swaps" yaml:"successful_swaps"`
	FailedSwaps     int       `json:"failed_swaps" yaml:"failed_swaps"`
	SuccessRate     float64   `json:"overall_success_rate" yaml:"overall_success_rate"`
	ErrorMessage    string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

type volumeSummaryDoc struct {
	TotalVolumeIn      float64        `json:"total_volume_in" yaml:"total_volume_in"`
	TotalVolumeOut     float64        `json:"total_volume_out" yaml:"total_volume_out"`
	AveragePriceImpact *float64       `json:"average_price_impact,omitempty" yaml:"average_price_impact,omitempty"`
	TotalFeesCollected float64        `json:"total_fees_collected" yaml:"total_fees_collected"`
	ErrorHistogram     map[string]int `json:"error_histogram,omitempty" yaml:"error_histogram,omitempty"`
}

type document struct {
	Configuration      configurationDoc    `json:"configuration"`
	ExecutionSummary   executionSummaryDoc `json:"execution_summary"`
	VolumeSummary      volumeSummaryDoc    `json:"volume_summary"`
	BatchResults       []*swap.BatchResult `json:"batch_results"`
	AmountCalculations []swap.AmountPlan   `json:"amount_calculations"`
	SwapResults        []*swap.Result      `json:"swap_results"`
}

func buildDocument(summary *swap.ExecutionSummary, cfg *swap.Config) document {
	var avgImpact *float64
	if v := summary.AveragePriceImpact(); !math.IsNaN(v) {
		avgImpact = &v
	}

	hist := make(map[string]int)
	for cat, n := range summary.ErrorHistogram() {
		hist[string(cat)] = n
	}

	// Parallel mode collects in completion order; the report sorts by
	// wallet index for stable output.
	results := make([]*swap.Result, len(summary.Results))
	copy(results, summary.Results)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].WalletIndex < results[j].WalletIndex
	})

	return document{
		Configuration: configurationDoc{
			Operation:       string(cfg.Operation),
			InputToken:      cfg.InputName,
			OutputToken:     cfg.OutputName,
			AmountStrategy:  cfg.Strategy.Kind(),
			ExecutionMode:   string(cfg.Mode),
			WalletSelection: string(cfg.Selection.Kind),
			SlippageBps:     cfg.SlippageBps,
			Verify:          cfg.Verify,
			CollectFees:     cfg.CollectFees,
			MaxRetries:      cfg.MaxRetries,
			DryRun:          cfg.DryRun,
			MinBalance:      cfg.MinBalanceThreshold,
		},
		ExecutionSummary: executionSummaryDoc{
			Status:          summary.Status,
			StartedAt:       summary.StartedAt,
			EndedAt:         summary.EndedAt,
			DurationSeconds: summary.Duration().Seconds(),
			TotalWallets:    summary.TotalWallets,
			SelectedWallets: summary.SelectedWallets,
			SuccessfulSwaps: summary.SuccessCount(),
			FailedSwaps:     summary.FailureCount(),
			SuccessRate:     summary.SuccessRate(),
			ErrorMessage:    summary.ErrorMessage,
		},
		VolumeSummary: volumeSummaryDoc{
			TotalVolumeIn:      summary.TotalVolumeIn(),
			TotalVolumeOut:     summary.TotalVolumeOut(),
			AveragePriceImpact: avgImpact,
			TotalFeesCollected: summary.TotalFeesCollected(),
			ErrorHistogram:     hist,
		},
		BatchResults:       summary.Batches,
		AmountCalculations: summary.AmountPlans,
		SwapResults:        results,
	}
}

// Save persists the report and returns the written path.
func (r *Reporter) Save(summary *swap.ExecutionSummary, cfg *swap.Config, format Format) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	doc := buildDocument(summary, cfg)
	filename := fmt.Sprintf("%s_%s_report_%s.%s",
		cfg.Operation, cfg.Strategy.Kind(),
		time.Now().Format("20060102_150405"), format)
	path := filepath.Join(r.outputDir, filename)

	var err error
	switch format {
	case FormatJSON:
		err = r.writeJSON(doc, path)
	case FormatCSV:
		err = r.writeCSV(doc, path)
	case FormatYAML:
		err = r.writeYAML(doc, path)
	default:
		err = fmt.Errorf("unsupported report format %q", format)
	}
	if err != nil {
		return "", err
	}

	r.logger.Info("Report saved",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.Int("swaps", len(doc.SwapResults)))
	return path, nil
}

func (r *Reporter) writeJSON(doc document, path string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// writeCSV projects one row per swap result.
func (r *Reporter) writeCSV(doc document, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{
		"wallet_index", "wallet_address", "status", "input_amount",
		"actual_input", "actual_output", "price_impact", "fee_collected",
		"transaction_id", "attempts", "error_class", "final_error",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, res := range doc.SwapResults {
		row := []string{
			strconv.Itoa(res.WalletIndex),
			res.WalletAddress,
			string(res.Status),
			formatFloat(res.InputAmount),
			formatOptional(res.ActualInput),
			formatOptional(res.ActualOutput),
			formatOptional(res.PriceImpact),
			formatOptional(res.FeeCollected),
			res.TransactionID,
			strconv.Itoa(len(res.Attempts)),
			string(res.ErrorClass),
			res.FinalError,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// yamlDocument is the slim YAML projection: attempt histories and raw quotes
// stay in the JSON record.
type yamlDocument struct {
	Configuration    configurationDoc    `yaml:"configuration"`
	ExecutionSummary executionSummaryDoc `yaml:"execution_summary"`
	VolumeSummary    volumeSummaryDoc    `yaml:"volume_summary"`
	Swaps            []yamlSwap          `yaml:"swap_results"`
}

type yamlSwap struct {
	WalletIndex   int     `yaml:"wallet_index"`
	WalletAddress string  `yaml:"wallet_address"`
	Status        string  `yaml:"status"`
	InputAmount   float64 `yaml:"input_amount"`
	TransactionID string  `yaml:"transaction_id,omitempty"`
	FinalError    string  `yaml:"final_error,omitempty"`
}

func (r *Reporter) writeYAML(doc document, path string) error {
	slim := yamlDocument{
		Configuration:    doc.Configuration,
		ExecutionSummary: doc.ExecutionSummary,
		VolumeSummary:    doc.VolumeSummary,
	}
	for _, res := range doc.SwapResults {
		slim.Swaps = append(slim.Swaps, yamlSwap{
			WalletIndex:   res.WalletIndex,
			WalletAddress: res.WalletAddress,
			Status:        string(res.Status),
			InputAmount:   res.InputAmount,
			TransactionID: res.TransactionID,
			FinalError:    res.FinalError,
		})
	}

	data, err := yaml.Marshal(slim)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Console renders a human-readable summary.
func (r *Reporter) Console(summary *swap.ExecutionSummary, cfg *swap.Config) string {
	doc := buildDocument(summary, cfg)

	var b strings.Builder
	line := strings.Repeat("=", 72)

	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%s EXECUTION REPORT\n", strings.ToUpper(string(cfg.Operation)))
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Pair:          %s -> %s\n", cfg.InputName, cfg.OutputName)
	fmt.Fprintf(&b, "Strategy:      %s\n", cfg.Strategy.Kind())
	fmt.Fprintf(&b, "Mode:          %s\n", cfg.Mode)
	fmt.Fprintf(&b, "Slippage:      %.2f%%\n", float64(cfg.SlippageBps)/100)
	fmt.Fprintf(&b, "Status:        %s\n", strings.ToUpper(doc.ExecutionSummary.Status))
	fmt.Fprintf(&b, "Duration:      %.2fs\n", doc.ExecutionSummary.DurationSeconds)
	fmt.Fprintf(&b, "Swaps:         %d/%d successful (%.1f%%)\n",
		doc.ExecutionSummary.SuccessfulSwaps,
		len(doc.SwapResults),
		doc.ExecutionSummary.SuccessRate)
	if doc.VolumeSummary.TotalVolumeIn > 0 {
		fmt.Fprintf(&b, "Volume in:     %.6f %s\n", doc.VolumeSummary.TotalVolumeIn, cfg.InputName)
		fmt.Fprintf(&b, "Volume out:    %.6f %s\n", doc.VolumeSummary.TotalVolumeOut, cfg.OutputName)
		if doc.VolumeSummary.AveragePriceImpact != nil {
			fmt.Fprintf(&b, "Avg impact:    %.2f%%\n", *doc.VolumeSummary.AveragePriceImpact)
		}
		fmt.Fprintf(&b, "Fees:          %.6f SOL\n", doc.VolumeSummary.TotalFeesCollected)
	}
	if len(doc.VolumeSummary.ErrorHistogram) > 0 {
		fmt.Fprintln(&b, "Errors:")
		for cat, n := range doc.VolumeSummary.ErrorHistogram {
			fmt.Fprintf(&b, "  %-12s %d\n", cat, n)
		}
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
