package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"trophos/internal/cvae"
)

const lossSeriesFile = "loss_series.csv"

// WriteLossSeries writes the whole-run epoch losses as a CSV next to the
// JSON artifacts, one row per epoch, ready for plotting.
func WriteLossSeries(runDir string, history []cvae.EpochStats) error {
	path := filepath.Join(runDir, lossSeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "total", "recon", "kl"}); err != nil {
		return err
	}
	for _, epoch := range history {
		if err := writer.Write([]string{
			strconv.Itoa(epoch.Epoch),
			strconv.FormatFloat(epoch.Total, 'f', -1, 64),
			strconv.FormatFloat(epoch.Recon, 'f', -1, 64),
			strconv.FormatFloat(epoch.KL, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadLossSeries returns the run's epoch losses, found=false when the run
// never wrote a series.
func ReadLossSeries(baseDir, runID string) ([]cvae.EpochStats, bool, error) {
	path := filepath.Join(baseDir, runID, lossSeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []cvae.EpochStats{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("loss series header must have at least 4 columns")
	}

	series := make([]cvae.EpochStats, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 4 {
			return nil, false, fmt.Errorf("loss series row must have at least 4 columns")
		}
		epoch, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, fmt.Errorf("loss series epoch: %w", err)
		}
		total, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, fmt.Errorf("loss series total: %w", err)
		}
		recon, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, fmt.Errorf("loss series recon: %w", err)
		}
		kl, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, false, fmt.Errorf("loss series kl: %w", err)
		}
		series = append(series, cvae.EpochStats{Epoch: epoch, Total: total, Recon: recon, KL: kl})
	}
	return series, true, nil
}

// ExportRun copies a run's artifact files into outDir/<runID> and returns
// the export directory. The loss series rides along when present.
func ExportRun(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "phase_reports.json", "history.json", "metrics.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, lossSeriesFile)
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, lossSeriesFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
