// Package collectors polls hardware counters into the metrics package.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/capturewatch/internal/metrics"
)

// DefaultMPPPath is where the Rockchip MPP driver publishes block load.
const DefaultMPPPath = "/proc/mpp_service/load"

var errMPPLine = errors.New("not an mpp load line")

// MPPCollector samples Rockchip MPP encoder load.
type MPPCollector struct {
	logger   *slog.Logger
	procPath string
	interval time.Duration
}

// NewMPPCollector creates a collector reading procPath every interval.
func NewMPPCollector(procPath string, interval time.Duration, logger *slog.Logger) *MPPCollector {
	return &MPPCollector{
		logger:   logger,
		procPath: procPath,
		interval: interval,
	}
}

// Available reports whether the MPP proc file exists on this board.
func (m *MPPCollector) Available() bool {
	_, err := os.Stat(m.procPath)
	return err == nil
}

// Run samples until ctx is cancelled.
func (m *MPPCollector) Run(ctx context.Context) {
	m.logger.Info("Starting MPP metrics collection", "path", m.procPath, "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MPPCollector) collect() {
	file, err := os.Open(m.procPath)
	if err != nil {
		m.logger.Debug("MPP proc file unavailable", "error", err)
		return
	}
	defer file.Close()

	blocks, err := parseMPP(file)
	if err != nil {
		m.logger.Warn("Failed to read MPP load", "error", err)
		return
	}
	for _, b := range blocks {
		metrics.SetMPPBlock(b.name, b.load, b.utilization)
	}
}

type mppBlock struct {
	name        string
	load        float64
	utilization float64
}

func parseMPP(r io.Reader) ([]mppBlock, error) {
	var blocks []mppBlock
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		block, err := parseMPPLine(scanner.Text())
		if err != nil {
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks, scanner.Err()
}

// parseMPPLine reads lines like "rkvenc: load: 45% utilization: 78%".
func parseMPPLine(line string) (mppBlock, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mppBlock{}, errMPPLine
	}

	block := mppBlock{name: fields[0]}
	var haveLoad, haveUtil bool
	for i := 1; i+1 < len(fields); i++ {
		value, err := strconv.ParseFloat(strings.TrimSuffix(fields[i+1], "%"), 64)
		if err != nil {
			continue
		}
		switch fields[i] {
		case "load:":
			block.load, haveLoad = value, true
		case "utilization:":
			block.utilization, haveUtil = value, true
		}
	}
	if !haveLoad || !haveUtil {
		return mppBlock{}, errMPPLine
	}
	return block, nil
}
