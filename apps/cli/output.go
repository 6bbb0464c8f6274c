package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/acm19/picbatch/internal/convert"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderReport shows one row per admitted item in submission order. results are
// the completed outputs of the same batch, also in submission order.
func renderReport(report convert.Report, results []convert.ResultRecord, colorize bool) string {
	next := 0
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		status := string(item.State)
		output, original, size, saved := "", "", "", ""
		if item.State == convert.StateCompleted {
			if next < len(results) {
				r := results[next]
				next++
				output = r.OutputName
				original = humanize.Bytes(uint64(r.OriginalSize))
				size = humanize.Bytes(uint64(r.OutputSize))
				saved = savedPercent(r.OriginalSize, r.OutputSize)
			}
		} else if item.Error != "" {
			output = item.Error
		}
		rows = append(rows, []string{item.DisplayName, colorStatus(status, colorize), output, original, size, saved})
	}

	headers := []string{"File", "Status", "Output", "Original", "Converted", "Saved"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}
	var b strings.Builder
	b.WriteString(renderTable(headers, rows, aligns))
	fmt.Fprintf(&b, "\n%d converted, %d failed, %d rejected in %s", report.Completed, report.Failed, len(report.Rejected), report.Duration.Round(time.Millisecond))
	return b.String()
}

// savedPercent formats the size reduction from original to converted.
func savedPercent(original, converted int64) string {
	if original <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", 100*(1-float64(converted)/float64(original)))
}

func colorStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	switch convert.ItemState(status) {
	case convert.StateCompleted:
		return text.FgGreen.Sprint(status)
	case convert.StateError:
		return text.FgRed.Sprint(status)
	}
	return status
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
