package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marcus/paneshift/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View logs",
	Long: `View paneshift logs.

Displays recent log entries. Use --follow to stream logs in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		export, _ := cmd.Flags().GetString("export")
		component, _ := cmd.Flags().GetString("component")

		logDir := logging.DefaultConfig().Path
		if cfg, err := loadConfig(cmd); err == nil && cfg.Logging.Path != "" {
			logDir = cfg.Logging.Path
		}

		p := logPrinter{out: cmd.OutOrStdout(), component: component}
		if export != "" {
			return exportLogs(logDir, export, p.out)
		}
		if follow {
			return followLogs(logDir, tail, p)
		}
		return showLogs(logDir, tail, p)
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().StringP("export", "e", "", "Export logs to file")
	logsCmd.Flags().StringP("component", "c", "", "Only lines from this component (e.g. orchestrator, tmux)")
	rootCmd.AddCommand(logsCmd)
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Worker    *int      `json:"worker,omitempty"`
	Task      string    `json:"task,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type logPrinter struct {
	out       io.Writer
	component string
}

func getLogFiles(logDir string) ([]string, error) {
	files, err := logging.ListLogFiles(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log dir: %w", err)
	}
	return files, nil
}

func showLogs(logDir string, n int, p logPrinter) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(p.out, "No log files found.")
		return nil
	}

	for _, line := range readLastLines(files, n) {
		p.print(line)
	}
	return nil
}

func followLogs(logDir string, initialLines int, p logPrinter) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}

	if len(files) > 0 && initialLines > 0 {
		for _, line := range readLastLines(files, initialLines) {
			p.print(line)
		}
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	currentFile := currentLogFile(logDir)
	var (
		file   *os.File
		reader *bufio.Reader
	)
	if currentFile != "" {
		file, err = os.Open(currentFile)
		if err == nil {
			_, _ = file.Seek(0, io.SeekEnd)
			reader = bufio.NewReader(file)
		}
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	fmt.Fprintln(p.out, "--- Following logs (Ctrl+C to exit) ---")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Date rollover starts a new file.
			if newFile := currentLogFile(logDir); newFile != currentFile {
				if file != nil {
					file.Close()
				}
				currentFile = newFile
				file, err = os.Open(currentFile)
				if err != nil {
					file, reader = nil, nil
					continue
				}
				reader = bufio.NewReader(file)
			}

			if event.Op&fsnotify.Write == fsnotify.Write && reader != nil {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					p.print(strings.TrimSuffix(line, "\n"))
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

func exportLogs(logDir, outFile string, status io.Writer) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no log files found")
	}

	out, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()

	totalLines := 0
	// Oldest first.
	for i := len(files) - 1; i >= 0; i-- {
		for _, line := range readFileLines(files[i]) {
			if _, err := out.WriteString(line + "\n"); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			totalLines++
		}
	}

	fmt.Fprintf(status, "Exported %d log lines to %s\n", totalLines, outFile)
	return nil
}

func currentLogFile(logDir string) string {
	path := filepath.Join(logDir, fmt.Sprintf("paneshift-%s.log", time.Now().Format("2006-01-02")))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// readLastLines returns the last n lines across files, which are ordered
// newest first.
func readLastLines(files []string, n int) []string {
	var lines []string
	for _, file := range files {
		if len(lines) >= n {
			break
		}
		fileLines := readFileLines(file)
		remaining := n - len(lines)
		if len(fileLines) > remaining {
			fileLines = fileLines[len(fileLines)-remaining:]
		}
		lines = append(fileLines, lines...)
	}
	return lines
}

func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func (p logPrinter) print(line string) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		if p.component == "" {
			fmt.Fprintln(p.out, line)
		}
		return
	}
	if p.component != "" && entry.Component != p.component {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", entry.Time.Local().Format("15:04:05"), formatLogLevel(entry.Level))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	b.WriteString(" " + entry.Message)
	if entry.Worker != nil {
		fmt.Fprintf(&b, " worker=%d", *entry.Worker)
	}
	if entry.Task != "" {
		b.WriteString(" task=" + entry.Task)
	}
	if entry.Error != "" {
		b.WriteString(" error=" + entry.Error)
	}
	fmt.Fprintln(p.out, b.String())
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "---"
	default:
		if len(level) > 3 {
			level = level[:3]
		}
		return strings.ToUpper(level)
	}
}
