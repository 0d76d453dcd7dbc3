package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/property-import/internal/config"
	"github.com/sells-group/property-import/internal/importer"
	"github.com/sells-group/property-import/internal/model"
)

const readConcurrency = 4

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import property documents as one batch",
	Long:  "Reads the files from disk, runs them through extraction in order and merges the results into a single property record.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		account, _ := cmd.Flags().GetString("account")
		mode, _ := cmd.Flags().GetString("mode")
		target, _ := cmd.Flags().GetString("target")
		docType, _ := cmd.Flags().GetString("type")
		key, _ := cmd.Flags().GetString("credential")
		provider, _ := cmd.Flags().GetString("provider")
		locale, _ := cmd.Flags().GetString("locale")
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}

		uploads, err := readUploads(ctx, args, model.ParseDocumentType(docType))
		if err != nil {
			return err
		}

		env, err := initApp(ctx, config.ModeImport, importer.WithObserver(progressPrinter(os.Stderr, locale)))
		if err != nil {
			return err
		}
		defer env.Close()

		req := importer.Request{
			AccountID: account,
			Files:     uploads,
			Mode:      model.ImportMode(mode),
			TargetID:  target,
			Locale:    locale,
		}
		if key != "" {
			req.Credential = &model.Credential{Provider: model.Provider(provider), APIKey: key}
		}

		if _, err := env.Orchestrator.Start(ctx, req); err != nil {
			return eris.Wrap(err, "import")
		}

		if err := env.Orchestrator.Wait(ctx); err != nil {
			zap.L().Info("interrupted, cancelling after the current file")
			env.Orchestrator.Cancel()
			_ = env.Orchestrator.Wait(context.Background())
		}

		job := env.Orchestrator.Snapshot()
		if err := writeSummary(os.Stdout, format, job); err != nil {
			return err
		}
		if job.State == model.JobStateFailed {
			return eris.Errorf("import failed: %s", job.Error)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("account", "", "account to charge (required)")
	importCmd.Flags().String("mode", string(model.ImportModeNew), "new or merge")
	importCmd.Flags().String("target", "", "record id to merge into (merge mode)")
	importCmd.Flags().String("type", string(model.DocumentOther), "document type (appraisal, inspection, deed, tax_record, listing, other)")
	importCmd.Flags().String("credential", "", "personal provider API key")
	importCmd.Flags().String("provider", string(model.ProviderAnthropic), "provider of --credential")
	importCmd.Flags().String("locale", "", "locale for status messages (en, es, fr)")
	importCmd.Flags().String("format", "table", "summary format (table, json, yaml)")
	_ = importCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(importCmd)
}

// readUploads reads every path into memory concurrently, keeping argument
// order.
func readUploads(ctx context.Context, paths []string, docType model.DocumentType) ([]importer.Upload, error) {
	uploads := make([]importer.Upload, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)

	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return eris.Wrapf(err, "read %s", p)
			}
			uploads[i] = importer.BytesUpload(filepath.Base(p), mime.TypeByExtension(filepath.Ext(p)), docType, data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uploads, nil
}

// progressPrinter writes one line per progress event.
func progressPrinter(out io.Writer, locale string) importer.Observer {
	return func(e importer.Event) {
		switch e.Type {
		case importer.EventFileStarted:
			_, _ = fmt.Fprintf(out, "[%d/%d] %s\n", e.FileIndex+1, e.Job.TotalFiles, e.FileName)
		case importer.EventDuplicateDetected:
			_, _ = fmt.Fprintf(out, "  duplicate of %s (%s)\n", truncateID(e.Job.TargetRecordID), e.Job.DuplicateAddress)
		case importer.EventFileCompleted:
			_, _ = fmt.Fprintf(out, "  %s\n", importer.StatusMessage(e.Job, locale))
		case importer.EventCompleted, importer.EventCancelled, importer.EventFailed:
			_, _ = fmt.Fprintln(out, importer.StatusMessage(e.Job, locale))
		}
	}
}

// importSummary is the printable outcome of a batch.
type importSummary struct {
	BatchID        string         `json:"batch_id" yaml:"batch_id"`
	State          model.JobState `json:"state" yaml:"state"`
	Processed      int            `json:"processed_files" yaml:"processed_files"`
	Total          int            `json:"total_files" yaml:"total_files"`
	TargetRecordID string         `json:"target_record_id,omitempty" yaml:"target_record_id,omitempty"`
	Duplicate      bool           `json:"duplicate_detected" yaml:"duplicate_detected"`
	Provider       model.Provider `json:"provider,omitempty" yaml:"provider,omitempty"`
	Credits        int            `json:"credits_charged" yaml:"credits_charged"`
	Files          []string       `json:"completed_files" yaml:"completed_files"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func summarize(job model.BatchJob) importSummary {
	return importSummary{
		BatchID:        job.ID,
		State:          job.State,
		Processed:      job.ProcessedFiles,
		Total:          job.TotalFiles,
		TargetRecordID: job.TargetRecordID,
		Duplicate:      job.DuplicateDetected,
		Provider:       job.Provider,
		Credits:        job.CreditsCharged,
		Files:          job.CompletedFiles,
		Error:          job.Error,
	}
}

// validateFormat rejects an unknown summary format before any file is read.
func validateFormat(format string) error {
	switch format {
	case "json", "yaml", "table", "":
		return nil
	default:
		return eris.Errorf("unknown format %q (table, json, yaml)", format)
	}
}

// writeSummary prints the batch outcome as a table, JSON or YAML.
func writeSummary(out io.Writer, format string, job model.BatchJob) error {
	s := summarize(job)
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Batch:\t%s\n", s.BatchID)
		_, _ = fmt.Fprintf(w, "State:\t%s\n", s.State)
		_, _ = fmt.Fprintf(w, "Files:\t%d/%d\n", s.Processed, s.Total)
		_, _ = fmt.Fprintf(w, "Record:\t%s\n", s.TargetRecordID)
		_, _ = fmt.Fprintf(w, "Duplicate:\t%t\n", s.Duplicate)
		_, _ = fmt.Fprintf(w, "Provider:\t%s\n", s.Provider)
		_, _ = fmt.Fprintf(w, "Credits:\t%d\n", s.Credits)
		if s.Error != "" {
			_, _ = fmt.Fprintf(w, "Error:\t%s\n", s.Error)
		}
		return w.Flush()
	default:
		return eris.Errorf("unknown format %q (table, json, yaml)", format)
	}
}
