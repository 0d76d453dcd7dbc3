//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/property-import/internal/importer"
	"github.com/sells-group/property-import/internal/model"
)

func TestReadUploads_KeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, name := range []string{"c.pdf", "a.txt", "b.png"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("x"), i+1), 0o600))
		paths = append(paths, p)
	}

	uploads, err := readUploads(context.Background(), paths, model.DocumentDeed)
	require.NoError(t, err)
	require.Len(t, uploads, 3)

	for i, want := range []string{"c.pdf", "a.txt", "b.png"} {
		assert.Equal(t, want, uploads[i].Name)
		assert.Equal(t, model.DocumentDeed, uploads[i].DocumentType)

		rc, err := uploads[i].Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Len(t, data, i+1)
	}
	assert.Equal(t, "application/pdf", uploads[0].MimeType)
}

func TestReadUploads_MissingFile(t *testing.T) {
	_, err := readUploads(context.Background(), []string{filepath.Join(t.TempDir(), "nope.pdf")}, model.DocumentOther)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.pdf")
}

func finishedJob() model.BatchJob {
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.BatchJob{
		ID:                "6f1c2a9e-0000-4000-8000-000000000001",
		State:             model.JobStateCompleted,
		TotalFiles:        2,
		ProcessedFiles:    2,
		CompletedFiles:    []string{"a.pdf", "b.pdf"},
		TargetRecordID:    "rec-1",
		DuplicateDetected: true,
		Provider:          model.ProviderAnthropic,
		CreditsCharged:    4,
		StartedAt:         done.Add(-time.Minute),
		FinishedAt:        &done,
	}
}

func TestWriteSummary_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, "json", finishedJob()))

	var got importSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, 4, got.Credits)
	assert.True(t, got.Duplicate)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, got.Files)
}

func TestWriteSummary_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, "yaml", finishedJob()))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "completed", got["state"])
	assert.Equal(t, "rec-1", got["target_record_id"])
	assert.Equal(t, 2, got["processed_files"])
}

func TestWriteSummary_Table(t *testing.T) {
	job := finishedJob()
	job.State = model.JobStateFailed
	job.Error = "Extraction failed"

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, "table", job))
	out := buf.String()
	assert.Contains(t, out, "Files:")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "Extraction failed")
}

func TestWriteSummary_UnknownFormat(t *testing.T) {
	err := writeSummary(io.Discard, "xml", finishedJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"", "table", "json", "yaml"} {
		assert.NoError(t, validateFormat(f), f)
	}
	err := validateFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)
}

func TestImportCmd_RejectsFormatBeforeReadingFiles(t *testing.T) {
	require.NoError(t, importCmd.Flags().Set("format", "xml"))
	t.Cleanup(func() { _ = importCmd.Flags().Set("format", "table") })
	importCmd.SetContext(context.Background())

	missing := filepath.Join(t.TempDir(), "missing.pdf")
	err := importCmd.RunE(importCmd, []string{missing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
	assert.NotContains(t, err.Error(), "missing.pdf")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	printEvent := progressPrinter(&buf, "en")

	job := model.BatchJob{State: model.JobStateProcessing, TotalFiles: 2, ProcessedFiles: 1, TargetRecordID: "abcdef0123456789", DuplicateAddress: "12 oak st"}
	printEvent(importer.Event{Type: importer.EventFileStarted, FileIndex: 0, FileName: "a.pdf", Job: job})
	printEvent(importer.Event{Type: importer.EventDuplicateDetected, Job: job})
	printEvent(importer.Event{Type: importer.EventFileCompleted, Job: job})
	job.State = model.JobStateCompleted
	job.ProcessedFiles = 2
	printEvent(importer.Event{Type: importer.EventCompleted, Job: job})
	printEvent(importer.Event{Type: importer.EventCleared, Job: job})

	out := buf.String()
	assert.Contains(t, out, "[1/2] a.pdf")
	assert.Contains(t, out, "duplicate of abcdef01 (12 oak st)")
	assert.Contains(t, out, "1 of 2 files processed")
	assert.Contains(t, out, "Import complete: 2 files processed")
}
