package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSimpleProgressBasic(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "modules")

	progress.Start(4)
	progress.Update(2)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Progress:") {
		t.Error("Expected progress output to contain 'Progress:'")
	}
	if !strings.Contains(output, "(2/4)") {
		t.Errorf("Expected intermediate count, got %q", output)
	}
	if !strings.Contains(output, "100.0%") {
		t.Errorf("Expected completion, got %q", output)
	}
	if !strings.Contains(output, "modules/s") {
		t.Errorf("Expected unit in rate, got %q", output)
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "").(*SimpleProgress)

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("expected no bar for zero total, got %q", buf.String())
	}
	if progress.unit != "items" {
		t.Errorf("unit = %q, want items", progress.unit)
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "modules")

	progress.Start(1)
	progress.Error(errors.New("bad module"))

	if !strings.Contains(buf.String(), "Error: bad module") {
		t.Errorf("expected error line, got %q", buf.String())
	}
}

func TestNopProgress(t *testing.T) {
	var p ProgressReporter = NopProgress{}
	p.Start(10)
	p.Update(5)
	p.Error(errors.New("ignored"))
	p.Finish()
}
