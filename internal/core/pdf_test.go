package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuancheng-ma/healthfolio/internal/common"
)

type fakeRunner struct {
	lookErr error
	out     []byte
	runErr  error
	ran     bool
}

func (f *fakeRunner) Run(context.Context, string, ...string) ([]byte, error) {
	f.ran = true
	return f.out, f.runErr
}

func (f *fakeRunner) LookPath(string) (string, error) {
	if f.lookErr != nil {
		return "", f.lookErr
	}
	return "/usr/bin/pdftoppm", nil
}

func TestRasterizePDFWithoutBinary(t *testing.T) {
	runner := &fakeRunner{lookErr: errors.New("executable file not found")}
	_, err := RasterizePDF(context.Background(), runner, "in.pdf", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, common.CodeVLMPDFUnsupported, common.CodeOf(err))
	assert.False(t, runner.ran)
	// The message must point the user at an alternative workflow for PDFs.
	assert.Contains(t, err.Error(), "PDF")
	assert.Contains(t, err.Error(), "workflow")
}

func TestRasterizePDFCommandFailure(t *testing.T) {
	runner := &fakeRunner{out: []byte("Syntax Error"), runErr: errors.New("exit status 1")}
	_, err := RasterizePDF(context.Background(), runner, "in.pdf", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, common.CodeVLMPDFUnsupported, common.CodeOf(err))
	assert.Contains(t, err.Error(), "Syntax Error")
}

func TestRasterizePDFNoPagesProduced(t *testing.T) {
	// Command "succeeds" but writes nothing into the output directory.
	runner := &fakeRunner{}
	_, err := RasterizePDF(context.Background(), runner, "in.pdf", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, common.CodeVLMPDFUnsupported, common.CodeOf(err))
}
